// Package index stores the ordered list of tracked filenames.
//
// The index record holds one filename per line in insertion order. Every
// update rewrites the whole record through a temp file and a rename, so a
// reader never observes a partial update.
package index

import (
	"errors"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"

	"beargit/internal/fsutil"
	"beargit/internal/layout"
)

var (
	// ErrAlreadyTracked is returned by Add for a name already in the index.
	ErrAlreadyTracked = errors.New("already tracked")
	// ErrNotTracked is returned by Remove for a name missing from the index.
	ErrNotTracked = errors.New("not tracked")
	// ErrInvalidName is returned for names that cannot be tracked.
	ErrInvalidName = errors.New("invalid filename")
	// ErrNoSuchFile is returned when a name to track is not a regular file.
	ErrNoSuchFile = errors.New("no such file")
	// ErrIgnored is returned when a name to track matches an ignore pattern.
	ErrIgnored = errors.New("ignored")
)

// FileError reports an index failure for a specific filename.
type FileError struct {
	Name string
	Err  error
}

func (e *FileError) Error() string {
	switch e.Err {
	case ErrAlreadyTracked:
		return fmt.Sprintf("File %s already added", e.Name)
	case ErrNotTracked:
		return fmt.Sprintf("File %s is not tracked", e.Name)
	case ErrNoSuchFile:
		return fmt.Sprintf("File %s does not exist", e.Name)
	case ErrIgnored:
		return fmt.Sprintf("File %s is ignored", e.Name)
	}
	return fmt.Sprintf("File %s: %v", e.Name, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Store is the index record at a fixed path.
type Store struct {
	path string
}

// New returns the store backed by the record at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the record location.
func (s *Store) Path() string { return s.path }

// Create writes an empty index record.
func (s *Store) Create() error {
	if err := fsutil.WriteFileAtomic(s.path, nil, 0644); err != nil {
		return fmt.Errorf("creating index: %w", err)
	}
	return nil
}

// Load returns the tracked filenames in insertion order.
func (s *Store) Load() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	return Parse(data), nil
}

// Status returns the tracked filenames for display.
func (s *Store) Status() ([]string, error) {
	return s.Load()
}

// Add appends name to the index.
func (s *Store) Add(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	names, err := s.Load()
	if err != nil {
		return err
	}
	if slices.Contains(names, name) {
		return &FileError{Name: name, Err: ErrAlreadyTracked}
	}
	return s.save(append(names, name))
}

// Remove drops name from the index, keeping the order of the rest.
func (s *Store) Remove(name string) error {
	names, err := s.Load()
	if err != nil {
		return err
	}
	i := slices.Index(names, name)
	if i < 0 {
		return &FileError{Name: name, Err: ErrNotTracked}
	}
	return s.save(slices.Delete(names, i, i+1))
}

func (s *Store) save(names []string) error {
	if err := fsutil.WriteFileAtomic(s.path, Encode(names), 0644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}

// Parse decodes an index record. Blank lines are not filenames and are
// skipped; a trailing carriage return is tolerated.
func Parse(data []byte) []string {
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	return names
}

// Encode produces an index record for names.
func Encode(names []string) []byte {
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// ValidateName checks that name is a clean, slash-separated path relative to
// the working directory that can be stored in a commit.
func ValidateName(name string) error {
	invalid := func(reason string) error {
		return &FileError{Name: name, Err: fmt.Errorf("%w: %s", ErrInvalidName, reason)}
	}

	switch {
	case name == "":
		return invalid("empty name")
	case strings.ContainsAny(name, "\n\r\x00"):
		return invalid("contains a line break or NUL")
	case strings.HasPrefix(name, "/"):
		return invalid("absolute path")
	case path.Clean(name) != name:
		return invalid("not a clean relative path")
	case name == ".." || strings.HasPrefix(name, "../"):
		return invalid("outside the working directory")
	}

	first, _, _ := strings.Cut(name, "/")
	if first == layout.Dir || first == "." {
		return invalid("inside the repository directory")
	}
	if slices.Contains(layout.ReservedNames, name) {
		return invalid("reserved for commit metadata")
	}
	return nil
}
