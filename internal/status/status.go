// Package status reports the tracked files, optionally marking how each one
// differs from the HEAD commit.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"beargit/internal/commitid"
	"beargit/internal/snapshot"
)

// Header labels the tracked-file list.
const Header = "Tracked Files:"

// State is a tracked file's condition relative to HEAD.
type State string

const (
	// StateUnknown is used when changes were not computed.
	StateUnknown State = ""
	// StateUnchanged means the working file matches HEAD.
	StateUnchanged State = "unchanged"
	// StateAdded means HEAD does not contain the file.
	StateAdded State = "added"
	// StateModified means the working file differs from HEAD.
	StateModified State = "modified"
	// StateDeleted means the working file is missing.
	StateDeleted State = "deleted"
)

// Marker returns the one-letter marker printed for s.
func (s State) Marker() string {
	switch s {
	case StateAdded:
		return "A"
	case StateModified:
		return "M"
	case StateDeleted:
		return "D"
	}
	return " "
}

// Entry is one tracked file.
type Entry struct {
	Name  string `json:"name"`
	State State  `json:"state,omitempty"`
}

// Result is a status report.
type Result struct {
	Head    commitid.ID `json:"head"`
	Entries []Entry     `json:"files"`
	// Changed is set when entry states were computed.
	Changed bool `json:"changed"`
}

// DigestFunc returns the current content digest of a tracked file.
type DigestFunc func(name string) (string, error)

// List builds a report without change states.
func List(head commitid.ID, names []string) *Result {
	r := &Result{Head: head, Entries: make([]Entry, 0, len(names))}
	for _, n := range names {
		r.Entries = append(r.Entries, Entry{Name: n})
	}
	return r
}

// Compare builds a report with each file's state relative to the head
// commit. head may be nil when there are no commits yet.
func Compare(headID commitid.ID, head *snapshot.Commit, names []string, digest DigestFunc) (*Result, error) {
	r := &Result{Head: headID, Changed: true, Entries: make([]Entry, 0, len(names))}
	for _, name := range names {
		state, err := compareOne(head, name, digest)
		if err != nil {
			return nil, fmt.Errorf("comparing %s: %w", name, err)
		}
		r.Entries = append(r.Entries, Entry{Name: name, State: state})
	}
	return r, nil
}

func compareOne(head *snapshot.Commit, name string, digest DigestFunc) (State, error) {
	current, err := digest(name)
	if errors.Is(err, os.ErrNotExist) {
		return StateDeleted, nil
	}
	if err != nil {
		return StateUnknown, err
	}

	if head == nil || head.Meta == nil {
		return StateAdded, nil
	}
	fm, ok := head.Meta.File(name)
	if !ok {
		return StateAdded, nil
	}
	if fm.Digest != current {
		return StateModified, nil
	}
	return StateUnchanged, nil
}

// OutputFormat specifies how to format status output.
type OutputFormat int

const (
	// FormatDefault prints the header and one name per line
	FormatDefault OutputFormat = iota
	// FormatJSON outputs structured JSON
	FormatJSON
)

// WriteOutput writes r to w.
func WriteOutput(w io.Writer, r *Result, format OutputFormat) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	if _, err := fmt.Fprintln(w, Header); err != nil {
		return err
	}
	for _, e := range r.Entries {
		var err error
		if r.Changed {
			_, err = fmt.Fprintf(w, "%s %s\n", e.State.Marker(), e.Name)
		} else {
			_, err = fmt.Fprintln(w, e.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
