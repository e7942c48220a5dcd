// Package chain maintains the commit history: the HEAD record, appending
// commits, and walking back from HEAD through recorded parent pointers.
//
// HEAD is the single source of truth for history membership. A commit
// directory that HEAD's chain does not reach is never reported.
package chain

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"os"
	"strings"

	"beargit/internal/commitid"
	"beargit/internal/fsutil"
	"beargit/internal/layout"
	"beargit/internal/snapshot"
)

// RequiredPhrase must appear in every commit message.
const RequiredPhrase = "GO BEARS!"

var (
	// ErrInvalidMessage is returned for messages without RequiredPhrase.
	ErrInvalidMessage = fmt.Errorf("Message must contain %q", RequiredPhrase)
	// ErrCycle is returned when a parent pointer revisits a commit.
	ErrCycle = errors.New("commit chain loops back on itself")
)

// ValidateMessage checks that msg contains RequiredPhrase.
func ValidateMessage(msg string) error {
	if !strings.Contains(msg, RequiredPhrase) {
		return ErrInvalidMessage
	}
	return nil
}

// Entry is one commit as reported by Log.
type Entry struct {
	ID      commitid.ID
	Message string
	// CreatedAt is milliseconds since epoch, zero when unrecorded.
	CreatedAt int64
}

// Chain is the commit history of one repository.
type Chain struct {
	layout layout.Layout
	writer *snapshot.Writer
	logger *log.Logger
}

// New returns the chain for the repository at l, writing new commits with w.
func New(l layout.Layout, w *snapshot.Writer, logger *log.Logger) *Chain {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Chain{layout: l, writer: w, logger: logger}
}

// InitHead points HEAD at the sentinel.
func (c *Chain) InitHead() error {
	return c.setHead(commitid.Sentinel)
}

// Head returns the most recent commit ID, or the sentinel.
func (c *Chain) Head() (commitid.ID, error) {
	data, err := os.ReadFile(c.layout.HeadPath())
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	id, err := commitid.Parse(string(data))
	if err != nil {
		return "", fmt.Errorf("parsing HEAD: %w", err)
	}
	return id, nil
}

func (c *Chain) setHead(id commitid.ID) error {
	if err := fsutil.WriteFileAtomic(c.layout.HeadPath(), []byte(id), 0644); err != nil {
		return fmt.Errorf("writing HEAD: %w", err)
	}
	return nil
}

// Append records a new commit of the tracked names with message and makes
// it HEAD. The caller holds the repository lock. If any step fails HEAD is
// left where it was.
func (c *Chain) Append(names []string, message string) (*snapshot.Commit, error) {
	if err := ValidateMessage(message); err != nil {
		return nil, err
	}

	head, err := c.Head()
	if err != nil {
		return nil, err
	}
	next, err := commitid.Next(head)
	if err != nil {
		return nil, fmt.Errorf("deriving commit id: %w", err)
	}

	commit, err := c.writer.Write(next, head, names, message)
	if err != nil {
		return nil, err
	}

	if err := c.setHead(next); err != nil {
		// The directory is unreachable now; drop it rather than leave an orphan
		if rmErr := os.RemoveAll(commit.Paths.Dir); rmErr != nil {
			c.logger.Printf("leaving orphaned commit directory %s: %v", commit.Paths.Dir, rmErr)
		}
		return nil, err
	}

	c.logger.Printf("HEAD %s -> %s", head.Short(), next.Short())
	return commit, nil
}

// Walk yields commits from HEAD back to the first commit. Iteration stops at
// the first error, which is yielded with a nil commit.
func (c *Chain) Walk() iter.Seq2[*snapshot.Commit, error] {
	return func(yield func(*snapshot.Commit, error) bool) {
		id, err := c.Head()
		if err != nil {
			yield(nil, err)
			return
		}

		seen := make(map[commitid.ID]bool)
		for !id.IsSentinel() {
			if seen[id] {
				yield(nil, fmt.Errorf("%w at %s", ErrCycle, id))
				return
			}
			seen[id] = true

			commit, err := snapshot.Open(c.layout, id)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(commit, nil) {
				return
			}

			id, err = commit.Parent()
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// Log returns every commit's ID and message, most recent first.
func (c *Chain) Log() ([]Entry, error) {
	var entries []Entry
	for commit, err := range c.Walk() {
		if err != nil {
			return nil, err
		}
		msg, err := commit.Message()
		if err != nil {
			return nil, err
		}
		e := Entry{ID: commit.ID(), Message: msg}
		if commit.Meta != nil {
			e.CreatedAt = commit.Meta.CreatedAt
		}
		entries = append(entries, e)
	}
	return entries, nil
}
