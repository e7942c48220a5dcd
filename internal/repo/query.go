package repo

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"beargit/internal/chain"
	"beargit/internal/commitid"
	"beargit/internal/snapshot"
	"beargit/internal/status"
	"beargit/internal/store"
)

// MinRefLength is the shortest commit ID suffix Resolve accepts.
const MinRefLength = 4

// ErrAmbiguousRef is returned when a suffix matches more than one commit.
var ErrAmbiguousRef = errors.New("ambiguous commit reference")

// Status reports the tracked files in index order. With changed set, each
// file is compared against the HEAD commit.
func (r *Repo) Status(changed bool) (*status.Result, error) {
	names, err := r.index.Status()
	if err != nil {
		return nil, err
	}
	headID, err := r.chain.Head()
	if err != nil {
		return nil, err
	}
	if !changed {
		return status.List(headID, names), nil
	}

	var head *snapshot.Commit
	if !headID.IsSentinel() {
		head, err = snapshot.Open(r.layout, headID)
		if err != nil {
			return nil, err
		}
	}
	return status.Compare(headID, head, names, func(name string) (string, error) {
		return r.db.Digest(name, r.layout.WorkPath(name))
	})
}

// Log returns every commit, most recent first.
func (r *Repo) Log() ([]chain.Entry, error) {
	return r.chain.Log()
}

// Walk yields commits from HEAD back to the first commit.
func (r *Repo) Walk() iter.Seq2[*snapshot.Commit, error] {
	return r.chain.Walk()
}

// Resolve turns ref into the ID of a commit reachable from HEAD. ref is
// "HEAD", a full ID, or a unique suffix of at least MinRefLength symbols.
func (r *Repo) Resolve(ref string) (commitid.ID, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.EqualFold(ref, "HEAD") {
		head, err := r.chain.Head()
		if err != nil {
			return "", err
		}
		if head.IsSentinel() {
			return "", fmt.Errorf("%w: no commits yet", snapshot.ErrNoSuchCommit)
		}
		return head, nil
	}
	if len(ref) == commitid.Size {
		if _, err := commitid.Parse(ref); err != nil {
			return "", err
		}
	} else if len(ref) < MinRefLength {
		return "", fmt.Errorf("%w: %q is shorter than %d symbols", commitid.ErrInvalidID, ref, MinRefLength)
	}

	// Only commits reachable from HEAD count; a directory left by an
	// interrupted commit is not history
	var matches []commitid.ID
	for c, err := range r.chain.Walk() {
		if err != nil {
			return "", err
		}
		if strings.HasSuffix(string(c.ID()), ref) {
			matches = append(matches, c.ID())
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", snapshot.ErrNoSuchCommit, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d commits", ErrAmbiguousRef, ref, len(matches))
	}
}

// Show returns the content of name as stored in the commit ref.
func (r *Repo) Show(ref, name string) ([]byte, error) {
	id, err := r.Resolve(ref)
	if err != nil {
		return nil, err
	}
	c, err := snapshot.Open(r.layout, id)
	if err != nil {
		return nil, err
	}
	return c.ReadFile(normalizeName(name))
}

// VerifyResult is the outcome of checking one commit.
type VerifyResult struct {
	ID  commitid.ID
	Err error
}

// Verify checks the commit ref, or every commit reachable from HEAD when
// ref is empty. Per-commit problems are reported in the results; the error
// return is for failures that stop the walk.
func (r *Repo) Verify(ref string) ([]VerifyResult, error) {
	if ref != "" {
		id, err := r.Resolve(ref)
		if err != nil {
			return nil, err
		}
		c, err := snapshot.Open(r.layout, id)
		if err != nil {
			return nil, err
		}
		return []VerifyResult{{ID: id, Err: c.Verify()}}, nil
	}

	var results []VerifyResult
	for c, err := range r.chain.Walk() {
		if err != nil {
			return results, err
		}
		results = append(results, VerifyResult{ID: c.ID(), Err: c.Verify()})
	}
	return results, nil
}

// Journal returns up to limit recorded operations, newest first.
func (r *Repo) Journal(limit int) ([]store.JournalEntry, error) {
	return r.db.Journal(limit)
}
