// Package repo is the repository facade: the user-visible operations, each
// orchestrating the index, the commit chain, and the metadata store.
package repo

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"slices"

	"beargit/internal/chain"
	"beargit/internal/commitid"
	"beargit/internal/config"
	"beargit/internal/ignore"
	"beargit/internal/index"
	"beargit/internal/layout"
	"beargit/internal/lock"
	"beargit/internal/snapshot"
	"beargit/internal/store"
)

var (
	// ErrNotInitialized is returned by Open when the marker directory is missing.
	ErrNotInitialized = errors.New("not a beargit repository (run 'beargit init')")
	// ErrAlreadyInitialized is returned by Init when a repository exists.
	ErrAlreadyInitialized = errors.New("beargit repository already initialized")

	// Re-exported so callers of the facade need not import index.
	ErrAlreadyTracked = index.ErrAlreadyTracked
	ErrNotTracked     = index.ErrNotTracked
	ErrInvalidName    = index.ErrInvalidName
	ErrNoSuchFile     = index.ErrNoSuchFile
	ErrIgnored        = index.ErrIgnored
	ErrInvalidMessage = chain.ErrInvalidMessage
)

// Options configures Init and Open.
type Options struct {
	// Logger receives debug output. When nil, debug output goes to stderr if
	// the repository config enables it and is discarded otherwise.
	Logger *log.Logger
	// Warnings receives non-fatal problems. Defaults to stderr.
	Warnings io.Writer
}

// Repo is an open repository rooted at a working directory.
type Repo struct {
	layout layout.Layout
	cfg    *config.Config
	index  *index.Store
	chain  *chain.Chain
	db     *store.DB
	ignore *ignore.Matcher
	logger *log.Logger
	warn   *log.Logger
}

// Init creates a repository in the working directory root. It refuses to
// touch an existing repository so history is never silently discarded. If
// any step fails the partly built repository directory is removed.
func Init(root string, opts Options) (r *Repo, err error) {
	l := layout.New(root)
	if _, err := os.Stat(l.RepoDir()); err == nil {
		return nil, ErrAlreadyInitialized
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("checking %s: %w", l.RepoDir(), err)
	}

	// Environment overrides must be valid before anything is created
	if _, err := config.Load(l.ConfigPath()); err != nil {
		return nil, err
	}

	if err := os.Mkdir(l.RepoDir(), 0755); err != nil {
		return nil, fmt.Errorf("creating %s directory: %w", layout.Dir, err)
	}
	defer func() {
		if err == nil {
			return
		}
		if r != nil {
			r.Close()
			r = nil
		}
		if rmErr := os.RemoveAll(l.RepoDir()); rmErr != nil {
			err = errors.Join(err, fmt.Errorf("removing partial repository: %w", rmErr))
		}
	}()

	if err := index.New(l.IndexPath()).Create(); err != nil {
		return nil, err
	}
	if err := config.Default().Save(l.ConfigPath()); err != nil {
		return nil, err
	}
	if err := chain.New(l, nil, nil).InitHead(); err != nil {
		return nil, err
	}

	r, err = open(l, opts)
	if err != nil {
		return nil, err
	}
	r.record(store.OpInit, "", "", commitid.Sentinel)
	r.logger.Printf("initialized repository in %s", l.RepoDir())
	return r, nil
}

// Open opens the repository in the working directory root. There is no
// search of parent directories.
func Open(root string, opts Options) (*Repo, error) {
	l := layout.New(root)
	info, err := os.Stat(l.RepoDir())
	if err != nil || !info.IsDir() {
		return nil, ErrNotInitialized
	}
	return open(l, opts)
}

func open(l layout.Layout, opts Options) (*Repo, error) {
	cfg, err := config.Load(l.ConfigPath())
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		out := io.Discard
		if cfg.Debug {
			out = os.Stderr
		}
		logger = log.New(out, "beargit: ", log.LstdFlags)
	}
	warnings := opts.Warnings
	if warnings == nil {
		warnings = os.Stderr
	}

	m, err := ignore.Load(l.Root)
	if err != nil {
		return nil, fmt.Errorf("loading ignore patterns: %w", err)
	}

	db, err := store.Open(l.DBPath())
	if err != nil {
		return nil, err
	}

	writer := snapshot.NewWriter(l, cfg.Compression, logger)
	return &Repo{
		layout: l,
		cfg:    cfg,
		index:  index.New(l.IndexPath()),
		chain:  chain.New(l, writer, logger),
		db:     db,
		ignore: m,
		logger: logger,
		warn:   log.New(warnings, "warning: ", 0),
	}, nil
}

// Close releases the metadata store.
func (r *Repo) Close() error {
	return r.db.Close()
}

// Root returns the working directory.
func (r *Repo) Root() string { return r.layout.Root }

// Head returns the most recent commit ID, or the sentinel.
func (r *Repo) Head() (commitid.ID, error) { return r.chain.Head() }

// withLock runs fn while holding the repository lock.
func (r *Repo) withLock(fn func() error) error {
	l, err := lock.Acquire(r.layout.LockPath(), r.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Release(); err != nil {
			r.warn.Printf("%v", err)
		}
	}()
	return fn()
}

// record journals a completed operation. The operation already happened, so
// a journal failure is only a warning.
func (r *Repo) record(op store.Op, arg string, before, after commitid.ID) {
	if err := r.db.Record(op, arg, string(before), string(after)); err != nil {
		r.warn.Printf("%v", err)
	}
}

// normalizeName turns a user-supplied path into index form.
func normalizeName(name string) string {
	if name == "" {
		return name
	}
	return path.Clean(filepath.ToSlash(name))
}

// Add starts tracking name, which must be an existing regular file that is
// not ignored. A name already in the index is reported as such even when the
// working file has since gone.
func (r *Repo) Add(name string) error {
	name = normalizeName(name)
	if err := index.ValidateName(name); err != nil {
		return err
	}

	return r.withLock(func() error {
		names, err := r.index.Load()
		if err != nil {
			return err
		}
		if slices.Contains(names, name) {
			return &index.FileError{Name: name, Err: index.ErrAlreadyTracked}
		}
		if r.ignore.Match(name, false) {
			return &index.FileError{Name: name, Err: index.ErrIgnored}
		}
		info, err := os.Stat(r.layout.WorkPath(name))
		if err != nil || !info.Mode().IsRegular() {
			return &index.FileError{Name: name, Err: index.ErrNoSuchFile}
		}

		if err := r.index.Add(name); err != nil {
			return err
		}
		head, _ := r.chain.Head()
		r.record(store.OpAdd, name, head, head)
		r.logger.Printf("tracking %s", name)
		return nil
	})
}

// Remove stops tracking name. The working file is left alone.
func (r *Repo) Remove(name string) error {
	name = normalizeName(name)
	return r.withLock(func() error {
		if err := r.index.Remove(name); err != nil {
			return err
		}
		if err := r.db.Forget(name); err != nil {
			r.logger.Printf("dropping cached digest of %s: %v", name, err)
		}
		head, _ := r.chain.Head()
		r.record(store.OpRemove, name, head, head)
		r.logger.Printf("untracked %s", name)
		return nil
	})
}

// Commit snapshots every tracked file with message and returns the new
// commit ID. An invalid message is rejected before anything is touched.
func (r *Repo) Commit(message string) (commitid.ID, error) {
	if err := chain.ValidateMessage(message); err != nil {
		return "", err
	}

	var id commitid.ID
	err := r.withLock(func() error {
		names, err := r.index.Load()
		if err != nil {
			return err
		}
		before, err := r.chain.Head()
		if err != nil {
			return err
		}
		c, err := r.chain.Append(names, message)
		if err != nil {
			return err
		}
		id = c.ID()
		r.record(store.OpCommit, message, before, id)
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
