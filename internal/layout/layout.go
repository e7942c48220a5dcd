// Package layout resolves every on-disk location used by a repository.
// No other package builds repository paths by hand.
package layout

import (
	"path/filepath"

	"beargit/internal/commitid"
)

const (
	// Dir is the repository marker directory inside the working directory.
	Dir = ".beargit"

	indexFile  = ".index"
	headFile   = ".prev"
	msgFile    = ".msg"
	metaFile   = ".meta.yaml"
	lockFile   = ".lock"
	configFile = "config.yaml"
	dbFile     = "beargit.db"
	stagingPfx = ".tmp-"

	// IgnoreFile holds ignore patterns in the working directory.
	IgnoreFile = ".beargitignore"
)

// ReservedNames are the metadata names inside a commit directory. A tracked
// file with one of these names would collide with commit metadata.
var ReservedNames = []string{indexFile, headFile, msgFile, metaFile}

// Layout is rooted at a working directory.
type Layout struct {
	Root string
}

// New returns the layout for the working directory root.
func New(root string) Layout {
	return Layout{Root: root}
}

// RepoDir returns the repository marker directory.
func (l Layout) RepoDir() string { return filepath.Join(l.Root, Dir) }

// IndexPath returns the live index record.
func (l Layout) IndexPath() string { return filepath.Join(l.RepoDir(), indexFile) }

// HeadPath returns the HEAD record.
func (l Layout) HeadPath() string { return filepath.Join(l.RepoDir(), headFile) }

// LockPath returns the advisory lock file.
func (l Layout) LockPath() string { return filepath.Join(l.RepoDir(), lockFile) }

// ConfigPath returns the repository config file.
func (l Layout) ConfigPath() string { return filepath.Join(l.RepoDir(), configFile) }

// DBPath returns the metadata database.
func (l Layout) DBPath() string { return filepath.Join(l.RepoDir(), dbFile) }

// IgnorePath returns the ignore pattern file in the working directory.
func (l Layout) IgnorePath() string { return filepath.Join(l.Root, IgnoreFile) }

// WorkPath returns the working-tree path of a tracked filename.
func (l Layout) WorkPath(name string) string {
	return filepath.Join(l.Root, filepath.FromSlash(name))
}

// Commit returns the paths of the commit directory for id.
func (l Layout) Commit(id commitid.ID) CommitPaths {
	return CommitPaths{ID: id, Dir: filepath.Join(l.RepoDir(), string(id))}
}

// Staging returns the paths of the staging directory a commit for id is
// built in before it is renamed into place.
func (l Layout) Staging(id commitid.ID) CommitPaths {
	return CommitPaths{ID: id, Dir: filepath.Join(l.RepoDir(), stagingPfx+string(id))}
}

// CommitPaths is a structured handle on one commit directory.
type CommitPaths struct {
	ID  commitid.ID
	Dir string
}

// IndexPath returns the index copy taken at commit time.
func (c CommitPaths) IndexPath() string { return filepath.Join(c.Dir, indexFile) }

// ParentPath returns the record holding the parent commit ID.
func (c CommitPaths) ParentPath() string { return filepath.Join(c.Dir, headFile) }

// MessagePath returns the commit message file.
func (c CommitPaths) MessagePath() string { return filepath.Join(c.Dir, msgFile) }

// MetaPath returns the commit metadata file.
func (c CommitPaths) MetaPath() string { return filepath.Join(c.Dir, metaFile) }

// FilePath returns where the content of a tracked filename is stored.
func (c CommitPaths) FilePath(name string) string {
	return filepath.Join(c.Dir, filepath.FromSlash(name))
}
