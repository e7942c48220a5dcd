// Package snapshot writes and reads commit directories.
//
// A commit directory holds the index at commit time, the parent commit ID,
// the message, a metadata file with per-file digests, and one content copy
// per tracked file. Directories are built under a staging name and renamed
// into place, so a commit directory is never observed half-written.
package snapshot

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"beargit/internal/cas"
	"beargit/internal/commitid"
	"beargit/internal/config"
	"beargit/internal/fsutil"
	"beargit/internal/index"
	"beargit/internal/layout"
)

var (
	// ErrNoSuchCommit is returned when no directory exists for a commit ID.
	ErrNoSuchCommit = errors.New("no such commit")
	// ErrFileNotInCommit is returned for a filename the commit did not track.
	ErrFileNotInCommit = errors.New("file not in commit")
	// ErrCorrupt is returned when stored content disagrees with its metadata.
	ErrCorrupt = errors.New("commit is corrupt")
)

// Encoding is how one file's content is stored.
type Encoding string

const (
	EncodingRaw  Encoding = "raw"
	EncodingZstd Encoding = "zstd"
)

// zstdSuffix is appended to the stored name of compressed content.
const zstdSuffix = ".zst"

// FileMeta describes one stored file.
type FileMeta struct {
	Name     string   `yaml:"name"`
	Digest   string   `yaml:"digest"`
	Size     int64    `yaml:"size"`
	Encoding Encoding `yaml:"encoding"`
}

// Meta is the content of a commit's metadata file.
type Meta struct {
	ID        string     `yaml:"id"`
	Parent    string     `yaml:"parent"`
	CreatedAt int64      `yaml:"created_at"`
	Files     []FileMeta `yaml:"files"`
}

// File returns the metadata for name.
func (m *Meta) File(name string) (FileMeta, bool) {
	i := slices.IndexFunc(m.Files, func(f FileMeta) bool { return f.Name == name })
	if i < 0 {
		return FileMeta{}, false
	}
	return m.Files[i], true
}

// Writer materializes commit directories.
type Writer struct {
	layout      layout.Layout
	compression config.Compression
	logger      *log.Logger
}

// NewWriter returns a Writer for the repository at l. A nil logger discards
// debug output.
func NewWriter(l layout.Layout, compression config.Compression, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Writer{layout: l, compression: compression, logger: logger}
}

// Write creates the commit directory for id. names is the index at commit
// time; each name's working-tree content is copied into the commit. On
// failure nothing is left behind under id or its staging name.
func (w *Writer) Write(id, parent commitid.ID, names []string, message string) (c *Commit, err error) {
	staging := w.layout.Staging(id)
	if err := os.RemoveAll(staging.Dir); err != nil {
		return nil, fmt.Errorf("clearing staging directory: %w", err)
	}
	if err := os.Mkdir(staging.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(staging.Dir)
		}
	}()

	if err := os.WriteFile(staging.IndexPath(), index.Encode(names), 0644); err != nil {
		return nil, fmt.Errorf("writing commit index: %w", err)
	}
	if err := os.WriteFile(staging.ParentPath(), []byte(parent), 0644); err != nil {
		return nil, fmt.Errorf("writing parent pointer: %w", err)
	}

	meta := &Meta{
		ID:        string(id),
		Parent:    string(parent),
		CreatedAt: cas.NowMs(),
		Files:     make([]FileMeta, 0, len(names)),
	}
	for _, name := range names {
		fm, err := w.copyFile(staging, name)
		if err != nil {
			return nil, fmt.Errorf("snapshotting %s: %w", name, err)
		}
		meta.Files = append(meta.Files, fm)
	}

	if err := os.WriteFile(staging.MessagePath(), []byte(message), 0644); err != nil {
		return nil, fmt.Errorf("writing message: %w", err)
	}
	metaData, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := os.WriteFile(staging.MetaPath(), metaData, 0644); err != nil {
		return nil, fmt.Errorf("writing metadata: %w", err)
	}

	final := w.layout.Commit(id)
	// HEAD never names an ID beyond its successor, so anything already at
	// this path is an orphan from an interrupted commit.
	if fsutil.Exists(final.Dir) {
		w.logger.Printf("reclaiming orphaned commit directory %s", final.Dir)
		if err := os.RemoveAll(final.Dir); err != nil {
			return nil, fmt.Errorf("removing orphaned commit directory: %w", err)
		}
	}
	if err := os.Rename(staging.Dir, final.Dir); err != nil {
		return nil, fmt.Errorf("publishing commit directory: %w", err)
	}

	w.logger.Printf("wrote commit %s (%d files, parent %s)", id.Short(), len(meta.Files), parent.Short())
	return &Commit{Paths: final, Meta: meta}, nil
}

func (w *Writer) copyFile(staging layout.CommitPaths, name string) (FileMeta, error) {
	src := w.layout.WorkPath(name)
	dst := staging.FilePath(name)

	var res *fsutil.CopyResult
	var err error
	enc := EncodingRaw
	if w.compression == config.CompressionZstd {
		enc = EncodingZstd
		res, err = fsutil.CopyFileCompressed(src, dst+zstdSuffix)
	} else {
		res, err = fsutil.CopyFile(src, dst)
	}
	if err != nil {
		return FileMeta{}, err
	}
	return FileMeta{Name: name, Digest: res.Digest, Size: res.Size, Encoding: enc}, nil
}
