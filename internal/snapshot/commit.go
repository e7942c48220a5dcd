package snapshot

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"beargit/internal/cas"
	"beargit/internal/commitid"
	"beargit/internal/fsutil"
	"beargit/internal/index"
	"beargit/internal/layout"
)

// Commit is a read handle on a published commit directory.
type Commit struct {
	Paths layout.CommitPaths
	// Meta is nil for commit directories written without a metadata file.
	Meta *Meta
}

// Open returns the commit stored under id.
func Open(l layout.Layout, id commitid.ID) (*Commit, error) {
	paths := l.Commit(id)
	info, err := os.Stat(paths.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchCommit, id)
		}
		return nil, fmt.Errorf("stat commit directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrCorrupt, paths.Dir)
	}

	c := &Commit{Paths: paths}
	data, err := os.ReadFile(paths.MetaPath())
	switch {
	case err == nil:
		var meta Meta
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("%w: parsing metadata of %s: %v", ErrCorrupt, id, err)
		}
		c.Meta = &meta
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	return c, nil
}

// ID returns the commit ID.
func (c *Commit) ID() commitid.ID { return c.Paths.ID }

// Parent returns the parent commit ID recorded in the commit.
func (c *Commit) Parent() (commitid.ID, error) {
	data, err := os.ReadFile(c.Paths.ParentPath())
	if err != nil {
		return "", fmt.Errorf("reading parent of %s: %w", c.ID(), err)
	}
	id, err := commitid.Parse(string(data))
	if err != nil {
		return "", fmt.Errorf("%w: parent of %s: %v", ErrCorrupt, c.ID(), err)
	}
	return id, nil
}

// Message returns the commit message.
func (c *Commit) Message() (string, error) {
	data, err := os.ReadFile(c.Paths.MessagePath())
	if err != nil {
		return "", fmt.Errorf("reading message of %s: %w", c.ID(), err)
	}
	return string(data), nil
}

// Files returns the index recorded at commit time.
func (c *Commit) Files() ([]string, error) {
	data, err := os.ReadFile(c.Paths.IndexPath())
	if err != nil {
		return nil, fmt.Errorf("reading index of %s: %w", c.ID(), err)
	}
	return index.Parse(data), nil
}

// OpenFile returns the committed content of name.
func (c *Commit) OpenFile(name string) (io.ReadCloser, error) {
	enc := EncodingRaw
	if c.Meta != nil {
		fm, ok := c.Meta.File(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrFileNotInCommit, name, c.ID())
		}
		enc = fm.Encoding
	} else if err := index.ValidateName(name); err != nil {
		return nil, err
	}

	path := c.Paths.FilePath(name)
	var (
		rc  io.ReadCloser
		err error
	)
	switch enc {
	case EncodingZstd:
		rc, err = fsutil.OpenCompressed(path + zstdSuffix)
	case EncodingRaw, "":
		rc, err = os.Open(path)
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q for %s", ErrCorrupt, enc, name)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s in %s", ErrFileNotInCommit, name, c.ID())
		}
		return nil, err
	}
	return rc, nil
}

// ReadFile returns the committed content of name.
func (c *Commit) ReadFile(name string) ([]byte, error) {
	rc, err := c.OpenFile(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Verify recomputes the digest of every stored file and compares it, along
// with the recorded index and parent pointer, against the metadata.
func (c *Commit) Verify() error {
	if c.Meta == nil {
		return fmt.Errorf("%w: %s has no metadata", ErrCorrupt, c.ID())
	}

	var errs []error
	if c.Meta.ID != string(c.ID()) {
		errs = append(errs, fmt.Errorf("%w: %s metadata names id %s", ErrCorrupt, c.ID(), c.Meta.ID))
	}
	if parent, err := c.Parent(); err != nil {
		errs = append(errs, err)
	} else if string(parent) != c.Meta.Parent {
		errs = append(errs, fmt.Errorf("%w: %s parent %s, metadata says %s", ErrCorrupt, c.ID(), parent, c.Meta.Parent))
	}

	names, err := c.Files()
	if err != nil {
		errs = append(errs, err)
	} else if len(names) != len(c.Meta.Files) {
		errs = append(errs, fmt.Errorf("%w: %s index lists %d files, metadata %d", ErrCorrupt, c.ID(), len(names), len(c.Meta.Files)))
	}

	for _, fm := range c.Meta.Files {
		if err := c.verifyFile(fm); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Commit) verifyFile(fm FileMeta) error {
	rc, err := c.OpenFile(fm.Name)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, fm.Name, err)
	}
	defer rc.Close()

	digest, size, err := cas.HashReader(rc)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrCorrupt, fm.Name, err)
	}
	if digest != fm.Digest || size != fm.Size {
		return fmt.Errorf("%w: %s in %s does not match its recorded digest", ErrCorrupt, fm.Name, c.ID())
	}
	return nil
}
