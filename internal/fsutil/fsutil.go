// Package fsutil provides the file primitives the repository is built on:
// atomic record replacement and content copies for snapshots.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"beargit/internal/cas"
)

// WriteFileAtomic replaces path with data. The content is written to a
// temporary file in the same directory and renamed over path, so readers
// observe either the old record or the new one.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// CopyResult describes a completed content copy.
type CopyResult struct {
	// Digest is the BLAKE3 hex digest of the source content.
	Digest string
	// Size is the number of source bytes copied.
	Size int64
}

// CopyFile copies the content of src to dst, creating parent directories of
// dst as needed. The digest is computed over the bytes read from src.
func CopyFile(src, dst string) (*CopyResult, error) {
	return copyWith(src, dst, func(w io.Writer) (io.WriteCloser, error) {
		return nopWriteCloser{w}, nil
	})
}

// CopyFileCompressed is CopyFile with the destination zstd-compressed.
// The digest and size still describe the uncompressed source.
func CopyFileCompressed(src, dst string) (*CopyResult, error) {
	return copyWith(src, dst, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w)
	})
}

func copyWith(src, dst string, wrap func(io.Writer) (io.WriteCloser, error)) (*CopyResult, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return nil, fmt.Errorf("creating parent of %s: %w", dst, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	enc, err := wrap(out)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("creating encoder: %w", err)
	}

	hasher := cas.NewBlake3Hasher()
	n, err := io.Copy(io.MultiWriter(enc, hasher), in)
	if err != nil {
		enc.Close()
		out.Close()
		return nil, fmt.Errorf("copying %s: %w", src, err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return nil, fmt.Errorf("flushing %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	return &CopyResult{Digest: fmt.Sprintf("%x", hasher.Sum(nil)), Size: n}, nil
}

// OpenCompressed opens a zstd-compressed file for reading its original content.
func OpenCompressed(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &decoderCloser{dec: dec, f: f}, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type decoderCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (d *decoderCloser) Read(p []byte) (int, error) { return d.dec.Read(p) }

func (d *decoderCloser) Close() error {
	d.dec.Close()
	return d.f.Close()
}
