// Package archive extracts uploaded ZIP packages into scoped working
// directories.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

var (
	// ErrCorruptArchive is returned when the input is not a readable ZIP.
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrExtraction is returned when an entry cannot be written to disk.
	ErrExtraction = errors.New("extraction failure")
)

// WorkDir is a scratch directory owned by a single pipeline run.
type WorkDir struct {
	Root string
}

// NewWorkDir creates a unique scratch directory under root. An empty root
// uses the OS temp directory.
func NewWorkDir(root, pattern string) (*WorkDir, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create scratch root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, sanitizePattern(pattern)+"-*")
	if err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	return &WorkDir{Root: dir}, nil
}

// Path joins elems under the working directory.
func (w *WorkDir) Path(elems ...string) string {
	return filepath.Join(append([]string{w.Root}, elems...)...)
}

// Release removes the working directory and everything in it.
func (w *WorkDir) Release() error {
	return os.RemoveAll(w.Root)
}

// ExtractFile extracts the ZIP at zipPath into dest.
func ExtractFile(zipPath, dest string) (int, error) {
	f, err := os.Open(zipPath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}
	return Extract(f, info.Size(), dest)
}

// Extract writes every entry of the ZIP read from r into dest, preserving
// relative paths. It returns the number of files written.
func Extract(r io.ReaderAt, size int64, dest string) (int, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	written := 0
	for _, f := range zr.File {
		target, err := entryPath(dest, f.Name)
		if err != nil {
			return written, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return written, fmt.Errorf("%w: %v", ErrExtraction, err)
			}
			continue
		}
		if err := extractEntry(f, target); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func extractEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrCorruptArchive, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) {
			return fmt.Errorf("%w: %s: %v", ErrCorruptArchive, f.Name, err)
		}
		return fmt.Errorf("%w: write %s: %v", ErrExtraction, f.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return nil
}

// entryPath resolves name under dest and rejects entries that would escape it.
func entryPath(dest, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: entry %q escapes the extraction directory", ErrExtraction, name)
	}
	return target, nil
}

func sanitizePattern(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "run"
	}
	return s
}
