// Package scratch holds uploads on disk for the lifetime of one request.
package scratch

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type Dir struct {
	Path string
}

// File is a request-owned scratch file.
type File struct {
	Path string
}

// Write copies r into a new file named by a random UUID. The extension of
// originalName is kept so decoders can sniff by name; it defaults to .jpg.
func (d Dir) Write(r io.Reader, originalName string) (*File, error) {
	dir := d.Path
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" || len(ext) > 5 {
		ext = ".jpg"
	}
	path := filepath.Join(dir, uuid.New().String()+ext)

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	f := &File{Path: path}

	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		f.Remove()
		return nil, err
	}
	if err := out.Close(); err != nil {
		f.Remove()
		return nil, err
	}
	return f, nil
}

// Remove deletes the file. A file that is already gone is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
