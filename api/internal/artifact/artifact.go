// Package artifact manages the per-request scratch files of the resize pipeline.
// Every File must be released by its owner, usually with defer right after Create.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const ext = ".jpg"

type Dir struct {
	root string
}

// Open ensures root exists.
func Open(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("temp dir %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Path() string { return d.root }

type File struct {
	*os.File
	path string
	once sync.Once
	err  error
}

// Create opens a new exclusive file named <label>-<uuid>.jpg.
func (d *Dir) Create(label string) (*File, error) {
	p := filepath.Join(d.root, label+"-"+uuid.NewString()+ext)
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	return &File{File: f, path: p}, nil
}

func (f *File) Path() string { return f.path }

// Release closes and removes the file. Safe to call more than once.
func (f *File) Release() error {
	f.once.Do(func() {
		_ = f.File.Close()
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.err = err
		}
	})
	return f.err
}

// Sweep removes artifacts left behind by a previous process and reports how
// many were deleted. Foreign files in the directory are not touched.
func (d *Dir) Sweep() (int, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !owned(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(d.root, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, err
		}
		n++
	}
	return n, nil
}

func owned(name string) bool {
	base, ok := strings.CutSuffix(name, ext)
	if !ok || len(base) < 37 || base[len(base)-37] != '-' {
		return false
	}
	_, err := uuid.Parse(base[len(base)-36:])
	return err == nil
}
