// Package vault is the storage the sync engine writes notes and
// attachments into.
package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// ErrExists is returned when creating something that is already present.
var ErrExists = errors.New("already exists")

// ErrParentMissing is returned by CreateFolder when the parent folder has
// not been created.
var ErrParentMissing = errors.New("parent folder does not exist")

// Storage is the vault contract the sync engine depends on. Paths are
// vault-relative and slash-separated.
type Storage interface {
	Exists(p string) (bool, error)
	CreateFolder(p string) error
	CreateBinaryFile(p string, data []byte) error
}

// FS implements Storage over an afero filesystem.
type FS struct {
	fs afero.Fs
}

// New wraps an arbitrary afero filesystem.
func New(fsys afero.Fs) *FS {
	return &FS{fs: fsys}
}

// NewOS returns a vault rooted at dir on the local disk. Paths cannot
// escape dir.
func NewOS(dir string) *FS {
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// NewMemory returns an empty in-memory vault.
func NewMemory() *FS {
	return New(afero.NewMemMapFs())
}

// Fs exposes the underlying filesystem.
func (v *FS) Fs() afero.Fs { return v.fs }

// Exists reports whether a file or folder exists at p.
func (v *FS) Exists(p string) (bool, error) {
	ok, err := afero.Exists(v.fs, clean(p))
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", p, err)
	}
	return ok, nil
}

// CreateFolder creates exactly one folder level. The parent must exist and
// p must not.
func (v *FS) CreateFolder(p string) error {
	p = clean(p)

	if parent := path.Dir(p); parent != "." && parent != "/" {
		ok, err := afero.DirExists(v.fs, parent)
		if err != nil {
			return fmt.Errorf("checking parent of %s: %w", p, err)
		}
		if !ok {
			return fmt.Errorf("creating folder %s: %w", p, ErrParentMissing)
		}
	}

	if err := v.fs.Mkdir(p, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("creating folder %s: %w", p, ErrExists)
		}
		return fmt.Errorf("creating folder %s: %w", p, err)
	}
	return nil
}

// CreateBinaryFile writes data to a new file at p. An existing file is
// never overwritten. A partially written file is removed.
func (v *FS) CreateBinaryFile(p string, data []byte) error {
	p = clean(p)

	f, err := v.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("creating file %s: %w", p, ErrExists)
		}
		return fmt.Errorf("creating file %s: %w", p, err)
	}

	_, writeErr := f.Write(data)
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = v.fs.Remove(p)
		return fmt.Errorf("writing file %s: %w", p, err)
	}
	return nil
}

// ReadFile returns the content of the file at p.
func (v *FS) ReadFile(p string) ([]byte, error) {
	data, err := afero.ReadFile(v.fs, clean(p))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

// List returns the names of the entries of folder p, sorted.
func (v *FS) List(p string) ([]string, error) {
	infos, err := afero.ReadDir(v.fs, clean(p))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", p, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// EnsureFolder creates every missing segment of p in order.
func EnsureFolder(s Storage, p string) error {
	p = clean(p)
	if p == "." || p == "" {
		return nil
	}

	current := ""
	for _, segment := range strings.Split(p, "/") {
		if segment == "" {
			continue
		}
		current = path.Join(current, segment)

		ok, err := s.Exists(current)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := s.CreateFolder(current); err != nil && !errors.Is(err, ErrExists) {
			return err
		}
	}
	return nil
}

// Join builds a vault path from segments.
func Join(elem ...string) string {
	return path.Join(elem...)
}

// clean normalizes a vault path, dropping leading slashes.
func clean(p string) string {
	return strings.TrimLeft(path.Clean("/"+p), "/")
}
