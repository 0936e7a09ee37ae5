// Package fsys provides the narrow file-system surface the repository and the
// orchestrator depend on.
package fsys

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// DeleteOptions controls Delete.
type DeleteOptions struct {
	Recursive bool
}

// Stat holds the metadata callers need about a file.
type Stat struct {
	ModTime time.Time
	Size    int64
	IsDir   bool
}

// FileSystem is the file-system collaborator.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	CreateDirectory(path string) error
	Delete(path string, opts DeleteOptions) error
	Stat(path string) (Stat, error)
	ReadDir(path string) ([]DirEntry, error)
}

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Billy implements FileSystem on top of a billy filesystem.
type Billy struct {
	fs billy.Filesystem
}

// NewBilly wraps fs.
func NewBilly(fs billy.Filesystem) *Billy {
	return &Billy{fs: fs}
}

// OS returns a FileSystem backed by the host file system. Paths are absolute.
func OS() *Billy {
	return NewBilly(osfs.New(string(filepath.Separator)))
}

// Memory returns an empty in-memory FileSystem.
func Memory() *Billy {
	return NewBilly(memfs.New())
}

func (b *Billy) ReadFile(path string) ([]byte, error) {
	f, err := b.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func (b *Billy) WriteFile(path string, data []byte) error {
	if err := util.WriteFile(b.fs, path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (b *Billy) CreateDirectory(path string) error {
	if err := b.fs.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}

// Delete removes path. Deleting a path that does not exist is not an error.
func (b *Billy) Delete(path string, opts DeleteOptions) error {
	var err error
	if opts.Recursive {
		err = util.RemoveAll(b.fs, path)
	} else {
		err = b.fs.Remove(path)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

func (b *Billy) Stat(path string) (Stat, error) {
	info, err := b.fs.Stat(path)
	if err != nil {
		return Stat{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Stat{ModTime: info.ModTime(), Size: info.Size(), IsDir: info.IsDir()}, nil
}

// ReadDir lists path sorted by name.
func (b *Billy) ReadDir(path string) ([]DirEntry, error) {
	infos, err := b.fs.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", path, err)
	}
	entries := make([]DirEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, DirEntry{Name: info.Name(), IsDir: info.IsDir()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
