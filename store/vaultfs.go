package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Backend is the byte-oriented storage a vault persists through.
// WriteAtomic must leave either the old or the new content at path, never a mix.
type Backend interface {
	Read(path string) ([]byte, error)
	WriteAtomic(path string, data []byte) error
	Rename(oldPath, newPath string) error
	Size(path string) (int64, error)
}

// FS stores vault files on the local filesystem using temp file + rename.
// Writes to the same path are queued, never interleaved.
type FS struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// beforeRename runs after the temp file is durable and before the swap.
	beforeRename func(tmpPath string) error
}

// NewFS returns a filesystem backend.
func NewFS() *FS {
	return &FS{locks: make(map[string]*sync.Mutex)}
}

func (f *FS) pathLock(path string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks == nil {
		f.locks = make(map[string]*sync.Mutex)
	}
	key := filepath.Clean(path)
	l, ok := f.locks[key]
	if !ok {
		l = &sync.Mutex{}
		f.locks[key] = l
	}
	return l
}

// Read returns the file content. A missing file yields an error matching os.ErrNotExist.
func (f *FS) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// WriteAtomic persists data with restrictive permissions and swaps it into place.
func (f *FS) WriteAtomic(path string, data []byte) error {
	l := f.pathLock(path)
	l.Lock()
	defer l.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tmp.Chmod(0o600); err != nil && runtime.GOOS != "windows" {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if f.beforeRename != nil {
		if err := f.beforeRename(tmpPath); err != nil {
			return err
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}

	syncDir(dir)
	return nil
}

// Rename moves a file aside, e.g. to quarantine an unreadable vault.
func (f *FS) Rename(oldPath, newPath string) error {
	l := f.pathLock(oldPath)
	l.Lock()
	defer l.Unlock()

	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(oldPath), err)
	}
	return nil
}

// Size reports the on-disk size of path.
func (f *FS) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// QuarantinePath names the file an unreadable vault is moved to.
func QuarantinePath(path string, now time.Time) string {
	return fmt.Sprintf("%s.corrupt-%s", path, now.UTC().Format("20060102T150405Z"))
}

// syncDir flushes the directory entry after a rename. Best effort.
func syncDir(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
