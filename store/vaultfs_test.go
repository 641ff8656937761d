package store

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestWriteAtomicCreatesFileWithRestrictivePerms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "vault.json")
	fs := NewFS()

	if err := fs.WriteAtomic(path, []byte("v1")); err != nil {
		t.Fatalf("WriteAtomic returned error: %v", err)
	}

	got, err := fs.Read(path)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected v1, got %q", got)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Fatalf("expected 0600 permissions, got %o", perm)
		}
	}

	size, err := fs.Size(path)
	if err != nil || size != 2 {
		t.Fatalf("expected size 2, got %d (err=%v)", size, err)
	}
}

func TestReadMissingFileIsNotExist(t *testing.T) {
	_, err := NewFS().Read(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestCrashBeforeRenameKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.json")
	fs := NewFS()

	if err := fs.WriteAtomic(path, []byte("old")); err != nil {
		t.Fatalf("initial write: %v", err)
	}

	crash := errors.New("simulated crash")
	fs.beforeRename = func(string) error { return crash }

	if err := fs.WriteAtomic(path, []byte("new")); !errors.Is(err, crash) {
		t.Fatalf("expected simulated crash, got %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read after crash: %v", err)
	}
	if string(got) != "old" {
		t.Fatalf("previous content must survive, got %q", got)
	}

	// The orphaned temp file is left behind, exactly as a real crash would.
	matches, _ := filepath.Glob(filepath.Join(dir, "vault.json.*.tmp"))
	if len(matches) != 1 {
		t.Fatalf("expected one orphaned temp file, got %v", matches)
	}
}

func TestConcurrentWritesAreSerialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	fs := NewFS()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte{byte('a' + i%26)}
			if err := fs.WriteAtomic(path, payload); err != nil {
				t.Errorf("write %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := fs.Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected a single complete payload, got %q", got)
	}
}

func TestRenameMovesFileAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.json")
	fs := NewFS()
	if err := fs.WriteAtomic(path, []byte("garbage")); err != nil {
		t.Fatalf("write: %v", err)
	}

	aside := QuarantinePath(path, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if filepath.Base(aside) != "vault.json.corrupt-20260102T030405Z" {
		t.Fatalf("unexpected quarantine name %q", aside)
	}
	if err := fs.Rename(path, aside); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("original path should be gone, got %v", err)
	}
	if got, _ := os.ReadFile(aside); string(got) != "garbage" {
		t.Fatalf("quarantined content mismatch: %q", got)
	}
}
