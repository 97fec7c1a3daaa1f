package lockfile

import (
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.lock")
	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	lock2, err := Acquire(path)
	if err != nil {
		t.Fatalf("expected to re-acquire after release: %v", err)
	}
	_ = lock2.Release()
}

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.lock")
	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lock.Release()

	if _, err := Acquire(path); err == nil {
		t.Fatal("expected second acquire on the same path to fail")
	}
}
