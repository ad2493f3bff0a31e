package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRotatingFileIsPrivate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	path := filepath.Join(dir, "audit.log")
	w, err := newRotatingFile(AuditConfig{Path: path})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Close()
	if _, err := w.Write([]byte("{\"msg\":\"api_request\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %o", info.Mode().Perm())
	}
	dirInfo, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat dir: %v", err)
	}
	if dirInfo.Mode().Perm() != 0o700 {
		t.Fatalf("expected dir 0700, got %o", dirInfo.Mode().Perm())
	}
	if w.maxSize != DefaultAuditMaxSizeMB<<20 || w.maxBackups != DefaultAuditMaxBackups {
		t.Fatalf("defaults not applied: %d %d", w.maxSize, w.maxBackups)
	}
}

func TestOpenPrivateTightensExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rayfine.log")
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f, err := openPrivate(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.Close()
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %o", info.Mode().Perm())
	}
}

func TestRotatingFileShiftsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newRotatingFile(AuditConfig{Path: path, MaxBackups: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Close()
	w.maxSize = 8

	for _, line := range []string{"first\n", "second\n", "third\n", "fourth\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	current, _ := os.ReadFile(path)
	one, _ := os.ReadFile(path + ".1")
	two, _ := os.ReadFile(path + ".2")
	if !bytes.Equal(current, []byte("fourth\n")) || !bytes.Equal(one, []byte("third\n")) || !bytes.Equal(two, []byte("second\n")) {
		t.Fatalf("unexpected rotation: %q %q %q", current, one, two)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("backups beyond the limit must be removed")
	}
}

func TestRotatingFilePrunesOldBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newRotatingFile(AuditConfig{Path: path, MaxBackups: 3, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Close()
	w.maxSize = 4

	stale := path + ".2"
	if err := os.WriteFile(stale, []byte("stale\n"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	old := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	_, _ = w.Write([]byte("aaaa"))
	_, _ = w.Write([]byte("bbbb"))

	// the stale backup was shifted to .3 and then pruned
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("expected stale backup to be pruned")
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("fresh backup missing: %v", err)
	}
}
