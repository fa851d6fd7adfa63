package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteSizedFile creates path, standing in for a downloaded or encoded
// artifact of exactly size bytes, and returns the path.
func WriteSizedFile(t testing.TB, path string, size int64) string {
	t.Helper()
	if size < 0 {
		size = 0
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, int(size)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// RequireEmptyDir fails when dir still holds entries. A missing directory
// counts as empty.
func RequireEmptyDir(t testing.TB, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		t.Fatalf("expected %s to be empty, found %v", dir, names)
	}
}
