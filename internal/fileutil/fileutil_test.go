package fileutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestNextIndexedPathStartsAtZero(t *testing.T) {
	root := t.TempDir()

	rel, abs, err := NextIndexedPath(root, "", "comfyui", "png")
	if err != nil {
		t.Fatal(err)
	}
	if rel != "comfyui0000.png" {
		t.Fatalf("unexpected relative path %q", rel)
	}
	if abs != filepath.Join(root, "comfyui0000.png") {
		t.Fatalf("unexpected absolute path %q", abs)
	}
}

func TestNextIndexedPathSkipsExisting(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "portraits")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"cat0000.png", "cat0001.png", "cat0003.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	rel, _, err := NextIndexedPath(root, "portraits", "cat", ".png")
	if err != nil {
		t.Fatal(err)
	}
	if rel != filepath.Join("portraits", "cat0002.png") {
		t.Fatalf("expected first gap, got %q", rel)
	}
}

func TestNextIndexedPathConfinesSubfolder(t *testing.T) {
	root := t.TempDir()

	rel, abs, err := NextIndexedPath(root, "../../escape", "x", "png")
	if err != nil {
		t.Fatal(err)
	}
	if rel != filepath.Join("escape", "x0000.png") {
		t.Fatalf("unexpected relative path %q", rel)
	}
	if filepath.Dir(abs) != filepath.Join(root, "escape") {
		t.Fatalf("path escaped root: %q", abs)
	}
}

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	if err := WriteFileAtomic(path, []byte("first"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Fatalf("content mismatch: got %q", got)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode %o", info.Mode().Perm())
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestFreeBytesReportsSpace(t *testing.T) {
	free, err := FreeBytes(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if free == 0 {
		t.Fatal("expected non-zero free space on temp dir")
	}
}

func TestSyncDirReportsFailures(t *testing.T) {
	dir := t.TempDir()
	if err := syncDir(dir); err != nil {
		t.Fatalf("sync existing dir: %v", err)
	}

	err := syncDir(filepath.Join(dir, "gone"))
	if err == nil {
		t.Fatal("expected error syncing a missing directory")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected wrapped not-exist error, got %v", err)
	}
}
