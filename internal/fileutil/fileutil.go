package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxIndexedProbe bounds NextIndexedPath so a full directory cannot spin forever.
const maxIndexedProbe = 100000

// NextIndexedPath returns the first "<prefix><NNNN>.<ext>" name under
// root/subfolder that does not exist yet, probing from index 0. It returns the
// path relative to root alongside the absolute path and creates the target
// directory when missing.
func NextIndexedPath(root, subfolder, prefix, ext string) (string, string, error) {
	subfolder = strings.Trim(filepath.Clean("/"+subfolder), "/")
	dir := filepath.Join(root, subfolder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output directory: %w", err)
	}
	ext = strings.TrimPrefix(ext, ".")
	for index := 0; index < maxIndexedProbe; index++ {
		name := fmt.Sprintf("%s%04d.%s", prefix, index, ext)
		absolute := filepath.Join(dir, name)
		_, err := os.Lstat(absolute)
		if errors.Is(err, fs.ErrNotExist) {
			return filepath.Join(subfolder, name), absolute, nil
		}
		if err != nil {
			return "", "", fmt.Errorf("probe %s: %w", absolute, err)
		}
	}
	return "", "", fmt.Errorf("no free index for prefix %q in %s", prefix, dir)
}

// WriteFileAtomic writes data to a temp file beside path, fsyncs it, and renames
// it into place so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into place: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	handle, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory for sync: %w", err)
	}
	defer handle.Close()
	if err := handle.Sync(); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}
