package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile stores data at the given root-relative path. The write goes
// through a temp file in the target directory followed by a rename, so a
// failure never leaves a truncated file at the final location.
func (l *Layout) WriteFile(relative string, data []byte) error {
	const op = "storage.WriteFile"

	abs, err := l.Resolve(relative)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := l.EnsureDirectory(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(abs)+".*")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ReadFile reads a stored file by its root-relative path.
func (l *Layout) ReadFile(relative string) ([]byte, error) {
	const op = "storage.ReadFile"

	abs, err := l.Resolve(relative)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return data, nil
}

// RemoveFile deletes a stored file and prunes its now-empty bucket
// directories. A missing file is not an error: a concurrent deletion may
// have removed it already.
func (l *Layout) RemoveFile(relative string) error {
	const op = "storage.RemoveFile"

	abs, err := l.Resolve(relative)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return l.PruneEmptyAncestors(abs)
}
