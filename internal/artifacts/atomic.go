package artifacts

import (
	"os"
	"path/filepath"
)

// writeFileAtomic writes data next to path and renames it into place.
// Each writer gets its own temp file, so concurrent writers of the same
// path never interleave; the last rename wins.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}

// WriteFile atomically writes an artifact blob to path
func WriteFile(path string, data []byte) error {
	return writeFileAtomic(path, data)
}
