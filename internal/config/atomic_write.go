package config

import (
	"os"
	"path/filepath"
)

// AtomicWrite replaces the file at path with data via a same-directory temp
// file and rename, so a crash mid-write never leaves a half-written config
// behind. An existing file keeps its permission bits; a new one starts at
// 0600, matching the restrictive default for workspace config.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	perm := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".")
	if err != nil {
		return err
	}
	if err := writeAndRename(tmp, path, data, perm); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

func writeAndRename(tmp *os.File, path string, data []byte, perm os.FileMode) error {
	defer tmp.Close()

	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
