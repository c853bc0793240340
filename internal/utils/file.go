package utils

import (
	"errors"
	"io/fs"
	"os"
)

func EnsureDir(path string) error {
	Logf("mkdir: %s", path)
	return os.MkdirAll(path, 0o755)
}

func FileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// RemoveQuiet deletes path and reports whether it was removed. A missing file is not an error;
// other failures are logged and swallowed.
func RemoveQuiet(path string) bool {
	if path == "" {
		return false
	}
	err := os.Remove(path)
	if err == nil {
		Debug("removed", "path", path)
		return true
	}
	if !errors.Is(err, fs.ErrNotExist) {
		Warn("remove failed", "path", path, "err", err)
	}
	return false
}

func DirExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
