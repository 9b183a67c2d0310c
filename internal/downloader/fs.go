package downloader

import (
	"os"
)

// OSFileChecker reports regular files on the local filesystem.
type OSFileChecker struct{}

// CheckFileExists reports whether path names an existing regular file.
func (OSFileChecker) CheckFileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}
