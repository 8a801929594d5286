package pipeline

import (
	"io/fs"
	"os"
)

// entryType returns the type of the file behind a directory entry, following a symlink to its
// target. A dangling link reports the Stat error.
func entryType(path string, d fs.DirEntry) (fs.FileMode, error) {
	if d.Type()&fs.ModeSymlink == 0 {
		return d.Type(), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Mode().Type(), nil
}
