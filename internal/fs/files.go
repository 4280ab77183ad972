package fs

import (
	"errors"
	"io/fs"
)

// errFound stops the walk as soon as the first file turns up.
var errFound = errors.New("file found")

// FSContainsFiles reports whether the filesystem holds at least one file.
// Base-set resolution probes a filtered view with it to warn about filters
// that match nothing.
func FSContainsFiles(fsys fs.FS) (bool, error) {
	err := fs.WalkDir(fsys, ".", func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return errFound
		}
		return nil
	})
	if errors.Is(err, errFound) {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, err
}
