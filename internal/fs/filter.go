package fs

import (
	"fmt"
	"io/fs"

	"github.com/gobwas/glob"
)

// filterFS wraps an fs.FS so that only files matching the include patterns
// (all files, if none are given) and none of the exclude patterns are
// visible. Patterns are matched against the slash-separated path relative to
// the filesystem root. Directories stay visible only while at least one file
// beneath them survives the filter, so copies of the view contain no empty
// directories.
type filterFS struct {
	fsys     fs.FS
	included []glob.Glob
	excluded []glob.Glob
}

func NewFilterFS(fsys fs.FS, included, excluded []string) (fs.FS, error) {
	f := &filterFS{fsys: fsys}

	for _, pattern := range included {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile include pattern %q: %w", pattern, err)
		}
		f.included = append(f.included, g)
	}

	for _, pattern := range excluded {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile exclude pattern %q: %w", pattern, err)
		}
		f.excluded = append(f.excluded, g)
	}

	return f, nil
}

func (f *filterFS) keep(path string) bool {
	for _, g := range f.excluded {
		if g.Match(path) {
			return false
		}
	}

	if len(f.included) == 0 {
		return true
	}

	for _, g := range f.included {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func (f *filterFS) Open(name string) (fs.File, error) {
	file, err := f.fsys.Open(name)
	if err != nil {
		return nil, err
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if !fi.IsDir() && !f.keep(name) {
		file.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}

	return file, nil
}

func (f *filterFS) ReadDir(name string) ([]fs.DirEntry, error) {
	entries, err := fs.ReadDir(f.fsys, name)
	if err != nil {
		return nil, err
	}

	kept := entries[:0]
	for _, e := range entries {
		p := e.Name()
		if name != "." {
			p = name + "/" + p
		}
		if e.IsDir() {
			if f.dirHasFiles(p) {
				kept = append(kept, e)
			}
		} else if f.keep(p) {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

// dirHasFiles reports whether any file under dir survives the filter. A
// read error keeps the directory visible so the error surfaces on access.
func (f *filterFS) dirHasFiles(dir string) bool {
	entries, err := fs.ReadDir(f.fsys, dir)
	if err != nil {
		return true
	}
	for _, e := range entries {
		p := dir + "/" + e.Name()
		if e.IsDir() {
			if f.dirHasFiles(p) {
				return true
			}
		} else if f.keep(p) {
			return true
		}
	}
	return false
}
