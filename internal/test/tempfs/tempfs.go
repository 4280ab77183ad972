package tempfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WithTempFS creates a temporary directory tree populated with the given
// files (paths relative to the root, contents verbatim) and invokes f with
// the root path. The tree is removed when the test finishes.
func WithTempFS(t *testing.T, files map[string]string, f func(t *testing.T, root string)) {
	t.Helper()

	root := t.TempDir()

	for path, content := range files {
		abs := filepath.Join(root, strings.TrimPrefix(path, "/"))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	f(t, root)
}
