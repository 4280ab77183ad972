package service_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/devicetree-tools/dtbuild/internal/config"
	"github.com/devicetree-tools/dtbuild/internal/dtc"
	"github.com/devicetree-tools/dtbuild/internal/logging"
	"github.com/devicetree-tools/dtbuild/internal/service"
)

type fakeCompiler struct {
	dir string
}

func (c *fakeCompiler) Compile(_ context.Context, req dtc.CompileRequest) (string, error) {
	out := filepath.Join(c.dir, req.Name+".dtb")
	if err := os.WriteFile(out, []byte("blob:"+req.Name), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

type fakeApplier struct{}

func (fakeApplier) Apply(_ context.Context, baseDir string, _ []config.Overlay) (string, error) {
	return baseDir, nil
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: logging.LevelError, Output: io.Discard})
}

func TestRunBuildsEnabledPackages(t *testing.T) {
	root, err := config.Parse([]byte(`{
		"packages": {
			"rpi4": {
				"enabled": true,
				"kernel_dir": "/kernel",
				"dts_source": {"name": "top", "dts_text": "/dts-v1/; / { };"}
			},
			"skipped": {
				"kernel_dir": "/kernel",
				"dts_source": {"name": "top", "dts_text": "/dts-v1/; / { };"}
			}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	results, err := service.New(root, testLogger()).
		WithCompiler(&fakeCompiler{dir: t.TempDir()}).
		WithApplier(fakeApplier{}).
		WithWorkDir(t.TempDir()).
		Run(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 1 {
		t.Fatalf("expected one result, got %v", results)
	}
	if _, ok := results["rpi4"]; !ok {
		t.Fatalf("expected rpi4 to be built, got %v", results)
	}
}

func TestRunFirstFailureWins(t *testing.T) {
	root, err := config.Parse([]byte(`{
		"packages": {
			"ok": {
				"enabled": true,
				"kernel_dir": "/kernel",
				"dts_source": {"name": "top", "dts_text": "/dts-v1/; / { };"}
			},
			"broken": {
				"enabled": true,
				"kernel_dir": "/kernel",
				"dts_source": {"name": "top", "dts_text": "/dts-v1/; / { };"},
				"overlays": [{"name": "bad"}]
			}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	results, err := service.New(root, testLogger()).
		WithCompiler(&fakeCompiler{dir: t.TempDir()}).
		WithApplier(fakeApplier{}).
		WithWorkDir(t.TempDir()).
		Run(t.Context())
	if err == nil {
		t.Fatal("expected build failure")
	}
	if results != nil {
		t.Fatalf("expected no results on failure, got %v", results)
	}
}

func TestRunParallelWorkers(t *testing.T) {
	root, err := config.Parse([]byte(`{
		"packages": {
			"a": {"enabled": true, "kernel_dir": "/k", "dts_source": {"name": "a", "dts_text": "/dts-v1/; / { };"}},
			"b": {"enabled": true, "kernel_dir": "/k", "dts_source": {"name": "b", "dts_text": "/dts-v1/; / { };"}},
			"c": {"enabled": true, "kernel_dir": "/k", "dts_source": {"name": "c", "dts_text": "/dts-v1/; / { };"}}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	results, err := service.New(root, testLogger()).
		WithCompiler(&fakeCompiler{dir: t.TempDir()}).
		WithApplier(fakeApplier{}).
		WithWorkDir(t.TempDir()).
		WithWorkers(3).
		Run(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for name := range results {
		names = append(names, name)
	}
	if diff := cmp.Diff(3, len(names)); diff != "" {
		t.Errorf("built packages: (-want,+got)\n%s", diff)
	}
}
