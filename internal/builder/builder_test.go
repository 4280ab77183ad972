package builder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/devicetree-tools/dtbuild/internal/builder"
	"github.com/devicetree-tools/dtbuild/internal/config"
	"github.com/devicetree-tools/dtbuild/internal/dtc"
	"github.com/devicetree-tools/dtbuild/internal/overlay"
	"github.com/devicetree-tools/dtbuild/internal/test/tempfs"
)

type fakeCompiler struct {
	dir      string
	compiled []string
}

func (c *fakeCompiler) Compile(_ context.Context, req dtc.CompileRequest) (string, error) {
	c.compiled = append(c.compiled, req.Name)
	out := filepath.Join(c.dir, req.Name+".dtb")
	if err := os.WriteFile(out, []byte("blob:"+req.Name), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

type fakeApplier struct {
	calls    int
	baseDir  string
	overlays []config.Overlay
	out      string
}

func (a *fakeApplier) Apply(_ context.Context, baseDir string, overlays []config.Overlay) (string, error) {
	a.calls++
	a.baseDir = baseDir
	a.overlays = overlays
	return a.out, nil
}

func TestBuildNoOverlaysReturnsBaseSet(t *testing.T) {
	tempfs.WithTempFS(t, map[string]string{
		"dtbs/bcm2711-rpi-4-b.dtb": "rpi4",
	}, func(t *testing.T, root string) {
		applier := &fakeApplier{out: "/should/not/be/used"}

		pkg := &config.Package{
			Name:         "plain",
			DtbSourceDir: filepath.Join(root, "dtbs"),
		}

		out, err := builder.New().
			WithPackage(pkg).
			WithApplier(applier).
			Build(t.Context())
		if err != nil {
			t.Fatal(err)
		}

		if out != pkg.DtbSourceDir {
			t.Fatalf("expected base set to be the package output, got %q", out)
		}
		if applier.calls != 0 {
			t.Fatalf("expected applier not to be invoked, got %d calls", applier.calls)
		}
	})
}

func TestBuildCompilesBaseAndOverlay(t *testing.T) {
	compiler := &fakeCompiler{dir: t.TempDir()}
	applier := &fakeApplier{out: "/final/pkg"}

	pkg := &config.Package{
		Name:      "custom",
		KernelDir: "/kernel",
		DtsSource: &config.DtsSource{
			Name:    "top",
			DtsText: "/dts-v1/; / { };",
		},
		Overlays: []config.Overlay{
			{Name: "pps", DtsText: "/dts-v1/; /plugin/; / { };"},
		},
	}

	out, err := builder.New().
		WithPackage(pkg).
		WithCompiler(compiler).
		WithApplier(applier).
		WithWorkDir(t.TempDir()).
		Build(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if out != "/final/pkg" {
		t.Fatalf("expected applier output to be the package, got %q", out)
	}

	// Exactly two compiles: the base source, then the overlay.
	if diff := cmp.Diff([]string{"top", "pps-dtbo"}, compiler.compiled); diff != "" {
		t.Errorf("compiled names: (-want,+got)\n%s", diff)
	}

	if applier.calls != 1 {
		t.Fatalf("expected one applier invocation, got %d", applier.calls)
	}
	if _, err := os.Stat(filepath.Join(applier.baseDir, "top.dtb")); err != nil {
		t.Fatalf("expected top.dtb in base set: %v", err)
	}
	if len(applier.overlays) != 1 || applier.overlays[0].DtboFile == "" {
		t.Fatalf("expected normalized overlays, got %+v", applier.overlays)
	}
}

func TestBuildInvalidOverlaysAbortBeforeCompile(t *testing.T) {
	compiler := &fakeCompiler{dir: t.TempDir()}
	applier := &fakeApplier{}

	pkg := &config.Package{
		Name:      "broken",
		KernelDir: "/kernel",
		DtsSource: &config.DtsSource{Name: "top", DtsText: "/dts-v1/; / { };"},
		Overlays: []config.Overlay{
			{Name: "good", DtsText: "/dts-v1/; /plugin/; / { };"},
			{Name: "bad"},
			{Name: "also-bad"},
		},
	}

	_, err := builder.New().
		WithPackage(pkg).
		WithCompiler(compiler).
		WithApplier(applier).
		Build(t.Context())

	var invalid *overlay.InvalidSpecError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidSpecError, got %v", err)
	}
	if diff := cmp.Diff([]string{"also-bad", "bad"}, invalid.Names, cmpopts.SortSlices(strings.Compare)); diff != "" {
		t.Errorf("invalid names: (-want,+got)\n%s", diff)
	}

	if len(compiler.compiled) != 0 {
		t.Fatalf("expected no compiles for invalid configuration, got %v", compiler.compiled)
	}
	if applier.calls != 0 {
		t.Fatalf("expected no applier invocation, got %d", applier.calls)
	}
}

func TestBuildNoPackage(t *testing.T) {
	if _, err := builder.New().Build(t.Context()); err == nil {
		t.Fatal("expected error when no package is configured")
	}
}
