package source_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/devicetree-tools/dtbuild/internal/config"
	"github.com/devicetree-tools/dtbuild/internal/dtc"
	"github.com/devicetree-tools/dtbuild/internal/source"
	"github.com/devicetree-tools/dtbuild/internal/test/tempfs"
)

// fakeCompiler writes a blob for every request and records what it was
// asked to compile.
type fakeCompiler struct {
	dir      string
	requests []dtc.CompileRequest
}

func (c *fakeCompiler) Compile(_ context.Context, req dtc.CompileRequest) (string, error) {
	c.requests = append(c.requests, req)
	out := filepath.Join(c.dir, req.Name+".dtb")
	if err := os.WriteFile(out, []byte("blob:"+req.Name), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func TestResolveDtsSource(t *testing.T) {
	compiler := &fakeCompiler{dir: t.TempDir()}
	r := &source.Resolver{Compiler: compiler, WorkDir: t.TempDir()}

	pkg := &config.Package{
		Name:      "custom",
		KernelDir: "/kernel",
		DtsSource: &config.DtsSource{
			Name:    "top",
			DtsFile: "/src/top.dts",
			DtsText: "/dts-v1/; ignored when a file is given",
		},
		// Filter is ignored on the DTS branch, by contract.
		Filter: "*rpi*.dtb",
	}

	baseDir, err := r.Resolve(t.Context(), pkg)
	if err != nil {
		t.Fatal(err)
	}

	if len(compiler.requests) != 1 {
		t.Fatalf("expected one compile, got %d", len(compiler.requests))
	}
	req := compiler.requests[0]
	if req.DtsFile != "/src/top.dts" {
		t.Fatalf("expected dts_file to take precedence over dts_text, got %q", req.DtsFile)
	}
	if req.KernelDir != "/kernel" {
		t.Fatalf("expected kernel dir to be forwarded, got %q", req.KernelDir)
	}

	bs, err := os.ReadFile(filepath.Join(baseDir, "top.dtb"))
	if err != nil {
		t.Fatal(err)
	}
	if string(bs) != "blob:top" {
		t.Fatalf("unexpected blob content: %q", bs)
	}
}

func TestResolvePassthroughWithoutFilter(t *testing.T) {
	tempfs.WithTempFS(t, map[string]string{
		"dtbs/bcm2711-rpi-4-b.dtb": "rpi4",
	}, func(t *testing.T, root string) {
		r := &source.Resolver{}

		pkg := &config.Package{
			Name:         "all",
			DtbSourceDir: filepath.Join(root, "dtbs"),
		}

		baseDir, err := r.Resolve(t.Context(), pkg)
		if err != nil {
			t.Fatal(err)
		}

		if baseDir != pkg.DtbSourceDir {
			t.Fatalf("expected source directory to pass through unchanged, got %q", baseDir)
		}
	})
}

func TestResolveFilteredCopy(t *testing.T) {
	tempfs.WithTempFS(t, map[string]string{
		"dtbs/broadcom/bcm2711-rpi-4-b.dtb": "rpi4",
		"dtbs/broadcom/bcm2837-rpi-3-b.dtb": "rpi3",
		"dtbs/qcom/sdm845-db845c.dtb":       "db845c",
		"dtbs/overlays/readme.txt":          "not a blob",
	}, func(t *testing.T, root string) {
		r := &source.Resolver{WorkDir: t.TempDir()}

		pkg := &config.Package{
			Name:         "rpi",
			DtbSourceDir: filepath.Join(root, "dtbs"),
			Filter:       "*rpi*.dtb",
		}

		baseDir, err := r.Resolve(t.Context(), pkg)
		if err != nil {
			t.Fatal(err)
		}
		if baseDir == pkg.DtbSourceDir {
			t.Fatal("expected a derived directory, not the source directory")
		}

		var got []string
		if err := filepath.WalkDir(baseDir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				rel, _ := filepath.Rel(baseDir, path)
				got = append(got, filepath.ToSlash(rel))
			}
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		sort.Strings(got)

		exp := []string{
			"broadcom/bcm2711-rpi-4-b.dtb",
			"broadcom/bcm2837-rpi-3-b.dtb",
		}
		if diff := cmp.Diff(exp, got); diff != "" {
			t.Errorf("filtered base set: (-want,+got)\n%s", diff)
		}

		// Directories whose every file was filtered out must not be copied.
		if _, err := os.Stat(filepath.Join(baseDir, "qcom")); !os.IsNotExist(err) {
			t.Fatalf("expected qcom to be pruned from the base set, got %v", err)
		}
	})
}

func TestResolveNoSourceConfigured(t *testing.T) {
	r := &source.Resolver{}

	if _, err := r.Resolve(t.Context(), &config.Package{Name: "empty"}); err == nil {
		t.Fatal("expected error for package without any base source")
	}
}
