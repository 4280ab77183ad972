// Package dtc wraps the external device-tree tooling: the C preprocessor
// plus dtc for DTS compilation, and fdtoverlay for patching base blobs with
// overlays. Both tools are consumed as opaque executables; this package owns
// argument assembly, temp-file plumbing and error surfacing only.
package dtc

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/devicetree-tools/dtbuild/internal/config"
	"github.com/devicetree-tools/dtbuild/internal/logging"
)

// CompileRequest carries everything needed to turn one DTS into a blob.
type CompileRequest struct {
	// Name identifies the unit in logs and errors and becomes the output
	// file's base name, <name>.dtb.
	Name string

	// KernelDir supplies the first preprocessor include path,
	// <kernel_dir>/include, so user paths can shadow kernel bindings only
	// deliberately.
	KernelDir string

	// DtsFile is preferred; DtsText is materialized to a temp file verbatim
	// when no file is given.
	DtsFile string
	DtsText string

	Flags config.BuildFlags
}

// Compiler compiles a device-tree source into a DTB and returns its path.
type Compiler interface {
	Compile(ctx context.Context, req CompileRequest) (string, error)
}

// Applier applies an ordered list of overlays on top of a base DTB
// directory and returns the patched output directory.
type Applier interface {
	Apply(ctx context.Context, baseDir string, overlays []config.Overlay) (string, error)
}

// ExecCompiler shells out to cpp and dtc.
type ExecCompiler struct {
	// WorkDir receives compiled blobs and materialized sources. A fresh
	// temp directory is used if empty.
	WorkDir string

	// Binary overrides, for non-standard toolchain locations.
	CppBin string
	DtcBin string

	Log *logging.Logger
}

func (c *ExecCompiler) Compile(ctx context.Context, req CompileRequest) (string, error) {
	workDir, err := c.workDir(req.Name)
	if err != nil {
		return "", fmt.Errorf("compile %q: %w", req.Name, err)
	}

	dtsFile := req.DtsFile
	if dtsFile == "" {
		dtsFile = filepath.Join(workDir, req.Name+".dts")
		if err := os.WriteFile(dtsFile, []byte(req.DtsText), 0o644); err != nil {
			return "", fmt.Errorf("compile %q: %w", req.Name, err)
		}
	}

	preprocessed := filepath.Join(workDir, req.Name+".pre.dts")
	args := []string{"-nostdinc", "-undef", "-D__DTS__", "-x", "assembler-with-cpp"}
	for _, dir := range includePaths(req) {
		args = append(args, "-I", dir)
	}
	args = append(args, req.Flags.ExtraPreprocessorFlags...)
	args = append(args, "-o", preprocessed, dtsFile)

	if err := c.run(ctx, cmp.Or(c.CppBin, "cpp"), args); err != nil {
		return "", fmt.Errorf("compile %q: %w", req.Name, err)
	}

	out := filepath.Join(workDir, req.Name+".dtb")
	if err := c.run(ctx, cmp.Or(c.DtcBin, "dtc"), []string{"-I", "dts", "-O", "dtb", "-@", "-o", out, preprocessed}); err != nil {
		return "", fmt.Errorf("compile %q: %w", req.Name, err)
	}

	return out, nil
}

// includePaths assembles the preprocessor search path: the kernel include
// prefix always comes first, then user extras in declared order.
func includePaths(req CompileRequest) []string {
	paths := make([]string, 0, len(req.Flags.ExtraIncludePaths)+1)
	if req.KernelDir != "" {
		paths = append(paths, filepath.Join(req.KernelDir, "include"))
	}
	return append(paths, req.Flags.ExtraIncludePaths...)
}

func (c *ExecCompiler) workDir(name string) (string, error) {
	if c.WorkDir != "" {
		dir := filepath.Join(c.WorkDir, name)
		return dir, os.MkdirAll(dir, 0o755)
	}
	return os.MkdirTemp("", "dtbuild-"+name+"-")
}

func (c *ExecCompiler) run(ctx context.Context, bin string, args []string) error {
	if c.Log != nil {
		c.Log.Debugf("exec: %s %s", bin, strings.Join(args, " "))
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", bin, err, msg)
		}
		return fmt.Errorf("%s: %w", bin, err)
	}
	return nil
}

// ExecApplier shells out to fdtoverlay, patching each matching base file in
// place in a copied output directory.
type ExecApplier struct {
	// WorkDir receives the patched DTB tree. A fresh temp directory is used
	// if empty.
	WorkDir string

	FdtoverlayBin string

	Log *logging.Logger
}

func (a *ExecApplier) Apply(ctx context.Context, baseDir string, overlays []config.Overlay) (string, error) {
	outDir, err := a.outDir()
	if err != nil {
		return "", err
	}

	// Copy the whole base set first; non-DTB files ride along untouched.
	if err := os.CopyFS(outDir, os.DirFS(baseDir)); err != nil {
		return "", fmt.Errorf("failed to copy base DTBs from %s: %w", baseDir, err)
	}

	targets, err := dtbFiles(outDir)
	if err != nil {
		return "", err
	}

	// Application order determines final-state precedence on overlapping
	// nodes; the overlay list is applied strictly in declared order.
	for _, o := range overlays {
		var g glob.Glob
		if o.Filter != "" {
			if g, err = glob.Compile(o.Filter); err != nil {
				return "", fmt.Errorf("overlay %q: failed to compile filter %q: %w", o.Name, o.Filter, err)
			}
		}

		for _, target := range targets {
			if g != nil && !g.Match(filepath.Base(target)) {
				continue
			}
			if err := a.overlay(ctx, target, o); err != nil {
				return "", err
			}
		}
	}

	return outDir, nil
}

func (a *ExecApplier) overlay(ctx context.Context, target string, o config.Overlay) error {
	if a.Log != nil {
		a.Log.Debugf("applying overlay %q to %s", o.Name, target)
	}

	patched := target + ".tmp"

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmp.Or(a.FdtoverlayBin, "fdtoverlay"), "-i", target, "-o", patched, o.DtboFile)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("overlay %q on %s: %w: %s", o.Name, filepath.Base(target), err, msg)
		}
		return fmt.Errorf("overlay %q on %s: %w", o.Name, filepath.Base(target), err)
	}

	return os.Rename(patched, target)
}

func (a *ExecApplier) outDir() (string, error) {
	if a.WorkDir != "" {
		return a.WorkDir, os.MkdirAll(a.WorkDir, 0o755)
	}
	return os.MkdirTemp("", "dtbuild-dtbs-")
}

// dtbFiles returns every .dtb under dir, sorted for deterministic
// application order.
func dtbFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".dtb") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}
