// Package source establishes the base DTB set for a package: a single blob
// compiled from a DTS source, or a directory of pre-built blobs optionally
// narrowed by a glob filter.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/devicetree-tools/dtbuild/internal/config"
	"github.com/devicetree-tools/dtbuild/internal/dtc"
	ocfs "github.com/devicetree-tools/dtbuild/internal/fs"
	"github.com/devicetree-tools/dtbuild/internal/logging"
)

type Resolver struct {
	Compiler dtc.Compiler

	// WorkDir receives derived base directories. A fresh temp directory is
	// used if empty.
	WorkDir string

	Log *logging.Logger
}

// Resolve produces the directory holding the package's base DTB set.
//
// With a DTS source the single compiled blob lands in a fresh directory as
// <name>.dtb; the package filter is silently ignored on this branch, by
// contract. Without one, the pre-built source directory is passed through
// unchanged, or copied through the filter when one is set, preserving
// relative path structure.
func (r *Resolver) Resolve(ctx context.Context, pkg *config.Package) (string, error) {
	if pkg.DtsSource != nil {
		return r.compileBase(ctx, pkg)
	}

	if pkg.DtbSourceDir == "" {
		return "", fmt.Errorf("package %q: no dts_source and no dtb_source_dir", pkg.Name)
	}

	if pkg.Filter == "" {
		return pkg.DtbSourceDir, nil
	}

	return r.filterBase(pkg)
}

func (r *Resolver) compileBase(ctx context.Context, pkg *config.Package) (string, error) {
	src := pkg.DtsSource

	compiled, err := r.Compiler.Compile(ctx, dtc.CompileRequest{
		Name:      src.Name,
		KernelDir: pkg.KernelDir,
		DtsFile:   src.DtsFile,
		DtsText:   src.DtsText,
		Flags:     src.BuildFlags,
	})
	if err != nil {
		return "", err
	}

	baseDir, err := r.baseDir(pkg)
	if err != nil {
		return "", err
	}

	if err := copyFile(compiled, filepath.Join(baseDir, src.Name+".dtb")); err != nil {
		return "", fmt.Errorf("package %q: %w", pkg.Name, err)
	}

	return baseDir, nil
}

func (r *Resolver) filterBase(pkg *config.Package) (string, error) {
	fsys, err := ocfs.NewFilterFS(os.DirFS(pkg.DtbSourceDir), []string{pkg.Filter}, nil)
	if err != nil {
		return "", fmt.Errorf("package %q: %w", pkg.Name, err)
	}

	if r.Log != nil {
		if found, err := ocfs.FSContainsFiles(fsys); err == nil && !found {
			r.Log.Warnf("package %q: filter %q matches nothing under %s", pkg.Name, pkg.Filter, pkg.DtbSourceDir)
		}
	}

	baseDir, err := r.baseDir(pkg)
	if err != nil {
		return "", err
	}

	if err := os.CopyFS(baseDir, fsys); err != nil {
		return "", fmt.Errorf("package %q: failed to copy filtered DTBs: %w", pkg.Name, err)
	}

	return baseDir, nil
}

func (r *Resolver) baseDir(pkg *config.Package) (string, error) {
	if r.WorkDir != "" {
		dir := filepath.Join(r.WorkDir, pkg.Name+"-base")
		return dir, os.MkdirAll(dir, 0o755)
	}
	return os.MkdirTemp("", "dtbuild-"+pkg.Name+"-base-")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
