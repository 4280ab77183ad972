// Package builder drives the device-tree composition pipeline for one
// package: validate the overlay specifications, resolve the base DTB set,
// normalize overlays into compiled blobs, then hand the ordered list to the
// overlay applier.
package builder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/devicetree-tools/dtbuild/internal/config"
	"github.com/devicetree-tools/dtbuild/internal/dtc"
	"github.com/devicetree-tools/dtbuild/internal/logging"
	"github.com/devicetree-tools/dtbuild/internal/overlay"
	"github.com/devicetree-tools/dtbuild/internal/source"
)

type Builder struct {
	pkg      *config.Package
	compiler dtc.Compiler
	applier  dtc.Applier
	workDir  string
	log      *logging.Logger
}

func New() *Builder {
	return &Builder{}
}

func (b *Builder) WithPackage(pkg *config.Package) *Builder {
	b.pkg = pkg
	return b
}

func (b *Builder) WithCompiler(c dtc.Compiler) *Builder {
	b.compiler = c
	return b
}

func (b *Builder) WithApplier(a dtc.Applier) *Builder {
	b.applier = a
	return b
}

// WithWorkDir anchors all derived directories under dir; temp directories
// are used otherwise.
func (b *Builder) WithWorkDir(dir string) *Builder {
	b.workDir = dir
	return b
}

func (b *Builder) WithLogger(log *logging.Logger) *Builder {
	b.log = log
	return b
}

// Build runs the pipeline and returns the final package directory. Any
// failure aborts the build; there is no partial output mode. With no
// overlays configured the resolved base set is returned unchanged and the
// applier is never invoked.
func (b *Builder) Build(ctx context.Context) (string, error) {
	if b.pkg == nil {
		return "", errors.New("no package configured")
	}

	// Reject unbuildable overlays before any external tool runs.
	if err := overlay.Validate(b.pkg.Overlays); err != nil {
		return "", fmt.Errorf("package %q: %w", b.pkg.Name, err)
	}

	compiler := b.compiler
	if compiler == nil {
		compiler = &dtc.ExecCompiler{WorkDir: b.subDir("build"), Log: b.log}
	}

	resolver := &source.Resolver{Compiler: compiler, WorkDir: b.workDir, Log: b.log}
	baseDir, err := resolver.Resolve(ctx, b.pkg)
	if err != nil {
		return "", err
	}

	normalized, err := overlay.Normalize(ctx, compiler, b.pkg.KernelDir, b.pkg.Overlays)
	if err != nil {
		return "", fmt.Errorf("package %q: %w", b.pkg.Name, err)
	}

	if len(normalized) == 0 {
		if b.log != nil {
			b.log.Debugf("package %q: no overlays, base DTB set is the package", b.pkg.Name)
		}
		return baseDir, nil
	}

	applier := b.applier
	if applier == nil {
		applier = &dtc.ExecApplier{WorkDir: b.subDir(b.pkg.OutputName), Log: b.log}
	}

	out, err := applier.Apply(ctx, baseDir, normalized)
	if err != nil {
		return "", fmt.Errorf("package %q: %w", b.pkg.Name, err)
	}

	return out, nil
}

func (b *Builder) subDir(name string) string {
	if b.workDir == "" {
		return ""
	}
	return filepath.Join(b.workDir, name)
}
