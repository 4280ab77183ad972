// Package dtbuild composes device-tree blob packages from declarative
// configuration.
//
// A package starts from a base DTB set, either compiled from a device-tree
// source or taken from a directory of pre-built blobs, and applies an ordered
// list of overlays on top. The package directory holding the final blobs is
// returned per package.
//
// # Basic Usage
//
//	import "github.com/devicetree-tools/dtbuild/pkg/dtbuild"
//
//	results, err := dtbuild.Build(ctx, []string{"config.yaml"}, dtbuild.Options{
//	    WorkDir: "/tmp/dtbuild",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for name, dir := range results {
//	    fmt.Println(name, dir)
//	}
//
// Configuration files are merged in order before parsing, so a site-local
// file can extend or override a shared base configuration.
package dtbuild

import (
	"context"
	"fmt"
	"io"

	"github.com/devicetree-tools/dtbuild/internal/config"
	"github.com/devicetree-tools/dtbuild/internal/logging"
	"github.com/devicetree-tools/dtbuild/internal/overlay"
	"github.com/devicetree-tools/dtbuild/internal/service"
)

// Options controls a build run.
type Options struct {
	// WorkDir anchors intermediate build directories. A temp directory is
	// used per package if empty.
	WorkDir string

	// Workers bounds cross-package parallelism. Zero means sequential.
	Workers int

	// LogOutput receives build logs. Discarded if nil.
	LogOutput io.Writer
}

// Build merges and parses the given configuration files, builds every
// enabled package and returns the package directory for each, keyed by
// package name. The first failure aborts the run.
func Build(ctx context.Context, configFiles []string, opts Options) (map[string]string, error) {
	root, err := load(configFiles)
	if err != nil {
		return nil, err
	}

	out := opts.LogOutput
	if out == nil {
		out = io.Discard
	}
	log := logging.NewLogger(logging.Config{Level: logging.LevelInfo, Output: out})

	return service.New(root, log).
		WithWorkDir(opts.WorkDir).
		WithWorkers(opts.Workers).
		Run(ctx)
}

// Validate merges and parses the given configuration files and reports the
// first configuration error, if any. The external compiler toolchain is not
// consulted.
func Validate(configFiles []string) error {
	root, err := load(configFiles)
	if err != nil {
		return err
	}
	for _, pkg := range root.SortedPackages() {
		if err := overlay.Validate(pkg.Overlays); err != nil {
			return fmt.Errorf("package %q: %w", pkg.Name, err)
		}
	}
	return nil
}

func load(configFiles []string) (*config.Root, error) {
	bs, err := config.Merge(configFiles, true)
	if err != nil {
		return nil, err
	}
	return config.Parse(bs)
}
