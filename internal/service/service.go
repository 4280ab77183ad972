// Package service turns a full configuration into build results: every
// enabled package is built through the composition pipeline, in name order,
// with optional bounded parallelism across packages. The pipeline for a
// single package stays strictly sequential.
package service

import (
	"cmp"
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devicetree-tools/dtbuild/internal/builder"
	"github.com/devicetree-tools/dtbuild/internal/config"
	"github.com/devicetree-tools/dtbuild/internal/dtc"
	"github.com/devicetree-tools/dtbuild/internal/logging"
	"github.com/devicetree-tools/dtbuild/internal/metrics"
	"github.com/devicetree-tools/dtbuild/internal/overlay"
	"github.com/devicetree-tools/dtbuild/internal/progress"
)

type Service struct {
	config   *config.Root
	compiler dtc.Compiler
	applier  dtc.Applier
	workDir  string
	workers  int
	log      *logging.Logger
	bar      *progress.Bar
}

func New(root *config.Root, logger *logging.Logger) *Service {
	return &Service{config: root, log: logger}
}

func (s *Service) WithCompiler(c dtc.Compiler) *Service {
	s.compiler = c
	return s
}

func (s *Service) WithApplier(a dtc.Applier) *Service {
	s.applier = a
	return s
}

func (s *Service) WithWorkDir(dir string) *Service {
	s.workDir = dir
	return s
}

// WithWorkers bounds cross-package parallelism. The default of one keeps
// the whole run sequential and deterministic in output order.
func (s *Service) WithWorkers(n int) *Service {
	s.workers = n
	return s
}

func (s *Service) WithProgress(bar *progress.Bar) *Service {
	s.bar = bar
	return s
}

// Run builds every enabled package and returns the package directory for
// each, keyed by package name. The first failure cancels outstanding builds
// and is returned; there is no partial-success mode.
func (s *Service) Run(ctx context.Context) (map[string]string, error) {
	var enabled []*config.Package
	for _, pkg := range s.config.SortedPackages() {
		if pkg.Enabled {
			enabled = append(enabled, pkg)
		}
	}

	var mu sync.Mutex
	results := make(map[string]string, len(enabled))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cmp.Or(s.workers, 1))

	for _, pkg := range enabled {
		g.Go(func() error {
			defer s.bar.Increment()

			path, err := s.build(ctx, pkg)
			if err != nil {
				s.log.Warnf("failed to build package %q: %v", pkg.Name, err)
				metrics.PackageBuildFailed.WithLabelValues(pkg.Name, errorType(err)).Inc()
				return err
			}

			s.log.Infof("Package %q built at %s.", pkg.Name, path)

			mu.Lock()
			results[pkg.Name] = path
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	s.bar.Done()
	if err != nil {
		return nil, err
	}

	return results, nil
}

func (s *Service) build(ctx context.Context, pkg *config.Package) (string, error) {
	start := time.Now()
	defer func() {
		metrics.PackageBuildCount.Inc()
		metrics.PackageBuildDuration.WithLabelValues(pkg.Name).Observe(time.Since(start).Seconds())
	}()

	return builder.New().
		WithPackage(pkg).
		WithCompiler(s.compiler).
		WithApplier(s.applier).
		WithWorkDir(s.workDir).
		WithLogger(s.log).
		Build(ctx)
}

func errorType(err error) string {
	var invalid *overlay.InvalidSpecError
	if errors.As(err, &invalid) {
		return "invalid_spec"
	}
	return "build_failed"
}
