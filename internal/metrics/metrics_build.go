package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PackageBuildFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtbuild_package_build_failed",
			Help: "Number of times a device-tree package has failed to build",
		},
		[]string{"package", "error_type"},
	)

	PackageBuildCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dtbuild_package_build_count",
			Help: "Total number of times a device-tree package has been built",
		},
	)

	PackageBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dtbuild_package_build_duration_seconds",
			Help:    "Device-tree package build duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60},
		},
		[]string{"package"},
	)
)
