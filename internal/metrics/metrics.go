// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cleaner run metrics, labeled per instance so multi-instance deployments
// can tell their services apart.
var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeparr_cleaner_runs_total",
		Help: "Total number of queue cleaner runs by instance and status",
	}, []string{"instance", "status"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweeparr_cleaner_run_duration_seconds",
		Help:    "Duration of queue cleaner runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"instance"})

	ItemsRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeparr_items_removed_total",
		Help: "Total number of queue items removed by instance",
	}, []string{"instance"})

	AutoImportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeparr_auto_imports_total",
		Help: "Total number of auto-import commands triggered by instance",
	}, []string{"instance"})
)
