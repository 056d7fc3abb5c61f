// Copyright 2014 The Prometheus Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package selfmetrics registers the pipeline's own Prometheus metrics:
// cycle duration, discovery size, detections, and state transitions. It
// is scraped the same way the monitored targets are.
package selfmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aiops_cycle_duration_seconds",
		Help:    "Duration of a full discovery-detect-notify cycle.",
		Buckets: prometheus.DefBuckets,
	})

	DiscoveredMetrics = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aiops_discovered_metric_names",
		Help: "Number of metric names returned by the last discovery call.",
	})

	SeriesTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aiops_series_tracked",
		Help: "Number of distinct series currently held in the history cache.",
	})

	Detections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aiops_detections_total",
		Help: "Total detector runs, partitioned by reason.",
	}, []string{"reason"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aiops_alert_transitions_total",
		Help: "Total alert state machine transitions, partitioned by kind.",
	}, []string{"kind"})

	TaskErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aiops_task_errors_total",
		Help: "Total per-task failures during a cycle, partitioned by error kind.",
	}, []string{"kind"})

	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aiops_cycles_total",
		Help: "Total orchestrator cycles, partitioned by outcome.",
	}, []string{"outcome"})

	PrunedSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aiops_pruned_samples_total",
		Help: "Total MetricSample rows deleted by retention prune.",
	})
)
