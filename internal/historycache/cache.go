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

// Package historycache is the in-memory history cache: a map from metric
// identity to an ordered, window-bounded sequence of samples. It is
// hydrated once at startup from the durable store and updated
// incrementally every cycle.
package historycache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/thaivu98/monitoring-aiops/internal/metricsource"
	"github.com/thaivu98/monitoring-aiops/internal/store"
)

// sampleLoader is the subset of store.Store the cache hydrates from. An
// interface keeps the cache package testable without a live database.
type sampleLoader interface {
	LoadRecentChunk(ctx context.Context, since time.Time, afterMetricID int64, afterTS time.Time) ([]store.Sample, error)
}

// entry is one metric's cached sequence, guarded by its own mutex so that
// cross-cycle per-metric updates never block readers of other metrics.
type entry struct {
	mu     sync.RWMutex
	points []metricsource.Point
}

// Cache is the process-wide, dependency-injected history cache singleton.
// A task touches only the metric_id(s) it owns within a cycle, so
// concurrent workers never contend on the same entry; Update still takes
// the entry's lock for correctness across cycles.
type Cache struct {
	window time.Duration

	mu      sync.RWMutex // protects the entries map itself, not its values.
	entries map[int64]*entry
}

// New returns an empty Cache bounded to the given analysis window.
func New(window time.Duration) *Cache {
	return &Cache{
		window:  window,
		entries: map[int64]*entry{},
	}
}

// Initialize hydrates the cache from the durable store: every sample newer
// than now-window, loaded in bounded chunks and grouped by metric_id, each
// group sorted ascending by timestamp.
func (c *Cache) Initialize(ctx context.Context, loader sampleLoader, now time.Time) error {
	since := now.Add(-c.window)
	grouped := map[int64][]metricsource.Point{}

	var afterMetricID int64
	afterTS := since
	for {
		chunk, err := loader.LoadRecentChunk(ctx, since, afterMetricID, afterTS)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			break
		}
		for _, s := range chunk {
			grouped[s.MetricID] = append(grouped[s.MetricID], metricsource.Point{Timestamp: s.Timestamp, Value: s.Value})
		}
		last := chunk[len(chunk)-1]
		afterMetricID, afterTS = last.MetricID, last.Timestamp
		if len(chunk) < 500_000 {
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for metricID, points := range grouped {
		sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
		c.entries[metricID] = &entry{points: points}
	}
	return nil
}

// Get returns a copy of the cached sequence for metricID, possibly empty.
func (c *Cache) Get(metricID int64) []metricsource.Point {
	c.mu.RLock()
	e, ok := c.entries[metricID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]metricsource.Point, len(e.points))
	copy(out, e.points)
	return out
}

// Update appends every point in delta whose timestamp is strictly greater
// than the cache's current last timestamp for metricID, then drops any
// prefix that has fallen outside the analysis window. Idempotent against
// duplicates at the boundary: replaying the same delta is a no-op.
func (c *Cache) Update(metricID int64, delta []metricsource.Point, now time.Time) {
	if len(delta) == 0 {
		return
	}

	c.mu.Lock()
	e, ok := c.entries[metricID]
	if !ok {
		e = &entry{}
		c.entries[metricID] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	var lastTS time.Time
	if n := len(e.points); n > 0 {
		lastTS = e.points[n-1].Timestamp
	}
	for _, p := range delta {
		if p.Timestamp.After(lastTS) {
			e.points = append(e.points, p)
			lastTS = p.Timestamp
		}
	}

	cutoff := now.Add(-c.window)
	i := 0
	for i < len(e.points) && e.points[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		e.points = append([]metricsource.Point(nil), e.points[i:]...)
	}
}

// Len reports how many metric identities currently have a cache entry.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
