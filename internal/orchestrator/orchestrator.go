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

// Package orchestrator is the top-level cycle loop: discovery, parallel
// per-metric delta sync and detection, a single-threaded state-machine
// pass, a status snapshot, and retention prune.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/thaivu98/monitoring-aiops/internal/alertstate"
	"github.com/thaivu98/monitoring-aiops/internal/apierrors"
	"github.com/thaivu98/monitoring-aiops/internal/config"
	"github.com/thaivu98/monitoring-aiops/internal/detector"
	"github.com/thaivu98/monitoring-aiops/internal/historycache"
	"github.com/thaivu98/monitoring-aiops/internal/metricsource"
	"github.com/thaivu98/monitoring-aiops/internal/notify"
	"github.com/thaivu98/monitoring-aiops/internal/selfmetrics"
	"github.com/thaivu98/monitoring-aiops/internal/status"
	"github.com/thaivu98/monitoring-aiops/internal/store"
)

// Source is the subset of metricsource.Source the orchestrator consumes.
type Source interface {
	Discover(ctx context.Context, pattern string) ([]string, error)
	FetchInstant(ctx context.Context, query string) ([]metricsource.InstantSample, error)
	FetchRange(ctx context.Context, selector string, start, end time.Time, step time.Duration) ([]metricsource.RangeSeries, error)
}

// Store is the subset of store.Store the orchestrator consumes.
type Store interface {
	UpsertMetric(ctx context.Context, fingerprint string, labels metricsource.Labels) (store.Metric, error)
	AppendSamples(ctx context.Context, metricID int64, points []metricsource.Point) error
	MaxTimestamp(ctx context.Context, metricID int64) (time.Time, bool, error)
	Metrics(ctx context.Context) ([]store.Metric, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Healthy() error
}

const rangeStep = time.Minute

// Orchestrator owns the three process-wide singletons (cache, alert
// state, snapshot) and runs the cycle loop against them. Workers receive
// these as parameters; nothing here is accessed as ambient state.
type Orchestrator struct {
	cfg    *config.Config
	logger log.Logger

	source Source
	db     Store
	cache  *historycache.Cache
	state  *alertstate.Machine
	fanout *notify.Fanout
	snap   *status.Snapshot
}

// New builds an Orchestrator from its already-constructed dependencies.
func New(
	cfg *config.Config,
	logger log.Logger,
	source Source,
	db Store,
	cache *historycache.Cache,
	state *alertstate.Machine,
	fanout *notify.Fanout,
	snap *status.Snapshot,
) *Orchestrator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Orchestrator{
		cfg: cfg, logger: logger,
		source: source, db: db, cache: cache, state: state, fanout: fanout, snap: snap,
	}
}

// Run blocks, executing one cycle every CyclePeriod until ctx is canceled.
// Orchestrator-level failures log and sleep 60s before retrying; they do
// not stop the loop.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		start := time.Now()
		if err := o.runCycle(ctx); err != nil {
			level.Error(o.logger).Log("msg", "cycle failed", "err", err)
			selfmetrics.CyclesTotal.WithLabelValues("error").Inc()
			if !sleepOrDone(ctx, 60*time.Second) {
				return
			}
			continue
		}
		selfmetrics.CyclesTotal.WithLabelValues("ok").Inc()
		selfmetrics.CycleDuration.Observe(time.Since(start).Seconds())

		if !sleepOrDone(ctx, o.cfg.CyclePeriod()) {
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// seriesDetection pairs a fingerprint with its labels and the detection
// run against its cache entry, collected by a task for the single-
// threaded state-update pass.
type seriesDetection struct {
	fingerprint string
	labels      metricsource.Labels
	metricName  string
	detection   detector.Detection
}

func (o *Orchestrator) runCycle(ctx context.Context) error {
	now := time.Now().UTC()

	names, err := o.discover(ctx)
	if err != nil {
		return err
	}
	selfmetrics.DiscoveredMetrics.Set(float64(len(names)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxWorkers)

	results := make(chan []seriesDetection, len(names))
	for _, name := range names {
		name := name
		g.Go(func() error {
			detections, err := o.processMetric(gctx, name, now)
			if err != nil {
				level.Warn(o.logger).Log("msg", "metric task failed", "metric", name, "err", err)
				selfmetrics.TaskErrors.WithLabelValues(taskErrorKind(err)).Inc()
				return nil // per-task failures do not abort the cycle.
			}
			results <- detections
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	close(results)

	var all []seriesDetection
	for r := range results {
		all = append(all, r...)
	}
	selfmetrics.SeriesTracked.Set(float64(o.cache.Len()))

	o.commitState(all, now)

	if err := o.writeSnapshot(ctx, all, now); err != nil {
		level.Error(o.logger).Log("msg", "failed to write status snapshot", "err", err)
	}

	pruned, err := o.db.Prune(ctx, now.Add(-o.cfg.Retention()))
	if err != nil {
		return err
	}
	selfmetrics.PrunedSamples.Add(float64(pruned))

	return nil
}

func taskErrorKind(err error) string {
	for _, k := range []apierrors.Kind{apierrors.KindSourceUnavailable, apierrors.KindStoreError, apierrors.KindNotifyError, apierrors.KindDetectorAbort} {
		if apierrors.Is(err, k) {
			return string(k)
		}
	}
	return "unknown"
}

// discover returns the metric names to process this cycle, falling back
// to the fixed query when discovery is disabled or returns nothing.
func (o *Orchestrator) discover(ctx context.Context) ([]string, error) {
	if !o.cfg.DiscoveryEnabled {
		return []string{o.cfg.PromQuery}, nil
	}
	names, err := o.source.Discover(ctx, o.cfg.DiscoveryPattern)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []string{o.cfg.PromQuery}, nil
	}
	return names, nil
}

// processMetric implements one per-query task: active-series enumeration,
// batched delta sync, durable persistence, cache update, and detection.
func (o *Orchestrator) processMetric(ctx context.Context, metricName string, now time.Time) ([]seriesDetection, error) {
	instants, err := o.source.FetchInstant(ctx, metricName)
	if err != nil {
		return nil, err
	}
	if len(instants) == 0 {
		return nil, nil
	}

	type seriesInfo struct {
		labels   metricsource.Labels
		metricID int64
	}
	byFingerprint := make(map[string]*seriesInfo, len(instants))

	fetchStart := now.Add(-o.cfg.Retention())
	for _, sample := range instants {
		fp := sample.Labels.Fingerprint()
		if _, ok := byFingerprint[fp]; ok {
			continue
		}
		m, err := o.db.UpsertMetric(ctx, fp, sample.Labels)
		if err != nil {
			return nil, err
		}
		byFingerprint[fp] = &seriesInfo{labels: sample.Labels, metricID: m.ID}

		if maxTS, ok, err := o.db.MaxTimestamp(ctx, m.ID); err != nil {
			return nil, err
		} else if ok && maxTS.Add(time.Second).After(fetchStart) {
			fetchStart = maxTS.Add(time.Second)
		}
	}

	// One batched range query for the whole metric name, demultiplexed by
	// label-tuple lookup below — never an O(N) per-series scan.
	selector := metricName
	series, err := o.source.FetchRange(ctx, selector, fetchStart, now, rangeStep)
	if err != nil {
		return nil, err
	}

	var out []seriesDetection
	for _, s := range series {
		fp := s.Labels.Fingerprint()
		info, ok := byFingerprint[fp]
		if !ok {
			// Series appeared in the range response but not in the instant
			// enumeration (e.g. just went stale); register it so its
			// samples are not dropped.
			m, err := o.db.UpsertMetric(ctx, fp, s.Labels)
			if err != nil {
				return nil, err
			}
			info = &seriesInfo{labels: s.Labels, metricID: m.ID}
			byFingerprint[fp] = info
		}

		if err := o.db.AppendSamples(ctx, info.metricID, s.Points); err != nil {
			return nil, err
		}
		o.cache.Update(info.metricID, s.Points, now)

		points := o.cache.Get(info.metricID)
		if len(points) < 5 {
			continue
		}
		d := detector.Detect(points, fp, o.cfg.Contamination)
		selfmetrics.Detections.WithLabelValues(string(d.Reason)).Inc()
		out = append(out, seriesDetection{
			fingerprint: fp, labels: info.labels, metricName: metricName, detection: d,
		})
	}

	return out, nil
}

// commitState applies every collected detection to the alert state
// machine in a single pass, on the orchestrator's own goroutine, then
// emits notifications for whatever transitions resulted and persists the
// state.
func (o *Orchestrator) commitState(all []seriesDetection, now time.Time) {
	for _, sd := range all {
		tr := o.state.Advance(sd.fingerprint, sd.detection, now)
		if tr == nil {
			continue
		}
		selfmetrics.Transitions.WithLabelValues(string(tr.Kind)).Inc()
		o.emitNotification(sd, tr, now)
	}

	if err := o.state.Persist(); err != nil {
		level.Error(o.logger).Log("msg", "failed to persist alert state", "err", err)
	}
}

// emitNotification severity mirrors the transition, not the detection:
// firing/repeating are critical, resolved is informational.
func (o *Orchestrator) emitNotification(sd seriesDetection, tr *alertstate.Transition, now time.Time) {
	st := notify.Status(tr.Kind)
	severity := "critical"
	if tr.Kind == alertstate.TransitionResolved {
		severity = "info"
	}

	subject := notify.Subject(sd.metricName, st)
	description := fmt.Sprintf("%s\naction: %s", sd.detection.Explanation, notify.ActionHintFor(sd.metricName))

	o.fanout.Notify(subject, description, notify.Metadata{
		Instance: sd.labels["instance"],
		Severity: severity,
		Status:   st,
		Summary:  sd.detection.Explanation,
	})
}

// writeSnapshot seeds the document from every metric the durable store has
// ever observed, not just the ones that produced a detection this cycle,
// so a LEARNING series (fewer than 20 retained points, see status.StageFor)
// or a metric that
// sat idle this cycle still appears with its current stage and firing bit.
func (o *Orchestrator) writeSnapshot(ctx context.Context, all []seriesDetection, now time.Time) error {
	metrics, err := o.db.Metrics(ctx)
	if err != nil {
		return err
	}

	byFingerprint := make(map[string]seriesDetection, len(all))
	for _, sd := range all {
		byFingerprint[sd.fingerprint] = sd
	}

	doc := status.Document{LastRun: now, TotalSeries: len(metrics)}
	for _, m := range metrics {
		pointsCount := len(o.cache.Get(m.ID))
		ms := status.MetricStatus{
			Fingerprint: m.Fingerprint,
			Job:         m.Job,
			Instance:    m.Instance,
			PointsCount: pointsCount,
			Stage:       status.StageFor(pointsCount),
			IsUnstable:  o.state.WindowSum(m.Fingerprint) > 0,
			IsFiring:    o.state.IsFiring(m.Fingerprint),
		}
		if sd, ok := byFingerprint[m.Fingerprint]; ok {
			ms.Job, ms.Instance = sd.labels["job"], sd.labels["instance"]
		}
		doc.Metrics = append(doc.Metrics, ms)
	}
	return o.snap.Set(doc)
}
