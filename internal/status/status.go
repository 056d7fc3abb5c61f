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

// Package status is the cycle's snapshot surface: a JSON document
// summarizing every observed series, plus a thin HTTP API exposing it and
// the process's liveness/readiness.
package status

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/common/route"
)

// Stage reports whether a series has accumulated enough retained samples
// for the detector's output to be meaningful.
type Stage string

const (
	StageLearning   Stage = "LEARNING"
	StageMonitoring Stage = "MONITORING"
)

// learningThreshold is the retained-point count at which a series is
// promoted from LEARNING to MONITORING.
const learningThreshold = 20

// MetricStatus is one series' entry in the snapshot.
type MetricStatus struct {
	Fingerprint string `json:"fingerprint"`
	Job         string `json:"job"`
	Instance    string `json:"instance"`
	PointsCount int    `json:"points_count"`
	Stage       Stage  `json:"stage"`
	IsUnstable  bool   `json:"is_unstable"`
	IsFiring    bool   `json:"is_firing"`
}

// StageFor derives the reporting-only LEARNING/MONITORING label from a
// retained point count.
func StageFor(pointsCount int) Stage {
	if pointsCount < learningThreshold {
		return StageLearning
	}
	return StageMonitoring
}

// Document is the exact on-disk shape of status.json.
type Document struct {
	LastRun     time.Time      `json:"last_run"`
	TotalSeries int            `json:"total_series"`
	Metrics     []MetricStatus `json:"metrics"`
}

// Snapshot holds the most recent Document in memory and persists it
// atomically; it is read by the HTTP status endpoint and written once per
// cycle by the orchestrator.
type Snapshot struct {
	path string

	mu  sync.RWMutex
	doc Document
}

// New returns a Snapshot that persists to path.
func New(path string) *Snapshot {
	return &Snapshot{path: path}
}

// Set replaces the in-memory document and atomically rewrites path via
// write-to-temp + rename.
func (s *Snapshot) Set(doc Document) error {
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Get returns a copy of the current document.
func (s *Snapshot) Get() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// HealthChecker reports whether a dependency the process relies on
// (durable store, metric source) is currently reachable.
type HealthChecker interface {
	Healthy() error
}

// API registers the /status, /healthy, and /ready endpoints on r.
type API struct {
	logger   log.Logger
	snapshot *Snapshot
	health   HealthChecker
}

// NewAPI returns an API serving snapshot's document and health's
// liveness/readiness.
func NewAPI(logger log.Logger, snapshot *Snapshot, health HealthChecker) *API {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &API{logger: logger, snapshot: snapshot, health: health}
}

// Register wires the endpoints into r.
func (a *API) Register(r *route.Router) {
	r.Get("/status", a.status)
	r.Get("/healthy", a.healthy)
	r.Get("/ready", a.healthy)
	r.Get("/-/healthy", a.healthy)
	r.Get("/-/ready", a.healthy)
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.snapshot.Get()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (a *API) healthy(w http.ResponseWriter, _ *http.Request) {
	if err := a.health.Healthy(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write([]byte("OK"))
}
