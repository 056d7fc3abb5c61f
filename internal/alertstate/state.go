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

// Package alertstate is the per-series alert state machine: a JSON
// document persisted between cycles that debounces raw detections into
// firing/repeating/resolved transitions. It is touched only by the
// orchestrator's single state-update pass, never from worker goroutines.
package alertstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/thaivu98/monitoring-aiops/internal/apierrors"
	"github.com/thaivu98/monitoring-aiops/internal/detector"
)

// TransitionKind is the notification-worthy edge a series crossed this
// cycle.
type TransitionKind string

const (
	TransitionFiring    TransitionKind = "firing"
	TransitionRepeating TransitionKind = "repeating"
	TransitionResolved  TransitionKind = "resolved"
)

// Transition is one fingerprint's state-machine output for a cycle. Silent
// cycles (no edge crossed) produce no Transition.
type Transition struct {
	Fingerprint string
	Kind        TransitionKind
	Detection   detector.Detection
}

// firingInfo mirrors the on-disk `firing` map entry.
type firingInfo struct {
	LastDetection string    `json:"last_detection"`
	LastAlertAt   time.Time `json:"last_alert_at"`
}

// document is the exact on-disk shape of alerts_state.json.
type document struct {
	Windows     map[string][]int      `json:"windows"`
	Firing      map[string]firingInfo `json:"firing"`
	LastAlertAt map[string]time.Time  `json:"last_alert_at"`
}

// Params bundles the state machine's tunables (S, M, R_m).
type Params struct {
	WindowLength   int
	MinToFire      int
	RepeatInterval time.Duration
}

// DefaultParams returns the default window size, fire threshold, and
// repeat interval: S=5, M=3, R_m=60m.
func DefaultParams() Params {
	return Params{WindowLength: 5, MinToFire: 3, RepeatInterval: 60 * time.Minute}
}

// Machine is the process-wide AlertState singleton. It is not safe for
// concurrent use; the orchestrator serializes all access at cycle
// boundaries.
type Machine struct {
	path   string
	params Params
	doc    document
}

// Load reads path, treating a missing or unreadable file as empty state
// (StateCorruption is logged by the caller, not fatal here).
func Load(path string, params Params) (*Machine, error) {
	m := &Machine{
		path:   path,
		params: params,
		doc: document{
			Windows:     map[string][]int{},
			Firing:      map[string]firingInfo{},
			LastAlertAt: map[string]time.Time{},
		},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return m, apierrors.New(apierrors.KindStateCorruption, err)
	}
	if err := json.Unmarshal(data, &m.doc); err != nil {
		// Corrupt file: proceed with empty state rather than fail startup.
		m.doc = document{
			Windows:     map[string][]int{},
			Firing:      map[string]firingInfo{},
			LastAlertAt: map[string]time.Time{},
		}
		return m, apierrors.New(apierrors.KindStateCorruption, err)
	}
	if m.doc.Windows == nil {
		m.doc.Windows = map[string][]int{}
	}
	if m.doc.Firing == nil {
		m.doc.Firing = map[string]firingInfo{}
	}
	if m.doc.LastAlertAt == nil {
		m.doc.LastAlertAt = map[string]time.Time{}
	}
	return m, nil
}

// Advance pushes one detection bit for fingerprint and evaluates the
// NORMAL/FIRING transition table, returning the Transition to emit, if
// any. now is injected so tests can control the throttle clock.
func (m *Machine) Advance(fingerprint string, d detector.Detection, now time.Time) *Transition {
	w := m.doc.Windows[fingerprint]
	bit := 0
	if d.IsAnomaly {
		bit = 1
	}
	w = append(w, bit)
	if len(w) > m.params.WindowLength {
		w = w[len(w)-m.params.WindowLength:]
	}
	m.doc.Windows[fingerprint] = w

	_, firingNow := m.doc.Firing[fingerprint]

	if !firingNow {
		if sum(w) >= m.params.MinToFire || d.Reason == detector.ReasonHostDown {
			m.doc.Firing[fingerprint] = firingInfo{LastDetection: string(d.Reason), LastAlertAt: now}
			m.doc.LastAlertAt[fingerprint] = now
			return &Transition{Fingerprint: fingerprint, Kind: TransitionFiring, Detection: d}
		}
		return nil
	}

	// Currently FIRING.
	if allZero(lastN(w, m.params.MinToFire)) {
		delete(m.doc.Firing, fingerprint)
		m.doc.Windows[fingerprint] = make([]int, m.params.WindowLength)
		return &Transition{Fingerprint: fingerprint, Kind: TransitionResolved, Detection: d}
	}

	if d.IsAnomaly {
		info := m.doc.Firing[fingerprint]
		if now.Sub(info.LastAlertAt) >= m.params.RepeatInterval {
			info.LastAlertAt = now
			info.LastDetection = string(d.Reason)
			m.doc.Firing[fingerprint] = info
			m.doc.LastAlertAt[fingerprint] = now
			return &Transition{Fingerprint: fingerprint, Kind: TransitionRepeating, Detection: d}
		}
	}
	return nil
}

// IsFiring reports whether fingerprint is currently in the FIRING state,
// for status-snapshot reporting.
func (m *Machine) IsFiring(fingerprint string) bool {
	_, ok := m.doc.Firing[fingerprint]
	return ok
}

// WindowSum returns the count of anomalous bits currently held in
// fingerprint's detection window, the instability bit for status
// reporting: it stays set as long as any bit in the suppression ring is
// still anomalous, not just on the cycle that produced a detection.
func (m *Machine) WindowSum(fingerprint string) int {
	return sum(m.doc.Windows[fingerprint])
}

// Persist atomically rewrites the state file via write-to-temp + rename so
// a reader (or the next cycle) never observes a torn file.
func (m *Machine) Persist() error {
	data, err := json.Marshal(m.doc)
	if err != nil {
		return apierrors.New(apierrors.KindStoreError, err)
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".tmp-")
	if err != nil {
		return apierrors.New(apierrors.KindStoreError, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apierrors.New(apierrors.KindStoreError, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apierrors.New(apierrors.KindStoreError, err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return apierrors.New(apierrors.KindStoreError, err)
	}
	return nil
}

func sum(bits []int) int {
	n := 0
	for _, b := range bits {
		n += b
	}
	return n
}

func lastN(bits []int, n int) []int {
	if len(bits) < n {
		return bits
	}
	return bits[len(bits)-n:]
}

func allZero(bits []int) bool {
	if len(bits) == 0 {
		return false
	}
	for _, b := range bits {
		if b != 0 {
			return false
		}
	}
	return true
}
