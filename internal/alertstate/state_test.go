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

package alertstate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/thaivu98/monitoring-aiops/internal/detector"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alerts_state.json")
	m, err := Load(path, DefaultParams())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func anomalous(reason detector.Reason) detector.Detection {
	return detector.Detection{IsAnomaly: true, Reason: reason, Confidence: 0.9}
}

func normal() detector.Detection {
	return detector.Detection{IsAnomaly: false, Reason: detector.ReasonNormal}
}

func TestAdvance_FiresOnMOfS(t *testing.T) {
	m := newTestMachine(t)
	now := time.Now()
	bits := []detector.Detection{anomalous(detector.ReasonSpike), normal(), anomalous(detector.ReasonSpike), normal(), anomalous(detector.ReasonSpike)}

	var last *Transition
	for _, d := range bits {
		last = m.Advance("fp1", d, now)
		now = now.Add(time.Minute)
	}
	if last == nil || last.Kind != TransitionFiring {
		t.Fatalf("expected firing on 5th input, got %+v", last)
	}
}

func TestAdvance_DoesNotFireBelowM(t *testing.T) {
	m := newTestMachine(t)
	now := time.Now()
	bits := []detector.Detection{anomalous(detector.ReasonSpike), normal(), anomalous(detector.ReasonSpike), normal(), normal()}

	var transitions []*Transition
	for _, d := range bits {
		transitions = append(transitions, m.Advance("fp1", d, now))
		now = now.Add(time.Minute)
	}
	for _, tr := range transitions {
		if tr != nil {
			t.Fatalf("expected no transition, got %+v", tr)
		}
	}
}

func TestAdvance_HostDownShortCircuits(t *testing.T) {
	m := newTestMachine(t)
	tr := m.Advance("fp_up", detector.Detection{IsAnomaly: true, Reason: detector.ReasonHostDown, Confidence: 1.0}, time.Now())
	if tr == nil || tr.Kind != TransitionFiring {
		t.Fatalf("expected immediate firing on host_down, got %+v", tr)
	}
}

func TestAdvance_ThrottlesWithinRepeatInterval(t *testing.T) {
	m := newTestMachine(t)
	m.params.RepeatInterval = 10 * time.Minute
	now := time.Now()

	// Fire it.
	for i := 0; i < 3; i++ {
		m.Advance("fp1", anomalous(detector.ReasonSpike), now)
		now = now.Add(time.Minute)
	}
	if !m.IsFiring("fp1") {
		t.Fatalf("expected fp1 to be firing")
	}

	// Within throttle: silent.
	tr := m.Advance("fp1", anomalous(detector.ReasonSpike), now.Add(5*time.Minute))
	if tr != nil {
		t.Fatalf("expected silent transition within throttle, got %+v", tr)
	}

	// At/after R_m: repeating.
	tr = m.Advance("fp1", anomalous(detector.ReasonSpike), now.Add(11*time.Minute))
	if tr == nil || tr.Kind != TransitionRepeating {
		t.Fatalf("expected repeating transition after throttle elapses, got %+v", tr)
	}
}

func TestAdvance_ResolvesAfterMConsecutiveNormal(t *testing.T) {
	m := newTestMachine(t)
	now := time.Now()
	for i := 0; i < 3; i++ {
		m.Advance("fp1", anomalous(detector.ReasonSpike), now)
		now = now.Add(time.Minute)
	}

	var last *Transition
	for i := 0; i < 3; i++ {
		last = m.Advance("fp1", normal(), now)
		now = now.Add(time.Minute)
	}
	if last == nil || last.Kind != TransitionResolved {
		t.Fatalf("expected resolved after M consecutive normals, got %+v", last)
	}
	if m.IsFiring("fp1") {
		t.Fatalf("expected fp1 no longer firing after resolve")
	}
}

func TestWindowSum_ReflectsCurrentWindowRegardlessOfLastBit(t *testing.T) {
	m := newTestMachine(t)
	now := time.Now()
	bits := []detector.Detection{anomalous(detector.ReasonSpike), normal(), anomalous(detector.ReasonSpike), normal(), normal()}
	for _, d := range bits {
		m.Advance("fp1", d, now)
		now = now.Add(time.Minute)
	}
	if got := m.WindowSum("fp1"); got != 2 {
		t.Fatalf("WindowSum() = %d, want 2", got)
	}
	if got := m.WindowSum("unseen"); got != 0 {
		t.Fatalf("WindowSum() for unseen fingerprint = %d, want 0", got)
	}
}

func TestPersistAndLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts_state.json")
	m, err := Load(path, DefaultParams())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.Advance("fp1", anomalous(detector.ReasonHostDown), time.Now())

	if err := m.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	reloaded, err := Load(path, DefaultParams())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.IsFiring("fp1") {
		t.Fatalf("expected reloaded state to retain firing fp1")
	}
}
