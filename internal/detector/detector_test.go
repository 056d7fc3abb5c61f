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

package detector

import (
	"math"
	"testing"
	"time"

	"github.com/thaivu98/monitoring-aiops/internal/metricsource"
)

// sineBaseline builds a deterministic noise-free sine baseline so tests do
// not depend on a random source: y = 10*sin(4*pi*i/n) + 50.
func sineBaseline(n int) []metricsource.Point {
	points := make([]metricsource.Point, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		v := 10*math.Sin(4*math.Pi*float64(i)/float64(n)) + 50
		points[i] = metricsource.Point{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return points
}

func TestDetect_StabilityOnNoiseFreeBaseline(t *testing.T) {
	points := sineBaseline(300)
	d := Detect(points, "__name__=node_cpu_seconds_total", 0.05)
	if d.IsAnomaly {
		t.Fatalf("expected no anomaly on clean sine baseline, got %+v", d)
	}
}

func TestDetect_SpikeSensitivity(t *testing.T) {
	points := sineBaseline(300)
	points[len(points)-1].Value += 20
	d := Detect(points, "__name__=node_cpu_seconds_total", 0.05)
	if !d.IsAnomaly || d.Reason != ReasonSpike {
		t.Fatalf("expected spike anomaly, got %+v", d)
	}
	if d.Confidence <= 0.5 {
		t.Fatalf("expected confidence > 0.5, got %f", d.Confidence)
	}
}

func TestDetect_TrendSensitivity(t *testing.T) {
	points := sineBaseline(300)
	n := len(points)
	for i := 0; i < 10; i++ {
		frac := float64(i) / 9
		points[n-10+i].Value -= frac * 15
	}
	d := Detect(points, "__name__=node_memory_MemAvailable_bytes", 0.05)
	if !d.IsAnomaly {
		t.Fatalf("expected anomaly on descending tail, got %+v", d)
	}
	if d.Reason != ReasonSpike && d.Reason != ReasonTrend {
		t.Fatalf("expected spike or trend reason, got %s", d.Reason)
	}
}

func TestDetect_GapTolerance(t *testing.T) {
	points := sineBaseline(300)
	for i := 0; i < len(points)-1; i += 10 {
		points[i].Value = math.NaN()
	}
	d := Detect(points, "__name__=node_cpu_seconds_total", 0.05)
	if d.IsAnomaly {
		t.Fatalf("expected no false positive on noise-only data with gaps, got %+v", d)
	}
}

func TestDetect_ShortSeries(t *testing.T) {
	points := sineBaseline(4)
	d := Detect(points, "__name__=up", 0.05)
	if d.IsAnomaly || d.Reason != ReasonTooShort || d.Confidence != 0 {
		t.Fatalf("expected too_short, got %+v", d)
	}
}

func TestDetect_LivenessOverride(t *testing.T) {
	points := sineBaseline(300)
	points[len(points)-1].Value = 0
	d := Detect(points, "__name__=up|instance=h1:9100|job=node", 0.05)
	if !d.IsAnomaly || d.Reason != ReasonHostDown || d.Confidence != 1.0 {
		t.Fatalf("expected host_down override, got %+v", d)
	}
}

func TestDetect_FlatBaselineSensitivity(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]metricsource.Point, 30)
	for i := range points {
		points[i] = metricsource.Point{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: 1}
	}
	points[len(points)-1].Value = 2
	d := Detect(points, "__name__=up", 0.05)
	if !d.IsAnomaly {
		t.Fatalf("expected anomaly on deviation from perfectly flat baseline, got %+v", d)
	}
}

func TestZThreshold(t *testing.T) {
	cases := []struct {
		contamination float64
		want          float64
	}{
		{0.01, 2.0},
		{0.02, 2.5},
		{0.05, 3.0},
	}
	for _, c := range cases {
		if got := zThreshold(c.contamination); got != c.want {
			t.Errorf("zThreshold(%v) = %v, want %v", c.contamination, got, c.want)
		}
	}
}
