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

package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/common/route"
)

func TestStageFor(t *testing.T) {
	cases := []struct {
		points int
		want   Stage
	}{
		{0, StageLearning},
		{19, StageLearning},
		{20, StageMonitoring},
		{100, StageMonitoring},
	}
	for _, c := range cases {
		if got := StageFor(c.points); got != c.want {
			t.Errorf("StageFor(%d) = %q, want %q", c.points, got, c.want)
		}
	}
}

func TestSnapshot_SetAndGetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	snap := New(filepath.Join(dir, "status.json"))

	doc := Document{
		LastRun:     time.Now().UTC(),
		TotalSeries: 1,
		Metrics:     []MetricStatus{{Fingerprint: "fp1", PointsCount: 30, Stage: StageMonitoring}},
	}
	if err := snap.Set(doc); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got := snap.Get()
	if got.TotalSeries != 1 || len(got.Metrics) != 1 || got.Metrics[0].Fingerprint != "fp1" {
		t.Fatalf("Get() = %+v", got)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "status.json"))
	if err != nil {
		t.Fatalf("reading persisted file: %v", err)
	}
	var persisted Document
	if err := json.Unmarshal(raw, &persisted); err != nil {
		t.Fatalf("unmarshal persisted: %v", err)
	}
	if persisted.TotalSeries != 1 {
		t.Fatalf("persisted TotalSeries = %d", persisted.TotalSeries)
	}
}

type fakeHealth struct{ err error }

func (f fakeHealth) Healthy() error { return f.err }

func TestAPI_HealthyEndpointReflectsHealthChecker(t *testing.T) {
	snap := New(filepath.Join(t.TempDir(), "status.json"))
	api := NewAPI(nil, snap, fakeHealth{})

	r := route.New()
	api.Register(r)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthy")
	if err != nil {
		t.Fatalf("GET /healthy: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAPI_StatusEndpointServesSnapshot(t *testing.T) {
	snap := New(filepath.Join(t.TempDir(), "status.json"))
	snap.Set(Document{TotalSeries: 2})
	api := NewAPI(nil, snap, fakeHealth{})

	r := route.New()
	api.Register(r)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.TotalSeries != 2 {
		t.Fatalf("TotalSeries = %d, want 2", doc.TotalSeries)
	}
}
