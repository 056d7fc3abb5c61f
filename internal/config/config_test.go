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

package config

import (
	"testing"
	"time"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	cfg := Load()

	if cfg.PromURL != "http://localhost:9090" {
		t.Errorf("PromURL = %q", cfg.PromURL)
	}
	if cfg.LookbackHours != 720 {
		t.Errorf("LookbackHours = %d", cfg.LookbackHours)
	}
	if cfg.MaxWorkers != 10 {
		t.Errorf("MaxWorkers = %d", cfg.MaxWorkers)
	}
	if cfg.Contamination != 0.05 {
		t.Errorf("Contamination = %v", cfg.Contamination)
	}
	if !cfg.DiscoveryEnabled {
		t.Errorf("expected discovery enabled by default")
	}
}

func TestLoad_HonorsEnvOverrides(t *testing.T) {
	t.Setenv("PROM_URL", "https://prom.example.com")
	t.Setenv("LOOKBACK_HOURS", "48")
	t.Setenv("MAX_WORKERS", "4")
	t.Setenv("CONTAMINATION", "0.02")
	t.Setenv("METRIC_DISCOVERY_ENABLED", "false")

	cfg := Load()

	if cfg.PromURL != "https://prom.example.com" {
		t.Errorf("PromURL = %q", cfg.PromURL)
	}
	if cfg.LookbackHours != 48 {
		t.Errorf("LookbackHours = %d", cfg.LookbackHours)
	}
	if cfg.MaxWorkers != 4 {
		t.Errorf("MaxWorkers = %d", cfg.MaxWorkers)
	}
	if cfg.Contamination != 0.02 {
		t.Errorf("Contamination = %v", cfg.Contamination)
	}
	if cfg.DiscoveryEnabled {
		t.Errorf("expected discovery disabled")
	}
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("LOOKBACK_HOURS", "not-a-number")
	t.Setenv("CONTAMINATION", "not-a-float")
	t.Setenv("PROM_SKIP_SSL", "not-a-bool")

	cfg := Load()

	if cfg.LookbackHours != 720 {
		t.Errorf("LookbackHours = %d, want fallback default", cfg.LookbackHours)
	}
	if cfg.Contamination != 0.05 {
		t.Errorf("Contamination = %v, want fallback default", cfg.Contamination)
	}
	if cfg.PromSkipSSL {
		t.Errorf("expected fallback default false for PromSkipSSL")
	}
}

func TestConfig_DerivedDurations(t *testing.T) {
	cfg := Config{LookbackHours: 2, AnalysisWindowHours: 1, CheckIntervalMinutes: 5}

	if got := cfg.Retention(); got != 2*time.Hour {
		t.Errorf("Retention() = %v", got)
	}
	if got := cfg.AnalysisWindow(); got != time.Hour {
		t.Errorf("AnalysisWindow() = %v", got)
	}
	if got := cfg.CyclePeriod(); got != 5*time.Minute {
		t.Errorf("CyclePeriod() = %v", got)
	}
}
