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

// Package config loads the environment-driven configuration for the
// anomaly-detection pipeline and registers the matching kingpin flags so
// every value can also be overridden on the command line.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"
)

// Config holds every tunable of the pipeline. Zero value is not valid; use
// Load or RegisterFlags.
type Config struct {
	PromURL              string
	AlertmanagerURL      string
	DatabaseURL          string
	PromQuery            string
	LookbackHours        int
	CheckIntervalMinutes int
	PromSkipSSL          bool
	AMSkipSSL            bool
	AlertRepeatInterval  time.Duration
	Contamination        float64
	DiscoveryEnabled     bool
	DiscoveryPattern     string
	MaxWorkers           int
	AnalysisWindowHours  int
}

// Retention returns the durable-store retention window (W_R).
func (c Config) Retention() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

// AnalysisWindow returns the cache/detection history span (W_A).
func (c Config) AnalysisWindow() time.Duration {
	return time.Duration(c.AnalysisWindowHours) * time.Hour
}

// CyclePeriod returns the scheduler's sleep interval between cycles (P).
func (c Config) CyclePeriod() time.Duration {
	return time.Duration(c.CheckIntervalMinutes) * time.Minute
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envOrBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// RegisterFlags wires every configuration option into a kingpin
// Application, with the environment variable used as the flag's default,
// while allowing operators to override via CHECK_INTERVAL_MINUTES etc.
func RegisterFlags(app *kingpin.Application) *Config {
	cfg := &Config{}

	app.Flag("prom.url", "Prometheus query endpoint base (env PROM_URL).").
		Default(envOr("PROM_URL", "http://localhost:9090")).StringVar(&cfg.PromURL)

	app.Flag("alertmanager.url", "Legacy Alertmanager push target (env ALERTMANAGER_URL).").
		Default(envOr("ALERTMANAGER_URL", "http://localhost:9093")).StringVar(&cfg.AlertmanagerURL)

	app.Flag("database.url", "Durable store DSN (env DATABASE_URL).").
		Default(envOr("DATABASE_URL", "postgresql://localhost:5432/aiops")).StringVar(&cfg.DatabaseURL)

	app.Flag("prom.query", "Fallback query when discovery is disabled or empty (env PROM_QUERY).").
		Default(envOr("PROM_QUERY", "up")).StringVar(&cfg.PromQuery)

	app.Flag("lookback.hours", "Retention window in hours (env LOOKBACK_HOURS).").
		Default(strconv.Itoa(envOrInt("LOOKBACK_HOURS", 720))).IntVar(&cfg.LookbackHours)

	app.Flag("check.interval.minutes", "Cycle period in minutes (env CHECK_INTERVAL_MINUTES).").
		Default(strconv.Itoa(envOrInt("CHECK_INTERVAL_MINUTES", 5))).IntVar(&cfg.CheckIntervalMinutes)

	app.Flag("prom.skip-ssl", "Disable TLS verification for the metric source (env PROM_SKIP_SSL).").
		Default(strconv.FormatBool(envOrBool("PROM_SKIP_SSL", false))).BoolVar(&cfg.PromSkipSSL)

	app.Flag("am.skip-ssl", "Disable TLS verification for Alertmanager (env AM_SKIP_SSL).").
		Default(strconv.FormatBool(envOrBool("AM_SKIP_SSL", false))).BoolVar(&cfg.AMSkipSSL)

	// The Action below runs only when the flag is given on the command
	// line, so the default is applied to cfg up front.
	repeatMinutes := envOrInt("ALERT_REPEAT_INTERVAL_MINUTES", 60)
	cfg.AlertRepeatInterval = time.Duration(repeatMinutes) * time.Minute
	app.Flag("alert.repeat-interval-minutes", "Throttle between repeating emissions (env ALERT_REPEAT_INTERVAL_MINUTES).").
		Default(strconv.Itoa(repeatMinutes)).
		Action(func(*kingpin.ParseContext) error {
			cfg.AlertRepeatInterval = time.Duration(repeatMinutes) * time.Minute
			return nil
		}).IntVar(&repeatMinutes)

	app.Flag("contamination", "Expected anomaly fraction; selects z-threshold ladder (env CONTAMINATION).").
		Default(strconv.FormatFloat(envOrFloat("CONTAMINATION", 0.05), 'f', -1, 64)).Float64Var(&cfg.Contamination)

	app.Flag("discovery.enabled", "Use discovery instead of a fixed query (env METRIC_DISCOVERY_ENABLED).").
		Default(strconv.FormatBool(envOrBool("METRIC_DISCOVERY_ENABLED", true))).BoolVar(&cfg.DiscoveryEnabled)

	app.Flag("discovery.pattern", "Anchored regex over metric names (env METRIC_DISCOVERY_PATTERN).").
		Default(envOr("METRIC_DISCOVERY_PATTERN", `^(up|node_cpu_.*|node_memory_.*|node_filesystem_.*|node_network_.*)$`)).
		StringVar(&cfg.DiscoveryPattern)

	app.Flag("max.workers", "Worker pool size (env MAX_WORKERS).").
		Default(strconv.Itoa(envOrInt("MAX_WORKERS", 10))).IntVar(&cfg.MaxWorkers)

	app.Flag("analysis.window.hours", "Cache span and detection history span in hours (env ANALYSIS_WINDOW_HOURS).").
		Default(strconv.Itoa(envOrInt("ANALYSIS_WINDOW_HOURS", 168))).IntVar(&cfg.AnalysisWindowHours)

	return cfg
}

// Load reads configuration directly from the environment without going
// through kingpin, for use by tests and by components constructed outside
// of the CLI entrypoint.
func Load() *Config {
	repeatMinutes := envOrInt("ALERT_REPEAT_INTERVAL_MINUTES", 60)
	return &Config{
		PromURL:              envOr("PROM_URL", "http://localhost:9090"),
		AlertmanagerURL:      envOr("ALERTMANAGER_URL", "http://localhost:9093"),
		DatabaseURL:          envOr("DATABASE_URL", "postgresql://localhost:5432/aiops"),
		PromQuery:            envOr("PROM_QUERY", "up"),
		LookbackHours:        envOrInt("LOOKBACK_HOURS", 720),
		CheckIntervalMinutes: envOrInt("CHECK_INTERVAL_MINUTES", 5),
		PromSkipSSL:          envOrBool("PROM_SKIP_SSL", false),
		AMSkipSSL:            envOrBool("AM_SKIP_SSL", false),
		AlertRepeatInterval:  time.Duration(repeatMinutes) * time.Minute,
		Contamination:        envOrFloat("CONTAMINATION", 0.05),
		DiscoveryEnabled:     envOrBool("METRIC_DISCOVERY_ENABLED", true),
		DiscoveryPattern:     envOr("METRIC_DISCOVERY_PATTERN", `^(up|node_cpu_.*|node_memory_.*|node_filesystem_.*|node_network_.*)$`),
		MaxWorkers:           envOrInt("MAX_WORKERS", 10),
		AnalysisWindowHours:  envOrInt("ANALYSIS_WINDOW_HOURS", 168),
	}
}
