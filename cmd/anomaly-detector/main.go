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

package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/route"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/thaivu98/monitoring-aiops/internal/alertstate"
	"github.com/thaivu98/monitoring-aiops/internal/config"
	"github.com/thaivu98/monitoring-aiops/internal/historycache"
	"github.com/thaivu98/monitoring-aiops/internal/metricsource"
	"github.com/thaivu98/monitoring-aiops/internal/notify"
	"github.com/thaivu98/monitoring-aiops/internal/orchestrator"
	"github.com/thaivu98/monitoring-aiops/internal/status"
	"github.com/thaivu98/monitoring-aiops/internal/store"
)

const (
	listenAddr       = ":9110"
	alertStatePath   = "alerts_state.json"
	statusPath       = "status.json"
	channelsConfig   = "channels.yaml"
	startupWaitLimit = 60 * time.Second
)

func main() {
	app := kingpin.New("anomaly-detector", "Anomaly detection pipeline over Prometheus-compatible metrics.")
	cfg := config.RegisterFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	if code := run(cfg, logger); code != 0 {
		os.Exit(code)
	}
}

func run(cfg *config.Config, logger log.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(cfg.DatabaseURL, cfg.MaxWorkers)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open durable store", "err", err)
		return 1
	}
	defer db.Close()

	if err := waitForStore(ctx, db, logger); err != nil {
		level.Error(logger).Log("msg", "durable store unreachable after startup wait", "err", err)
		return 1
	}
	if err := db.Migrate(ctx); err != nil {
		level.Error(logger).Log("msg", "failed to migrate durable store", "err", err)
		return 1
	}

	source, err := metricsource.NewSource(cfg.PromURL, cfg.PromSkipSSL)
	if err != nil {
		level.Error(logger).Log("msg", "failed to construct metric source", "err", err)
		return 1
	}

	cache := historycache.New(cfg.AnalysisWindow())
	if err := cache.Initialize(ctx, db, time.Now().UTC()); err != nil {
		level.Error(logger).Log("msg", "failed to hydrate history cache", "err", err)
		return 1
	}

	state, err := alertstate.Load(alertStatePath, alertstate.Params{
		WindowLength:   5,
		MinToFire:      3,
		RepeatInterval: cfg.AlertRepeatInterval,
	})
	if err != nil {
		level.Warn(logger).Log("msg", "alert state unreadable, starting from empty state", "err", err)
	}

	var channels []notify.Channel
	if cc, err := notify.LoadChannelsConfig(channelsConfig); err == nil {
		channels = notify.BuildChannels(cc)
	}
	fanout := notify.New(logger, channels...)

	snap := status.New(statusPath)
	orch := orchestrator.New(cfg, logger, source, db, cache, state, fanout, snap)

	statusAPI := status.NewAPI(logger, snap, db)
	router := route.New()
	statusAPI.Register(router)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", router)

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		level.Error(logger).Log("msg", "failed to bind listener", "addr", listenAddr, "err", err)
		return 1
	}

	srv := &http.Server{Handler: mux}
	go func() {
		level.Info(logger).Log("msg", "listening", "addr", listenAddr)
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			level.Error(logger).Log("msg", "http server stopped", "err", err)
		}
	}()

	go orch.Run(ctx)

	waitForSignal(logger)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	return 0
}

func waitForStore(ctx context.Context, db *store.Store, logger log.Logger) error {
	deadline := time.Now().Add(startupWaitLimit)
	for {
		if err := db.Ping(ctx); err == nil {
			return nil
		} else if time.Now().After(deadline) {
			return err
		} else {
			level.Warn(logger).Log("msg", "durable store not yet reachable, retrying", "err", err)
			time.Sleep(2 * time.Second)
		}
	}
}

func waitForSignal(logger log.Logger) {
	notifier := make(chan os.Signal, 1)
	signal.Notify(notifier, os.Interrupt, syscall.SIGTERM)
	<-notifier
	level.Info(logger).Log("msg", "received SIGINT/SIGTERM, shutting down gracefully")
}
