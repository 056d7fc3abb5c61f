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

// Package notify is the notification fan-out: it holds an ordered list of
// channels and dispatches transition events to all of them asynchronously,
// with each channel's failure independent of the others.
package notify

import (
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Status is the transition kind carried in Metadata, mirroring
// alertstate.TransitionKind without importing it (keeps notify free of a
// dependency on the state machine's internals).
type Status string

const (
	StatusFiring    Status = "firing"
	StatusRepeating Status = "repeating"
	StatusResolved  Status = "resolved"
)

// Metadata accompanies every notification.
type Metadata struct {
	Instance string
	Severity string
	Status   Status
	Summary  string
}

// Channel is a single notification transport. Send reports whether the
// message was delivered; a false return is logged and dropped, never
// retried.
type Channel interface {
	Name() string
	Send(subject, description string, meta Metadata) bool
}

// Fanout holds an ordered list of channels and dispatches to every one of
// them concurrently for each transition.
type Fanout struct {
	logger   log.Logger
	channels []Channel
}

// New returns a Fanout over channels, dispatched in the given order.
func New(logger log.Logger, channels ...Channel) *Fanout {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Fanout{logger: logger, channels: channels}
}

// Notify fires the whole broadcast on its own goroutine and returns
// immediately; it never blocks the caller on channel I/O, so a hung
// transport cannot stall the single-threaded cycle that calls it.
func (f *Fanout) Notify(subject, description string, meta Metadata) {
	go f.broadcast(subject, description, meta)
}

// broadcast dispatches one Send per configured channel concurrently and
// waits for all of them, each channel's failure independent of the others.
func (f *Fanout) broadcast(subject, description string, meta Metadata) {
	var wg sync.WaitGroup
	for _, ch := range f.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if ok := ch.Send(subject, description, meta); !ok {
				level.Warn(f.logger).Log("msg", "notification channel failed", "channel", ch.Name(), "status", meta.Status, "instance", meta.Instance)
			}
		}(ch)
	}
	wg.Wait()
}

// MetricFamily maps a substring of a metric name to a human-readable
// family used to pick an action hint. Checked in the order given; the
// first match wins.
type MetricFamily struct {
	Substring  string
	Family     string
	ActionHint string
}

// DefaultFamilies maps each of cpu, memory, filesystem, network, and
// liveness metrics to its own prescriptive hint.
var DefaultFamilies = []MetricFamily{
	{Substring: "cpu", Family: "cpu", ActionHint: "Investigate CPU-bound processes on the affected instance."},
	{Substring: "memory", Family: "memory", ActionHint: "Check for memory leaks or runaway processes on the affected instance."},
	{Substring: "filesystem", Family: "filesystem", ActionHint: "Check disk usage and clear space on the affected instance."},
	{Substring: "network", Family: "network", ActionHint: "Check network interfaces and connectivity on the affected instance."},
	{Substring: "up", Family: "liveness", ActionHint: "Verify the target is reachable and the exporter process is running."},
}

// ActionHintFor returns the prescriptive hint for the family matching a
// substring of metricName, or a generic fallback if none match.
func ActionHintFor(metricName string) string {
	lower := strings.ToLower(metricName)
	for _, f := range DefaultFamilies {
		if strings.Contains(lower, f.Substring) {
			return f.ActionHint
		}
	}
	return "Investigate the affected instance."
}
