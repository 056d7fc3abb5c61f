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

package metricsource

import (
	"sort"
	"strings"
	"time"
)

// Labels maps label name to label value; as a Go map it has no order of its
// own, and Fingerprint gives its key-sorted canonical form. It is never
// schematized beyond the optional job/instance convenience
// projections the rest of the pipeline reads off of it.
type Labels map[string]string

// Fingerprint returns the canonical, stable identity for a label set: the
// lexicographically sorted sequence of "name=value" pairs, joined by "|".
func (l Labels) Fingerprint() string {
	if len(l) == 0 {
		return ""
	}
	names := make([]string, 0, len(l))
	for k := range l {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(l[name])
	}
	return b.String()
}

// InstantSample is a single current-value observation from an instant query.
type InstantSample struct {
	Labels    Labels
	Timestamp time.Time
	Value     float64
}

// Point is a single (ds, y) observation within a series.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// RangeSeries is one series' ordered points from a range query.
type RangeSeries struct {
	Labels Labels
	Points []Point
}
