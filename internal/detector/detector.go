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

// Package detector is the statistical anomaly detector: a pure function
// from an ordered sample sequence to a detection record. It holds no
// state and performs no I/O.
package detector

import (
	"fmt"
	"math"
	"strings"

	"github.com/thaivu98/monitoring-aiops/internal/metricsource"
)

// Reason classifies why a series was or was not flagged.
type Reason string

const (
	ReasonNormal   Reason = "normal"
	ReasonSpike    Reason = "spike"
	ReasonTrend    Reason = "trend"
	ReasonHostDown Reason = "host_down"
	ReasonTooShort Reason = "too_short"
)

// Detection is the output of a single detector run over one series.
type Detection struct {
	IsAnomaly   bool
	Reason      Reason
	Confidence  float64
	Explanation string
}

const minPoints = 5

// Detect runs the full preprocessing, z-score/trend, and liveness-guard
// pipeline over points and returns the resulting detection. fingerprint is
// used only to recognize liveness (up) series; it never affects the
// numeric path otherwise. contamination selects the z-score threshold
// ladder.
func Detect(points []metricsource.Point, fingerprint string, contamination float64) Detection {
	y, ok := preprocess(points)
	if !ok || len(y) < minPoints {
		return Detection{Reason: ReasonTooShort}
	}

	last := y[len(y)-1]
	hist := dropNaN(y[:len(y)-1])
	mean, std := 0.0, 0.0
	if len(hist) >= 3 {
		mean, std = meanStd(hist)
	} else {
		mean, std = meanStd(dropNaN(y))
	}

	z := zScore(last, mean, std)
	threshold := zThreshold(contamination)
	isSpike := z >= threshold

	slope := trendSlope(y)
	tailMean := meanAbs(tail(y, 20))
	isTrend := math.Abs(slope) > 0.1*math.Max(1, tailMean)

	isAnomaly := isSpike || isTrend
	reason := ReasonNormal
	switch {
	case isSpike:
		reason = ReasonSpike
	case isTrend:
		reason = ReasonTrend
	}

	confidence := math.Min(1, z/6)
	if isSpike {
		confidence = math.Max(confidence, math.Min(1, 0.3+z/4))
	}
	if isTrend {
		confidence = math.Max(confidence, math.Min(1, math.Abs(slope)/(1+math.Abs(mean))))
	}

	explanation := fmt.Sprintf("last=%.3f, mean=%.3f, std=%.3f, z=%.2f, slope=%.4f", last, mean, std, z, slope)

	if isLiveness(fingerprint) && last == 0 {
		return Detection{
			IsAnomaly:   true,
			Reason:      ReasonHostDown,
			Confidence:  1.0,
			Explanation: "CRITICAL: Host is DOWN (up=0). " + explanation,
		}
	}

	return Detection{
		IsAnomaly:   isAnomaly,
		Reason:      reason,
		Confidence:  confidence,
		Explanation: explanation,
	}
}

// isLiveness reports whether fingerprint identifies a `up` series, i.e. its
// __name__ label equals "up".
func isLiveness(fingerprint string) bool {
	for _, kv := range strings.Split(fingerprint, "|") {
		if kv == "__name__=up" {
			return true
		}
	}
	return false
}

// preprocess coerces points to a value slice, interpolating interior NaNs
// on their timestamp and back/forward-filling any boundary NaNs. The bool
// return is false when no finite value exists at all.
func preprocess(points []metricsource.Point) ([]float64, bool) {
	n := len(points)
	y := make([]float64, n)
	for i, p := range points {
		y[i] = p.Value
	}

	anyFinite := false
	for _, v := range y {
		if !math.IsNaN(v) {
			anyFinite = true
			break
		}
	}
	if !anyFinite {
		return y, false
	}

	// Time-interpolate interior NaN runs using the real timestamps.
	i := 0
	for i < n {
		if !math.IsNaN(y[i]) {
			i++
			continue
		}
		start := i
		for i < n && math.IsNaN(y[i]) {
			i++
		}
		end := i // first non-NaN index after the run, or n
		if start > 0 && end < n {
			t0, v0 := points[start-1].Timestamp, y[start-1]
			t1, v1 := points[end].Timestamp, y[end]
			span := t1.Sub(t0).Seconds()
			for j := start; j < end; j++ {
				if span == 0 {
					y[j] = v0
					continue
				}
				frac := points[j].Timestamp.Sub(t0).Seconds() / span
				y[j] = v0 + frac*(v1-v0)
			}
		}
	}

	// Forward-fill any leading NaNs from the first finite value.
	firstFinite := math.NaN()
	for _, v := range y {
		if !math.IsNaN(v) {
			firstFinite = v
			break
		}
	}
	lastFinite := math.NaN()
	for _, v := range y {
		if !math.IsNaN(v) {
			lastFinite = v
		}
	}
	for i := 0; i < n && math.IsNaN(y[i]); i++ {
		y[i] = firstFinite
	}
	for i := n - 1; i >= 0 && math.IsNaN(y[i]); i-- {
		y[i] = lastFinite
	}

	return y, true
}

func dropNaN(y []float64) []float64 {
	out := make([]float64, 0, len(y))
	for _, v := range y {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func meanStd(y []float64) (mean, std float64) {
	if len(y) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range y {
		sum += v
	}
	mean = sum / float64(len(y))

	sqSum := 0.0
	for _, v := range y {
		d := v - mean
		sqSum += d * d
	}
	std = math.Sqrt(sqSum / float64(len(y)))
	return mean, std
}

func zScore(last, mean, std float64) float64 {
	switch {
	case std > 0:
		return math.Abs(last-mean) / std
	case last != mean:
		return 10.0
	default:
		return 0
	}
}

func zThreshold(contamination float64) float64 {
	switch {
	case contamination <= 0.01:
		return 2.0
	case contamination <= 0.02:
		return 2.5
	default:
		return 3.0
	}
}

func tail(y []float64, n int) []float64 {
	if len(y) < n {
		n = len(y)
	}
	return y[len(y)-n:]
}

func meanAbs(y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range y {
		sum += math.Abs(v)
	}
	return sum / float64(len(y))
}

// trendSlope fits a least-squares line y = alpha*x + beta over the last
// min(20, n) points (x = 0..k-1) and returns alpha.
func trendSlope(y []float64) float64 {
	t := tail(y, 20)
	n := float64(len(t))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range t {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
