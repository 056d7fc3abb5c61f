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

// Package metricsource implements the client side of the standard
// Prometheus HTTP API: discovering metric names, fetching the current
// value of a set of series, and fetching a range of samples for an
// explicit selector. It carries no state of its own.
package metricsource

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mwitkow/go-conntrack"

	"github.com/thaivu98/monitoring-aiops/internal/apierrors"
)

const (
	instantTimeout = 10 * time.Second
	rangeTimeout   = 30 * time.Second
)

// Source discovers active series and fetches instant and range samples
// from a Prometheus-compatible query API.
type Source struct {
	baseURL    string
	httpClient *http.Client
}

// NewSource builds a Source talking to rawURL. A missing scheme is assumed
// to be http://. skipSSLVerify disables TLS certificate verification,
// mirroring PROM_SKIP_SSL.
func NewSource(rawURL string, skipSSLVerify bool) (*Source, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apierrors.New(apierrors.KindSourceUnavailable, fmt.Errorf("parsing metric source URL: %w", err))
	}

	transport := &http.Transport{
		DialContext: conntrack.NewDialContextFunc(
			conntrack.DialWithName("metricsource"),
			conntrack.DialWithTracing(),
		),
	}
	if skipSSLVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- operator opt-in via PROM_SKIP_SSL
	}

	return &Source{
		baseURL:    u.String(),
		httpClient: &http.Client{Transport: transport},
	}, nil
}

// apiResponse mirrors the standard Prometheus HTTP API response envelope.
type apiResponse struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	ErrorType string          `json:"errorType"`
	Error     string          `json:"error"`
}

func (s *Source) doJSON(ctx context.Context, method, path string, form url.Values, out any) error {
	var req *http.Request
	var err error
	endpoint := s.baseURL + path

	if method == http.MethodGet {
		if len(form) > 0 {
			endpoint += "?" + form.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return apierrors.New(apierrors.KindSourceUnavailable, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apierrors.New(apierrors.KindSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apierrors.New(apierrors.KindSourceUnavailable, fmt.Errorf("reading response body: %w", err))
	}

	if resp.StatusCode/100 != 2 {
		return apierrors.New(apierrors.KindSourceUnavailable, fmt.Errorf("metric source returned %d: %s", resp.StatusCode, body))
	}

	var ar apiResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return apierrors.New(apierrors.KindSourceUnavailable, fmt.Errorf("decoding metric source response: %w", err))
	}
	if ar.Status != "success" {
		return apierrors.New(apierrors.KindSourceUnavailable, fmt.Errorf("metric source error (%s): %s", ar.ErrorType, ar.Error))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(ar.Data, out); err != nil {
		return apierrors.New(apierrors.KindSourceUnavailable, fmt.Errorf("decoding metric source data: %w", err))
	}
	return nil
}

// Discover returns the set of metric names matching the anchored regular
// expression pattern. Returns an empty set, not an error, when nothing
// matches.
func (s *Source) Discover(ctx context.Context, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling discovery pattern %q: %w", pattern, err)
	}

	ctx, cancel := context.WithTimeout(ctx, instantTimeout)
	defer cancel()

	var names []string
	if err := s.doJSON(ctx, http.MethodGet, "/api/v1/label/__name__/values", nil, &names); err != nil {
		return nil, err
	}

	matched := make([]string, 0, len(names))
	for _, n := range names {
		if re.MatchString(n) {
			matched = append(matched, n)
		}
	}
	return matched, nil
}

type instantQueryResult struct {
	ResultType string `json:"resultType"`
	Result     []struct {
		Metric map[string]string `json:"metric"`
		Value  [2]any            `json:"value"`
	} `json:"result"`
}

// FetchInstant returns the current value of every series matching query.
func (s *Source) FetchInstant(ctx context.Context, query string) ([]InstantSample, error) {
	ctx, cancel := context.WithTimeout(ctx, instantTimeout)
	defer cancel()

	form := url.Values{"query": {query}}

	var result instantQueryResult
	if err := s.doJSON(ctx, http.MethodGet, "/api/v1/query", form, &result); err != nil {
		return nil, err
	}

	samples := make([]InstantSample, 0, len(result.Result))
	for _, r := range result.Result {
		ts, val, err := decodeSamplePair(r.Value)
		if err != nil {
			return nil, apierrors.New(apierrors.KindSourceUnavailable, fmt.Errorf("decoding instant sample: %w", err))
		}
		samples = append(samples, InstantSample{
			Labels:    Labels(r.Metric),
			Timestamp: ts,
			Value:     val,
		})
	}
	return samples, nil
}

type rangeQueryResult struct {
	ResultType string `json:"resultType"`
	Result     []struct {
		Metric map[string]string `json:"metric"`
		Values [][2]any          `json:"values"`
	} `json:"result"`
}

// FetchRange returns the ordered samples for every series matching
// selector between start and end at the given step.
func (s *Source) FetchRange(ctx context.Context, selector string, start, end time.Time, step time.Duration) ([]RangeSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, rangeTimeout)
	defer cancel()

	form := url.Values{
		"query": {selector},
		"start": {formatTimestamp(start)},
		"end":   {formatTimestamp(end)},
		"step":  {step.String()},
	}

	var result rangeQueryResult
	if err := s.doJSON(ctx, http.MethodGet, "/api/v1/query_range", form, &result); err != nil {
		return nil, err
	}

	series := make([]RangeSeries, 0, len(result.Result))
	for _, r := range result.Result {
		points := make([]Point, 0, len(r.Values))
		for _, v := range r.Values {
			ts, val, err := decodeSamplePair(v)
			if err != nil {
				return nil, apierrors.New(apierrors.KindSourceUnavailable, fmt.Errorf("decoding range sample: %w", err))
			}
			points = append(points, Point{Timestamp: ts, Value: val})
		}
		series = append(series, RangeSeries{Labels: Labels(r.Metric), Points: points})
	}
	return series, nil
}

func decodeSamplePair(pair [2]any) (time.Time, float64, error) {
	tsFloat, ok := pair[0].(float64)
	if !ok {
		return time.Time{}, 0, fmt.Errorf("unexpected timestamp type %T", pair[0])
	}
	valStr, ok := pair[1].(string)
	if !ok {
		return time.Time{}, 0, fmt.Errorf("unexpected value type %T", pair[1])
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("parsing sample value %q: %w", valStr, err)
	}
	sec := int64(tsFloat)
	nsec := int64((tsFloat - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), val, nil
}

func formatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', -1, 64)
}
