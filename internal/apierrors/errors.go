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

// Package apierrors defines the error kinds the anomaly-detection pipeline
// distinguishes between for retry and logging purposes.
package apierrors

import "fmt"

// Kind classifies an error so callers can decide whether to retry, skip a
// single task, or abort the whole cycle.
type Kind string

const (
	// KindSourceUnavailable marks a transport or parse failure talking to the
	// metric source.
	KindSourceUnavailable Kind = "source_unavailable"
	// KindStoreError marks a durable store read/write failure.
	KindStoreError Kind = "store_error"
	// KindDetectorAbort marks a series that could not be analyzed (too few
	// points). Not treated as an anomaly, not propagated as a failure.
	KindDetectorAbort Kind = "detector_abort"
	// KindNotifyError marks a single notification channel's send failure.
	KindNotifyError Kind = "notify_error"
	// KindStateCorruption marks an unreadable alert-state file.
	KindStateCorruption Kind = "state_corruption"
)

// Error wraps an underlying error with a Kind so callers can type-switch on
// it without string-matching error text.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given Kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return e != nil && e.Kind == kind
}
