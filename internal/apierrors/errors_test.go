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

package apierrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew_NilErrIsNil(t *testing.T) {
	if err := New(KindStoreError, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestIs_MatchesWrappedKind(t *testing.T) {
	base := New(KindSourceUnavailable, errors.New("timeout"))
	wrapped := fmt.Errorf("processing metric: %w", base)

	if !Is(wrapped, KindSourceUnavailable) {
		t.Fatalf("expected Is to find wrapped kind")
	}
	if Is(wrapped, KindStoreError) {
		t.Fatalf("expected Is to reject mismatched kind")
	}
}

func TestIs_PlainErrorIsNeverAKind(t *testing.T) {
	if Is(errors.New("plain"), KindStoreError) {
		t.Fatalf("expected plain error to never match a Kind")
	}
}
