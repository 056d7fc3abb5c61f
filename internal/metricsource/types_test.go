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

import "testing"

func TestLabels_FingerprintIsSortedAndStable(t *testing.T) {
	a := Labels{"instance": "h1", "job": "node", "__name__": "up"}
	b := Labels{"job": "node", "__name__": "up", "instance": "h1"}

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("expected order-independent fingerprint, got %q vs %q", a.Fingerprint(), b.Fingerprint())
	}
	want := "__name__=up|instance=h1|job=node"
	if got := a.Fingerprint(); got != want {
		t.Fatalf("Fingerprint() = %q, want %q", got, want)
	}
}

func TestLabels_FingerprintEmpty(t *testing.T) {
	if got := (Labels{}).Fingerprint(); got != "" {
		t.Fatalf("expected empty fingerprint for empty labels, got %q", got)
	}
}

