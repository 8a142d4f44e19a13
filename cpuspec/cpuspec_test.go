// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cpuspec

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/snpexpect/testing/match"
)

// decodeEntry parses one JSON catalog entry the way LoadCatalogFile does.
func decodeEntry(t testing.TB, doc string) any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("internal test error: bad entry %q: %v", doc, err)
	}
	return v
}

func TestNormalize(t *testing.T) {
	tcs := []struct {
		name    string
		entry   string
		want    Spec
		wantErr string
	}{
		{
			name:  "cpu type string",
			entry: `"EPYC-Milan"`,
			want:  Spec{Kind: KindType, Name: "EPYC-Milan"},
		},
		{
			name:  "cpu type string trimmed",
			entry: `"  EPYC-Genoa "`,
			want:  Spec{Kind: KindType, Name: "EPYC-Genoa"},
		},
		{
			name:  "hex string becomes sig",
			entry: `"0x0A201009"`,
			want:  Spec{Kind: KindSig, Sig: "0x0a201009"},
		},
		{
			name:    "empty string",
			entry:   `"   "`,
			wantErr: "empty string entry",
		},
		{
			name:  "vcpu_sig hex string",
			entry: `{"vcpu_sig": "0x8B10"}`,
			want:  Spec{Kind: KindSig, Sig: "0x8b10"},
		},
		{
			name:  "sig key spelling",
			entry: `{"sig": "0x8b10"}`,
			want:  Spec{Kind: KindSig, Sig: "0x8b10"},
		},
		{
			name:  "vcpu_sig integer",
			entry: `{"vcpu_sig": 169880585}`,
			want:  Spec{Kind: KindSig, Sig: "0xa201009"},
		},
		{
			name:    "vcpu_sig negative integer",
			entry:   `{"vcpu_sig": -1}`,
			wantErr: "must be non-negative",
		},
		{
			name:    "vcpu_sig bad string",
			entry:   `{"vcpu_sig": "EPYC-Milan"}`,
			wantErr: "vcpu_sig must be a hex string",
		},
		{
			name:  "fms triple",
			entry: `{"family": 25, "model": 1, "stepping": 2}`,
			want:  Spec{Kind: KindFMS, Family: 25, Model: 1, Stepping: 2},
		},
		{
			name:    "fms missing stepping",
			entry:   `{"family": 25, "model": 1}`,
			wantErr: `missing "stepping"`,
		},
		{
			name:    "fms non-integer model",
			entry:   `{"family": 25, "model": 1.5, "stepping": 2}`,
			wantErr: "model must be an integer",
		},
		{
			name:    "fms negative family",
			entry:   `{"family": -25, "model": 1, "stepping": 2}`,
			wantErr: "family must be non-negative",
		},
		{
			name:    "object with no recognized keys",
			entry:   `{"vendor": "AMD"}`,
			wantErr: "must be either {family,model,stepping} or {vcpu_sig}/{sig}",
		},
		{
			name:    "entry of wrong type",
			entry:   `42`,
			wantErr: "must be strings or objects",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(decodeEntry(t, tc.entry))
			if !match.Error(err, tc.wantErr) {
				t.Fatalf("Normalize(%s) errored %v, want %q", tc.entry, err, tc.wantErr)
			}
			if err == nil && got != tc.want {
				t.Errorf("Normalize(%s) = %+v, want %+v", tc.entry, got, tc.want)
			}
		})
	}
}

func TestIDAndLabel(t *testing.T) {
	tcs := []struct {
		spec      Spec
		wantID    string
		wantLabel string
	}{
		{
			spec:      Spec{Kind: KindType, Name: "EPYC-Milan"},
			wantID:    "type:EPYC-Milan",
			wantLabel: "EPYC-Milan",
		},
		{
			spec:      Spec{Kind: KindSig, Sig: "0x0a201009"},
			wantID:    "sig:0x0a201009",
			wantLabel: "vcpu-sig=0x0a201009",
		},
		{
			spec:      Spec{Kind: KindFMS, Family: 25, Model: 1, Stepping: 2},
			wantID:    "fms:25:1:2",
			wantLabel: "vcpu-family=25,vcpu-model=1,vcpu-stepping=2",
		},
	}
	for _, tc := range tcs {
		if got := tc.spec.ID(); got != tc.wantID {
			t.Errorf("%+v.ID() = %q, want %q", tc.spec, got, tc.wantID)
		}
		if got := tc.spec.Label(); got != tc.wantLabel {
			t.Errorf("%+v.Label() = %q, want %q", tc.spec, got, tc.wantLabel)
		}
	}
}

func TestSpecJSONRoundTrip(t *testing.T) {
	specs := []Spec{
		{Kind: KindType, Name: "EPYC-Milan"},
		{Kind: KindSig, Sig: "0x0a201009"},
		{Kind: KindFMS, Family: 25, Model: 1, Stepping: 2},
		{Kind: KindFMS, Family: 0, Model: 0, Stepping: 0},
	}
	data, err := json.Marshal(specs)
	if err != nil {
		t.Fatalf("json.Marshal(%v) errored unexpectedly: %v", specs, err)
	}
	var got []Spec
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("json.Unmarshal(%s) errored unexpectedly: %v", data, err)
	}
	if diff := cmp.Diff(specs, got); diff != "" {
		t.Errorf("spec round trip diff (-want +got):\n%s", diff)
	}
}

func TestSpecMarshalShape(t *testing.T) {
	data, err := json.Marshal(Spec{Kind: KindFMS, Family: 25, Model: 1, Stepping: 2})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"kind":"fms","family":25,"model":1,"stepping":2}`
	if string(data) != want {
		t.Errorf("marshaled fms spec = %s, want %s", data, want)
	}
}
