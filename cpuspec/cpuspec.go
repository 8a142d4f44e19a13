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

// Package cpuspec normalizes and validates vCPU microarchitecture descriptors
// used to parameterize SEV-SNP launch measurement.
//
// A catalog entry may describe the vCPU in one of three ways:
//
//  1. a CPU type string, e.g. "EPYC-Milan",
//  2. a vCPU signature, "0x0a201009" or {"vcpu_sig": "0x0a201009"}, or
//  3. a family/model/stepping triple, {"family": 25, "model": 1, "stepping": 2}.
//
// Normalization maps every accepted input shape onto exactly one Spec variant.
package cpuspec

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"golang.org/x/exp/slices"
)

// Kind tags the active variant of a Spec.
type Kind int

const (
	// KindType names a microarchitecture by CPU type string, e.g. "EPYC-Milan".
	KindType Kind = iota + 1
	// KindSig is a raw vCPU signature, a lowercase 0x-prefixed hex string.
	KindSig
	// KindFMS is a family/model/stepping triple.
	KindFMS
)

var hexRE = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)

// Spec is one normalized vCPU descriptor. Exactly one variant is populated,
// selected by Kind.
type Spec struct {
	Kind Kind

	// Name is the CPU type string for KindType.
	Name string
	// Sig is the lowercase 0x-prefixed hex signature for KindSig.
	Sig string
	// Family, Model, and Stepping form the non-negative triple for KindFMS.
	Family   int64
	Model    int64
	Stepping int64
}

// ID returns the stable identity string used for duplicate detection. Two
// specs are the same iff their IDs are equal. A type spec and a sig spec that
// happen to describe the same silicon have distinct IDs on purpose.
func (s Spec) ID() string {
	switch s.Kind {
	case KindType:
		return "type:" + s.Name
	case KindSig:
		return "sig:" + s.Sig
	case KindFMS:
		return fmt.Sprintf("fms:%d:%d:%d", s.Family, s.Model, s.Stepping)
	}
	return "unknown"
}

// Label returns the human-readable form of the spec that keys persisted
// measurement maps and report lines.
func (s Spec) Label() string {
	switch s.Kind {
	case KindType:
		return s.Name
	case KindSig:
		return "vcpu-sig=" + s.Sig
	case KindFMS:
		return fmt.Sprintf("vcpu-family=%d,vcpu-model=%d,vcpu-stepping=%d",
			s.Family, s.Model, s.Stepping)
	}
	return "unknown"
}

// String implements fmt.Stringer as the spec's identity string.
func (s Spec) String() string { return s.ID() }

// specJSON is the persisted wire shape of a Spec.
type specJSON struct {
	Kind     string `json:"kind"`
	Type     string `json:"type,omitempty"`
	Sig      string `json:"sig,omitempty"`
	Family   *int64 `json:"family,omitempty"`
	Model    *int64 `json:"model,omitempty"`
	Stepping *int64 `json:"stepping,omitempty"`
}

// MarshalJSON writes the normalized object form, e.g.
// {"kind":"fms","family":25,"model":1,"stepping":2}.
func (s Spec) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case KindType:
		return json.Marshal(specJSON{Kind: "type", Type: s.Name})
	case KindSig:
		return json.Marshal(specJSON{Kind: "sig", Sig: s.Sig})
	case KindFMS:
		f, m, st := s.Family, s.Model, s.Stepping
		return json.Marshal(specJSON{Kind: "fms", Family: &f, Model: &m, Stepping: &st})
	}
	return nil, fmt.Errorf("cannot marshal cpu spec of unknown kind %d", s.Kind)
}

// UnmarshalJSON reads the normalized object form written by MarshalJSON.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var w specJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case "type":
		if w.Type == "" {
			return fmt.Errorf("cpu spec of kind %q is missing its type string", w.Kind)
		}
		*s = Spec{Kind: KindType, Name: w.Type}
	case "sig":
		if !hexRE.MatchString(w.Sig) {
			return fmt.Errorf("cpu spec of kind %q has non-hex sig %q", w.Kind, w.Sig)
		}
		*s = Spec{Kind: KindSig, Sig: strings.ToLower(w.Sig)}
	case "fms":
		if w.Family == nil || w.Model == nil || w.Stepping == nil {
			return fmt.Errorf("cpu spec of kind %q needs family, model, and stepping", w.Kind)
		}
		*s = Spec{Kind: KindFMS, Family: *w.Family, Model: *w.Model, Stepping: *w.Stepping}
	default:
		return fmt.Errorf("unknown cpu spec kind %q", w.Kind)
	}
	return nil
}

// asInt interprets a JSON-decoded value as an integer. Accepts json.Number
// values that parse as int64 and float64 values without a fractional part,
// since the latter is what encoding/json produces without UseNumber.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), true
		}
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func normalizeSigValue(val any) (Spec, error) {
	if i, ok := asInt(val); ok {
		if i < 0 {
			return Spec{}, fmt.Errorf("vcpu_sig integer must be non-negative, got %d", i)
		}
		return Spec{Kind: KindSig, Sig: fmt.Sprintf("%#x", i)}, nil
	}
	if str, ok := val.(string); ok {
		str = strings.TrimSpace(str)
		if hexRE.MatchString(str) {
			return Spec{Kind: KindSig, Sig: strings.ToLower(str)}, nil
		}
	}
	return Spec{}, fmt.Errorf("vcpu_sig must be a hex string like 0x8b10 or a non-negative integer, got %v", val)
}

// Normalize maps one raw catalog entry onto its Spec variant. The entry is a
// JSON-decoded value: a string or an object. Any other shape is an error.
// Normalize is a pure function of its input.
func Normalize(entry any) (Spec, error) {
	switch e := entry.(type) {
	case string:
		s := strings.TrimSpace(e)
		if s == "" {
			return Spec{}, fmt.Errorf("cpu catalog contains an empty string entry")
		}
		if hexRE.MatchString(s) {
			return Spec{Kind: KindSig, Sig: strings.ToLower(s)}, nil
		}
		return Spec{Kind: KindType, Name: s}, nil
	case map[string]any:
		if val, ok := e["vcpu_sig"]; ok {
			return normalizeSigValue(val)
		}
		if val, ok := e["sig"]; ok {
			return normalizeSigValue(val)
		}
		if _, ok := e["family"]; ok {
			return normalizeFMS(e)
		}
		return Spec{}, fmt.Errorf("cpu catalog object entries must be either {family,model,stepping} or {vcpu_sig}/{sig}, got keys %v", objectKeys(e))
	}
	return Spec{}, fmt.Errorf("cpu catalog entries must be strings or objects, got %T", entry)
}

func normalizeFMS(e map[string]any) (Spec, error) {
	out := Spec{Kind: KindFMS}
	for _, field := range []struct {
		key string
		dst *int64
	}{
		{"family", &out.Family},
		{"model", &out.Model},
		{"stepping", &out.Stepping},
	} {
		v, ok := e[field.key]
		if !ok {
			return Spec{}, fmt.Errorf("cpu spec triple is missing %q (family, model, and stepping are all required)", field.key)
		}
		i, ok := asInt(v)
		if !ok {
			return Spec{}, fmt.Errorf("%s must be an integer, got %v", field.key, v)
		}
		if i < 0 {
			return Spec{}, fmt.Errorf("%s must be non-negative, got %d", field.key, i)
		}
		*field.dst = i
	}
	return out, nil
}

func objectKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
