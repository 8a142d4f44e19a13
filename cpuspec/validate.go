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
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// LoadCatalogFile reads a cpu-types catalog file and returns its raw entries.
// The file must hold a non-empty JSON array; anything else is a hard failure.
// Numbers are decoded as json.Number so that non-integer family/model/stepping
// values are rejected during normalization instead of being truncated.
func LoadCatalogFile(path string) ([]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read cpu catalog %q", path)
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrapf(err, "failed to parse cpu catalog %q", path)
	}
	entries, ok := raw.([]any)
	if !ok || len(entries) == 0 {
		return nil, fmt.Errorf("cpu catalog %q must be a non-empty JSON array", path)
	}
	return entries, nil
}

// ParseAllowlist validates the decoded legal-cpu-types document and returns
// the trimmed, deduplicated, order-preserving list of legal type names. Any
// non-string or whitespace-only entry invalidates the whole allowlist.
func ParseAllowlist(raw any) ([]string, error) {
	entries, ok := raw.([]any)
	if !ok || len(entries) == 0 {
		return nil, fmt.Errorf("legal cpu types must be a non-empty JSON array of strings")
	}
	out := make([]string, 0, len(entries))
	seen := make(map[string]bool)
	for _, e := range entries {
		s, ok := e.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("legal cpu types contains an invalid entry %v (expect non-empty strings)", e)
		}
		s = strings.TrimSpace(s)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// LoadAllowlistFile reads and parses a legal-cpu-types file.
func LoadAllowlistFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read legal cpu types %q", path)
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to parse legal cpu types %q", path)
	}
	list, err := ParseAllowlist(raw)
	if err != nil {
		return nil, fmt.Errorf("%v: %s", err, path)
	}
	return list, nil
}

// ValidateCatalog normalizes every raw catalog entry and enforces catalog-wide
// rules: no two entries may share an identity string, and every type-string
// spec must appear in the allowlist. Sig and fms specs are passed through
// without an allowlist check. Fails fast on the first violation.
func ValidateCatalog(entries []any, allowlist []string) ([]Spec, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("cpu catalog must be a non-empty sequence")
	}
	legal := make(map[string]bool, len(allowlist))
	for _, t := range allowlist {
		legal[t] = true
	}
	specs := make([]Spec, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		spec, err := Normalize(entry)
		if err != nil {
			return nil, err
		}
		id := spec.ID()
		if seen[id] {
			return nil, fmt.Errorf("cpu catalog contains duplicate cpu specs (not allowed): %s", id)
		}
		seen[id] = true
		if spec.Kind == KindType && !legal[spec.Name] {
			return nil, fmt.Errorf("illegal cpu type string %q: not present in the legal cpu types list", spec.Name)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
