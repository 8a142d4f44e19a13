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

// Package store persists expected-measurement records for multiple VMs in a
// single JSON document keyed by VM title.
//
// The store tolerates a missing or corrupt document on read so a fresh record
// can always be produced. Each update rewrites one VM entry: a fixed set of
// owned fields is replaced wholesale while every other field on the entry,
// and every other VM entry, is preserved verbatim. Writes publish atomically
// through a renamed temp file so a reader never observes a partial document.
// The store assumes a single writer per path.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/snpexpect/cpuspec"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// VMRecord is one VM's entry, kept as an open map so caller-added fields
// outside the owned set survive repeated updates.
type VMRecord map[string]any

// Document maps VM title to its record.
type Document map[string]VMRecord

// ownedKeys is the fixed field set an update replaces on a VM record. "all"
// is reserved for compatibility with older writers even though no current
// update sets it.
var ownedKeys = []string{
	"timestamp_utc",
	"mode",
	"vmm_type",
	"al",
	"vcpus",
	"ovmf",
	"kernel",
	"initrd",
	"append",
	"cpu_types_config",
	"cpu_types",
	"all",
	"errors",
	"measurements",
}

// MeasurementEntry is one successful measurement in a record's measurement
// map.
type MeasurementEntry struct {
	CPUSpec        cpuspec.Spec `json:"cpu_spec"`
	MeasurementHex string       `json:"measurement_hex"`
}

// Update is the closed struct of owned fields a measurement run produces for
// one VM title. Merging folds exactly these fields over the existing record.
type Update struct {
	TimestampUTC   string                      `json:"timestamp_utc"`
	Mode           string                      `json:"mode"`
	VMMType        string                      `json:"vmm_type"`
	AL             int                         `json:"al"`
	VCPUs          int                         `json:"vcpus"`
	OVMF           string                      `json:"ovmf"`
	Kernel         string                      `json:"kernel"`
	Initrd         string                      `json:"initrd"`
	Append         string                      `json:"append"`
	CPUTypesConfig string                      `json:"cpu_types_config"`
	CPUTypes       []cpuspec.Spec              `json:"cpu_types"`
	Measurements   map[string]MeasurementEntry `json:"measurements"`
	Errors         map[string]string           `json:"errors"`
}

// Load reads the document at path. A missing, unreadable, or top-level
// non-object file yields an empty document rather than an error: the store's
// history is recoverable, a fresh run is not.
func Load(path string) Document {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}
	}
	if doc == nil {
		return Document{}
	}
	return doc
}

// Merge folds the update's owned fields over the existing record and returns
// the result. Fields outside the owned set are copied through unconditionally.
// The measurement-related owned fields are replaced, not unioned, so a CPU
// type dropped from the catalog disappears from the merged record.
func Merge(existing VMRecord, update *Update) (VMRecord, error) {
	raw, err := json.Marshal(update)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode record update")
	}
	var urec map[string]any
	if err := json.Unmarshal(raw, &urec); err != nil {
		return nil, errors.Wrap(err, "could not decode record update")
	}
	merged := make(VMRecord, len(existing)+len(urec))
	for k, v := range existing {
		merged[k] = v
	}
	for _, k := range ownedKeys {
		if v, ok := urec[k]; ok {
			merged[k] = v
		}
	}
	return merged, nil
}

// Apply merges the update into the record for the given title, defaulting to
// an empty record for a new title.
func (d Document) Apply(title string, update *Update) error {
	merged, err := Merge(d[title], update)
	if err != nil {
		return err
	}
	d[title] = merged
	return nil
}

// Titles returns the document's VM titles in sorted order.
func (d Document) Titles() []string {
	titles := make([]string, 0, len(d))
	for t := range d {
		titles = append(titles, t)
	}
	slices.Sort(titles)
	return titles
}

// Write publishes the whole document to path atomically: the serialized form
// goes to a temp file in the target directory which is then renamed into
// place. On any failure the temp file is removed and the previous document is
// left untouched. Serialization is deterministic (sorted keys, two-space
// indentation) to keep the store diff-friendly across runs.
func Write(path string, doc Document) (retErr error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "could not serialize measurement store")
	}
	data = append(data, '\n')
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "could not create store directory %q", dir)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "could not create temp store file in %q", dir)
	}
	defer func() {
		if retErr != nil {
			retErr = multierr.Append(retErr, os.Remove(tmp))
		}
	}()
	if _, err := f.Write(data); err != nil {
		return multierr.Append(errors.Wrapf(err, "could not write temp store file %q", tmp), f.Close())
	}
	if err := f.Sync(); err != nil {
		return multierr.Append(errors.Wrapf(err, "could not sync temp store file %q", tmp), f.Close())
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "could not close temp store file %q", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "could not publish store file %q", path)
	}
	return nil
}
