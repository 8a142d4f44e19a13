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

// Package expect orchestrates an expected-measurement run: it measures every
// validated cpu spec of the catalog, merges the results into the VM's record,
// persists the record store, and reports one line per spec in catalog order.
package expect

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/net/context"

	"github.com/google/snpexpect/cmd/output"
	"github.com/google/snpexpect/cpuspec"
	"github.com/google/snpexpect/measure"
	"github.com/google/snpexpect/store"
)

// ErrNoContext is returned when a function requires an expect.Context that is
// missing from the context.
var ErrNoContext = errors.New("no expect context found")

// Context encapsulates all information needed to run expected-measurement
// recording for one VM title.
type Context struct {
	// StorePath is the expected-measurements document path.
	StorePath string
	// VMTitle keys the record to update in the store.
	VMTitle string
	// Boot holds the measured VM boot parameters.
	Boot measure.BootParams
	// Tool invokes the external measurement tool.
	Tool measure.Tool
	// Timestamp is what time the record will report. Zero means now.
	Timestamp time.Time
	// DryRun true means measure and report without touching the store.
	DryRun bool

	// Specs is the validated cpu catalog, populated during initialization.
	Specs []cpuspec.Spec
	// CatalogConfig is the absolute catalog path recorded in the store.
	CatalogConfig string
}

type expectKeyType struct{}

var expectKey expectKeyType

// NewContext returns the context extended with the given expect.Context.
func NewContext(ctx context.Context, ec *Context) context.Context {
	return context.WithValue(ctx, expectKey, ec)
}

// FromContext returns the expect.Context in the context or an error.
func FromContext(ctx context.Context) (*Context, error) {
	if ec, ok := ctx.Value(expectKey).(*Context); ok {
		return ec, nil
	}
	return nil, ErrNoContext
}

// Update assembles the owned record fields for this run from the collected
// outcomes. Successes and failures land in disjoint maps keyed by the spec's
// human-readable label.
func Update(ec *Context, outcomes []measure.Outcome) *store.Update {
	measurements := make(map[string]store.MeasurementEntry)
	errs := make(map[string]string)
	for _, o := range outcomes {
		label := o.Spec.Label()
		if o.OK() {
			measurements[label] = store.MeasurementEntry{CPUSpec: o.Spec, MeasurementHex: o.Hex}
		} else {
			errs[label] = o.Err
		}
	}
	ts := ec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &store.Update{
		TimestampUTC:   ts.UTC().Format(time.RFC3339),
		Mode:           measure.SNPMode,
		VMMType:        measure.QEMUVMMType,
		AL:             ec.Boot.AttestationLevel,
		VCPUs:          ec.Boot.VCPUs,
		OVMF:           ec.Boot.OVMF,
		Kernel:         ec.Boot.Kernel,
		Initrd:         ec.Boot.Initrd,
		Append:         ec.Boot.Append,
		CPUTypesConfig: ec.CatalogConfig,
		CPUTypes:       ec.Specs,
		Measurements:   measurements,
		Errors:         errs,
	}
}

// Report writes one line per outcome in catalog order: the spec label and its
// measurement hex, or an ERROR marker and the single-line-escaped message.
func Report(ctx context.Context, outcomes []measure.Outcome) {
	for _, o := range outcomes {
		if o.OK() {
			output.Infof(ctx, "%s\t%s", o.Spec.Label(), o.Hex)
		} else {
			output.Infof(ctx, "%s\tERROR\t%s", o.Spec.Label(), strings.ReplaceAll(o.Err, "\n", "\\n"))
		}
	}
}

// Run measures the whole catalog, updates the VM's record in the store, and
// reports the outcomes. Per-spec measurement failures are recorded, not
// fatal; only store persistence can fail the run at this point.
func Run(ctx context.Context) error {
	ec, err := FromContext(ctx)
	if err != nil {
		return err
	}
	outcomes := measure.MeasureAll(ctx, &ec.Tool, ec.Boot, ec.Specs)
	if ec.DryRun {
		output.Debugf(ctx, "dry run: not writing %s", ec.StorePath)
	} else {
		doc := store.Load(ec.StorePath)
		update := Update(ec, outcomes)
		if err := doc.Apply(ec.VMTitle, update); err != nil {
			return err
		}
		if err := store.Write(ec.StorePath, doc); err != nil {
			return err
		}
		output.Debugf(ctx, "store %s holds %d VM entries: %s",
			ec.StorePath, len(doc), strings.Join(doc.Titles(), ", "))
	}
	Report(ctx, outcomes)
	return nil
}
