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

package cmd

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"testing"

	"golang.org/x/net/context"

	"github.com/google/snpexpect/cmd/output"
	"github.com/google/snpexpect/expect"
	"github.com/google/snpexpect/measure"
	"github.com/google/snpexpect/store"
	"github.com/google/snpexpect/testing/match"
	"github.com/spf13/cobra"
)

func TestRootFlags(t *testing.T) {
	tcs := []struct {
		name    string
		args    []string
		app     *AppComponents
		wantErr string
	}{
		{
			name: "happy path",
			args: []string{},
		},
		{
			name:    "output conflict",
			args:    []string{"--verbose", "--quiet"},
			wantErr: "cannot specify both --quiet and --verbose",
		},
		{
			name: "global validation",
			args: []string{},
			app: &AppComponents{Global: &PartialComponent{
				FPersistentPreRunE: func(cmd *cobra.Command, args []string) error {
					return errors.New("forced error")
				},
			}},
			wantErr: "forced error",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if tc.app == nil {
				tc.app = &AppComponents{}
			}
			cmd := makeRootCmd(context.Background(), tc.app)
			// Avoid the usage error by defining a Run function.
			cmd.RunE = func(c *cobra.Command, args []string) error { return nil }
			cmd.SetArgs(tc.args)
			if err := cmd.Execute(); !match.Error(err, tc.wantErr) {
				t.Fatal(err)
			}
		})
	}
}

// writeFixture writes the catalog and allowlist files for measure runs and
// returns the common argument list.
func writeFixture(t *testing.T, catalog, allowlist string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	catalogPath := path.Join(dir, "cpu-types.json")
	if err := os.WriteFile(catalogPath, []byte(catalog), 0644); err != nil {
		t.Fatal(err)
	}
	allowPath := path.Join(dir, "legal-cpu-types.json")
	if err := os.WriteFile(allowPath, []byte(allowlist), 0644); err != nil {
		t.Fatal(err)
	}
	storePath := path.Join(dir, "expected-measurements.json")
	return storePath, []string{
		"--out_json", storePath,
		"--vm_title", "vm1",
		"--ovmf", path.Join(dir, "OVMF.fd"),
		"--vcpus", "4",
		"--cpu_types", catalogPath,
		"--legal_cpu_types", allowPath,
		"--measure_tool", "/usr/bin/sev-snp-measure",
	}
}

func TestMeasureFlagValidation(t *testing.T) {
	tcs := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "no flags",
			args:    []string{"measure"},
			wantErr: "expected --out_json",
		},
		{
			name:    "al out of range",
			args:    []string{"measure", "--al", "5"},
			wantErr: `--al must be 2, 3, or 4, got "5"`,
		},
		{
			name:    "al not a number",
			args:    []string{"measure", "--al", "two"},
			wantErr: `--al must be 2, 3, or 4`,
		},
		{
			name:    "al unset",
			args:    []string{"measure"},
			wantErr: "unsupported attestation level 0",
		},
		{
			name:    "bad timestamp",
			args:    []string{"measure", "--timestamp", "Tomorrow"},
			wantErr: "--timestamp must be in RFC3339 format",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			app := MakeApp(context.Background(), &AppComponents{})
			app.SetArgs(tc.args)
			if err := app.Execute(); !match.Error(err, tc.wantErr) {
				t.Fatalf("Execute(%v) errored %v, want %q", tc.args, err, tc.wantErr)
			}
		})
	}
}

func TestMeasureLevel3RequiresKernelAndInitrd(t *testing.T) {
	_, args := writeFixture(t, `["EPYC-Milan"]`, `["EPYC-Milan"]`)
	app := MakeApp(context.Background(), &AppComponents{})
	app.SetArgs(append([]string{"measure", "--al", "3"}, args...))
	if err := app.Execute(); !match.Error(err, "attestation level 3 requires kernel and initrd") {
		t.Fatalf("Execute at level 3 without kernel errored %v, want hard failure", err)
	}
}

func TestMeasureHardFailures(t *testing.T) {
	tcs := []struct {
		name      string
		catalog   string
		allowlist string
		wantErr   string
	}{
		{
			name:      "duplicate specs",
			catalog:   `["EPYC-Milan", "EPYC-Milan"]`,
			allowlist: `["EPYC-Milan"]`,
			wantErr:   "duplicate cpu specs (not allowed): type:EPYC-Milan",
		},
		{
			name:      "illegal type string",
			catalog:   `["EPYC-Rome"]`,
			allowlist: `["EPYC-Milan"]`,
			wantErr:   `illegal cpu type string "EPYC-Rome"`,
		},
		{
			name:      "empty catalog",
			catalog:   `[]`,
			allowlist: `["EPYC-Milan"]`,
			wantErr:   "non-empty JSON array",
		},
		{
			name:      "bad allowlist",
			catalog:   `["EPYC-Milan"]`,
			allowlist: `["EPYC-Milan", " "]`,
			wantErr:   "invalid entry",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			storePath, args := writeFixture(t, tc.catalog, tc.allowlist)
			app := MakeApp(context.Background(), &AppComponents{})
			app.SetArgs(append([]string{"measure", "--al", "2"}, args...))
			if err := app.Execute(); !match.Error(err, tc.wantErr) {
				t.Fatalf("Execute errored %v, want %q", err, tc.wantErr)
			}
			// Hard failures never touch the store.
			if _, err := os.Stat(storePath); !os.IsNotExist(err) {
				t.Errorf("hard failure wrote %s", storePath)
			}
		})
	}
}

// fakeToolApp injects a canned tool runner once the measure component has
// built its expect.Context, and redirects report output to the given buffer.
func fakeToolApp(out io.Writer, runner measure.RunProcess) *AppComponents {
	return &AppComponents{
		Global: &PartialComponent{
			FPersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
				opts, err := output.FromContext(cmd.Context())
				if err != nil {
					return err
				}
				opts.Out = out
				return nil
			},
		},
		Measure: &PartialComponent{
			FInitContext: func(ctx context.Context) (context.Context, error) {
				ec, err := expect.FromContext(ctx)
				if err != nil {
					return nil, err
				}
				ec.Tool.Runner = runner
				return ctx, nil
			},
		},
	}
}

func TestMeasureEndToEnd(t *testing.T) {
	storePath, args := writeFixture(t,
		`["EPYC-Milan", {"family": 25, "model": 1, "stepping": 2}]`,
		`["EPYC-Milan"]`)
	digest := strings.Repeat("a1", 48)
	var out bytes.Buffer
	app := MakeApp(context.Background(), fakeToolApp(&out,
		func(_ context.Context, _ string, cmdArgs []string) ([]byte, []byte, int, error) {
			for _, a := range cmdArgs {
				if a == "--vcpu-family" {
					return nil, []byte("fms unsupported by this tool build"), 1, nil
				}
			}
			return []byte(digest + "\n"), nil, 0, nil
		}))
	app.SetArgs(append([]string{"measure", "--al", "2", "--timestamp", "2026-08-28T12:00:00Z"}, args...))
	if err := app.Execute(); err != nil {
		t.Fatalf("measure run errored %v, want nil", err)
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("measure run printed %d lines, want 2:\n%s", len(lines), out.String())
	}
	if lines[0] != "EPYC-Milan\t"+digest {
		t.Errorf("line 1 = %q, want the milan measurement", lines[0])
	}
	if !strings.HasPrefix(lines[1], "vcpu-family=25,vcpu-model=1,vcpu-stepping=2\tERROR\t") {
		t.Errorf("line 2 = %q, want an ERROR line for the fms spec", lines[1])
	}

	rec := store.Load(storePath)["vm1"]
	if rec == nil {
		t.Fatalf("store has no vm1 record")
	}
	if got := rec["timestamp_utc"]; got != "2026-08-28T12:00:00Z" {
		t.Errorf("timestamp_utc = %v, want the --timestamp value", got)
	}
	types, ok := rec["cpu_types"].([]any)
	if !ok || len(types) != 2 {
		t.Errorf("cpu_types = %v, want both specs in the snapshot", rec["cpu_types"])
	}
	if got := rec["al"]; got != float64(2) {
		t.Errorf("al = %v, want 2", got)
	}
}

func TestValidateCommand(t *testing.T) {
	tcs := []struct {
		name      string
		catalog   string
		allowlist string
		wantErr   string
	}{
		{
			name:      "valid catalog",
			catalog:   `["EPYC-Milan", "0x0a201009"]`,
			allowlist: `["EPYC-Milan"]`,
		},
		{
			name:      "illegal type",
			catalog:   `["EPYC-Rome"]`,
			allowlist: `["EPYC-Milan"]`,
			wantErr:   `illegal cpu type string "EPYC-Rome"`,
		},
		{
			name:    "missing flags",
			wantErr: "expected --cpu_types",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			args := []string{"validate"}
			if tc.catalog != "" {
				_, fixtureArgs := writeFixture(t, tc.catalog, tc.allowlist)
				// writeFixture's catalog/allowlist flags sit at indexes 8-11.
				args = append(args, fixtureArgs[8:12]...)
			}
			app := MakeApp(context.Background(), &AppComponents{})
			app.SetArgs(args)
			if err := app.Execute(); !match.Error(err, tc.wantErr) {
				t.Fatalf("Execute(%v) errored %v, want %q", args, err, tc.wantErr)
			}
		})
	}
}
