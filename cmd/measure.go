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
	"context"
	"path/filepath"

	"github.com/google/snpexpect/cpuspec"
	"github.com/google/snpexpect/expect"
	"github.com/google/snpexpect/measure"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// measureCommand stores the flag values for the measure subcommand that are
// not directly represented in expect.Context.
type measureCommand struct {
	CatalogPath   string
	AllowlistPath string
}

// AddFlags adds any implementation-specific flags for this command component.
func (f *measureCommand) AddFlags(cmd *cobra.Command) {
	ec := &expect.Context{}
	cmd.PersistentFlags().StringVar(&ec.StorePath, "out_json", "",
		"Path to the expected-measurements JSON store")
	cmd.PersistentFlags().StringVar(&ec.VMTitle, "vm_title", "",
		"VM name the measurement record is stored under")
	cmd.PersistentFlags().AddGoFlag(
		attestationLevelVar(&ec.Boot.AttestationLevel, "al", "Attestation level (2|3|4)"))
	cmd.PersistentFlags().IntVar(&ec.Boot.VCPUs, "vcpus", 0, "vCPU count")
	cmd.PersistentFlags().StringVar(&ec.Boot.OVMF, "ovmf", "", "Path to the OVMF code file")
	cmd.PersistentFlags().StringVar(&ec.Boot.Kernel, "kernel", "",
		"Path to the kernel (AL3/AL4); ignored for AL2")
	cmd.PersistentFlags().StringVar(&ec.Boot.Initrd, "initrd", "",
		"Path to the initrd (AL3/AL4); ignored for AL2")
	cmd.PersistentFlags().StringVar(&ec.Boot.Append, "append", "",
		"Kernel command line (AL3/AL4); ignored for AL2")
	cmd.PersistentFlags().StringVar(&f.CatalogPath, "cpu_types", "",
		"Path to the cpu-types JSON catalog")
	cmd.PersistentFlags().StringVar(&f.AllowlistPath, "legal_cpu_types", "",
		"Path to the legal cpu type strings JSON list")
	cmd.PersistentFlags().StringVar(&ec.Tool.Path, "measure_tool", "",
		"Path to the sev-snp-measure entry point")
	cmd.PersistentFlags().DurationVar(&ec.Tool.Timeout, "measure_timeout", measure.DefaultTimeout,
		"Bound on a single measurement tool invocation; negative disables the bound")
	addDryRunFlag(cmd, &ec.DryRun)
	addTimeFlag(cmd, &ec.Timestamp)
	cmd.SetContext(expect.NewContext(cmd.Context(), ec))
}

// PersistentPreRunE returns an error if the results of the parsed flags
// constitute an error. All hard configuration failures surface here, before
// any measurement tool invocation or store write.
func (f *measureCommand) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	ec, err := expect.FromContext(cmd.Context())
	if err != nil {
		return err
	}
	return multierr.Combine(
		MustBeNonempty("out_json", &ec.StorePath),
		MustBeNonempty("vm_title", &ec.VMTitle),
		MustBeNonempty("cpu_types", &f.CatalogPath),
		MustBeNonempty("legal_cpu_types", &f.AllowlistPath),
		MustBeNonempty("measure_tool", &ec.Tool.Path),
		ec.Boot.Validate(),
	)
}

// InitContext reads and validates the cpu catalog and allowlist files named
// by flags. File interpretation happens here rather than in flag validation.
func (f *measureCommand) InitContext(ctx context.Context) (context.Context, error) {
	ec, err := expect.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := cpuspec.LoadCatalogFile(f.CatalogPath)
	if err != nil {
		return nil, err
	}
	allowlist, err := cpuspec.LoadAllowlistFile(f.AllowlistPath)
	if err != nil {
		return nil, err
	}
	ec.Specs, err = cpuspec.ValidateCatalog(entries, allowlist)
	if err != nil {
		return nil, err
	}
	ec.CatalogConfig, err = filepath.Abs(f.CatalogPath)
	if err != nil {
		return nil, errors.Wrapf(err, "could not resolve cpu catalog path %q", f.CatalogPath)
	}
	return ctx, nil
}

func makeMeasureCmd(ctx context.Context, app *AppComponents) *cobra.Command {
	cmp := Compose(app.Global, &measureCommand{}, app.Measure)
	cmd := &cobra.Command{
		Use: "measure [flags]",
		Long: `Computes and records expected SEV-SNP launch measurements for one VM.

Each validated cpu spec of the catalog leads to one sev-snp-measure
invocation. Per-spec tool failures are recorded and reported without aborting
the run; the record store is updated for the named VM title either way.`,
		PersistentPreRunE: cmp.PersistentPreRunE,
		RunE:              ComposeRun(cmp, expect.Run),
	}
	cmd.SetContext(ctx)
	cmp.AddFlags(cmd)
	return cmd
}
