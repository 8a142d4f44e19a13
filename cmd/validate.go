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

	"github.com/google/snpexpect/cmd/output"
	"github.com/google/snpexpect/cpuspec"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// validateCommand is the core catalog validation command component.
type validateCommand struct {
	CatalogPath   string
	AllowlistPath string
}

// InitContext extends the given context with whatever else the component
// needs before execution.
func (v *validateCommand) InitContext(ctx context.Context) (context.Context, error) {
	return ctx, nil
}

// AddFlags adds any implementation-specific flags for this command component.
func (v *validateCommand) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&v.CatalogPath, "cpu_types", "",
		"Path to the cpu-types JSON catalog")
	cmd.PersistentFlags().StringVar(&v.AllowlistPath, "legal_cpu_types", "",
		"Path to the legal cpu type strings JSON list")
}

// PersistentPreRunE returns an error if the results of the parsed flags
// constitute an error.
func (v *validateCommand) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	return multierr.Combine(
		MustBeNonempty("cpu_types", &v.CatalogPath),
		MustBeNonempty("legal_cpu_types", &v.AllowlistPath),
	)
}

func (v *validateCommand) run(ctx context.Context) error {
	entries, err := cpuspec.LoadCatalogFile(v.CatalogPath)
	if err != nil {
		return err
	}
	allowlist, err := cpuspec.LoadAllowlistFile(v.AllowlistPath)
	if err != nil {
		return err
	}
	specs, err := cpuspec.ValidateCatalog(entries, allowlist)
	if err != nil {
		return err
	}
	output.Debugf(ctx, "cpu catalog %s is valid (%d specs)", v.CatalogPath, len(specs))
	return nil
}

func makeValidateCmd(ctx context.Context, app *AppComponents) *cobra.Command {
	vc := &validateCommand{}
	cmp := Compose(app.Global, vc, app.Validate)
	cmd := &cobra.Command{
		Use: "validate [flags]",
		Long: `Validates a cpu-types catalog against the legal cpu type strings.

Exits zero when every catalog entry normalizes, no two entries share an
identity, and every cpu type string appears in the legal list. Signature and
family/model/stepping entries pass through without a legality check.`,
		PersistentPreRunE: cmp.PersistentPreRunE,
		RunE:              ComposeRun(cmp, vc.run),
	}
	cmd.SetContext(ctx)
	cmp.AddFlags(cmd)
	return cmd
}
