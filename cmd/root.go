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
	"golang.org/x/net/context"

	"github.com/google/snpexpect/cmd/output"
	"github.com/spf13/cobra"
)

// makeRootCmd creates an entrypoint for snpexpect.
func makeRootCmd(ctx0 context.Context, app *AppComponents) *cobra.Command {
	flags := &output.Options{}
	ctx := output.NewContext(ctx0, flags)
	cmd := &cobra.Command{
		Use: "snpexpect",
		Long: `Command line tool for recording expected SEV-SNP launch measurements

This tool validates a vCPU descriptor catalog, drives the external
sev-snp-measure tool once per descriptor, and persists the results into an
expected-measurements JSON store keyed by VM title for later comparison
against live attestation reports.
`,
		// The caller reports errors with the ERROR: prefix and exit code 2.
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(cmd); err != nil {
				return err
			}
			if app.Global != nil {
				if err := app.Global.PersistentPreRunE(cmd, args); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.SetContext(ctx)
	if app.Global != nil {
		app.Global.AddFlags(cmd)
	}
	flags.AddFlags(cmd)
	return cmd
}
