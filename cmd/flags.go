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
	"errors"
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// ErrTimeAlreadySet is returned from a timeFlag parsing if the value has
// already been set.
var ErrTimeAlreadySet = errors.New("time flag has already been set")

func addDryRunFlag(cmd *cobra.Command, f *bool) {
	cmd.PersistentFlags().BoolVar(f, "dry_run", false,
		"If true, measures and reports but writes no files.")
}

type timeFlag struct {
	t *time.Time
}

func (t *timeFlag) String() string {
	if t.t == nil {
		return "nil"
	}
	return (*t.t).Format(time.RFC3339)
}

func (t *timeFlag) Set(value string) error {
	if t.t == nil {
		return errors.New("time flag value destination cannot be nil")
	}
	if !(*t.t).IsZero() {
		return ErrTimeAlreadySet
	}
	if value != "" {
		v, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return fmt.Errorf("--timestamp must be in RFC3339 format, got %q", value)
		}
		*t.t = v
		return nil
	}
	return nil
}

func addTimeFlag(cmd *cobra.Command, f *time.Time) {
	cmd.PersistentFlags().AddGoFlag(&flag.Flag{
		Name:     "timestamp",
		Value:    &timeFlag{t: f},
		Usage:    "Specify a specific time in RFC3339 format to record as the run timestamp.",
		DefValue: "",
	})
}

type alFlag struct {
	v *int
}

func (a *alFlag) String() string {
	if a.v == nil || *a.v == 0 {
		return "<unset>"
	}
	return strconv.Itoa(*a.v)
}

func (a *alFlag) Set(value string) error {
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || (n != 2 && n != 3 && n != 4) {
		return fmt.Errorf("--al must be 2, 3, or 4, got %q", value)
	}
	*a.v = n
	return nil
}

// attestationLevelVar returns a flag for the attestation level that rejects
// anything but 2, 3, or 4 at parse time.
func attestationLevelVar(v *int, name, usage string) *flag.Flag {
	return &flag.Flag{
		Name:     name,
		Value:    &alFlag{v: v},
		Usage:    usage,
		DefValue: "",
	}
}
