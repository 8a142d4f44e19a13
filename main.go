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

// snpexpect records expected SEV-SNP VM launch measurements for later
// comparison against live attestation reports.
package main

import (
	"fmt"
	"os"

	"golang.org/x/net/context"

	"github.com/google/snpexpect/cmd"
)

// Hard validation failures exit with this code. Per-spec measurement
// failures are recorded and reported without changing the exit code.
const hardFailureCode = 2

func main() {
	if err := cmd.MakeApp(context.Background(), &cmd.AppComponents{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(hardFailureCode)
	}
}
