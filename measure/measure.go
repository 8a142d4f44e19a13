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

// Package measure drives the external sev-snp-measure tool to compute the
// expected launch measurement for one VM boot configuration and one vCPU
// descriptor. The tool is an opaque collaborator: it either prints a hex
// digest on stdout and exits zero, or exits non-zero with diagnostics on
// stderr. A failed invocation for one descriptor never prevents the
// invocations for the others.
package measure

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	sgabi "github.com/google/go-sev-guest/abi"
	"github.com/google/snpexpect/cmd/output"
	"github.com/google/snpexpect/cpuspec"
	"github.com/pkg/errors"
)

const (
	// SNPMode is the fixed --mode marker for SEV-SNP measurements.
	SNPMode = "snp"
	// QEMUVMMType is the fixed --vmm-type marker.
	QEMUVMMType = "QEMU"

	// DefaultTimeout bounds a single tool invocation.
	DefaultTimeout = 2 * time.Minute
)

// BootParams are the VM boot inputs that feed the launch measurement.
type BootParams struct {
	// AttestationLevel is 2, 3, or 4. Level 2 measures firmware only; levels
	// 3 and 4 additionally measure kernel, initrd, and kernel command line.
	AttestationLevel int
	// VCPUs is the measured vCPU count.
	VCPUs int
	// OVMF is the path to the OVMF code file.
	OVMF string
	// Kernel and Initrd paths are required at levels 3 and 4 and ignored at
	// level 2 even if supplied. Append is the kernel command line.
	Kernel string
	Initrd string
	Append string
}

// Validate returns an error if the boot parameters cannot produce a
// well-formed tool invocation.
func (p *BootParams) Validate() error {
	switch p.AttestationLevel {
	case 2:
	case 3, 4:
		if p.Kernel == "" || p.Initrd == "" {
			return fmt.Errorf("attestation level %d requires kernel and initrd paths", p.AttestationLevel)
		}
	default:
		return fmt.Errorf("unsupported attestation level %d (expected 2, 3, or 4)", p.AttestationLevel)
	}
	if p.VCPUs <= 0 {
		return fmt.Errorf("vcpu count must be positive, got %d", p.VCPUs)
	}
	if p.OVMF == "" {
		return fmt.Errorf("expected an OVMF code file path")
	}
	return nil
}

// RunProcess executes one external command to completion and reports its
// captured output and exit code. A non-nil error means the process could not
// be run at all, not that it exited non-zero.
type RunProcess func(ctx context.Context, name string, args []string) (stdout, stderr []byte, exitCode int, err error)

func execRun(ctx context.Context, name string, args []string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return outBuf.Bytes(), errBuf.Bytes(), exitErr.ExitCode(), nil
		}
		return nil, nil, 0, errors.Wrapf(err, "could not run %q", name)
	}
	return outBuf.Bytes(), errBuf.Bytes(), 0, nil
}

// Tool invokes the external measurement tool.
type Tool struct {
	// Path locates the sev-snp-measure entry point.
	Path string
	// Timeout bounds each invocation. Zero means DefaultTimeout; a negative
	// value disables the bound.
	Timeout time.Duration

	// Runner replaces process execution in tests. Nil means real process
	// execution.
	Runner RunProcess
}

// Arguments builds the tool argv for one boot configuration and one vCPU
// descriptor. Exactly one of the three CPU selector groups is emitted, and
// kernel/initrd/append are emitted only at attestation levels 3 and 4.
func (t *Tool) Arguments(p BootParams, spec cpuspec.Spec) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	args := []string{
		"--mode", SNPMode,
		"--vmm-type", QEMUVMMType,
		"--vcpus", strconv.Itoa(p.VCPUs),
		"--ovmf", p.OVMF,
		"--output-format", "hex",
	}
	switch spec.Kind {
	case cpuspec.KindType:
		args = append(args, "--vcpu-type", spec.Name)
	case cpuspec.KindSig:
		args = append(args, "--vcpu-sig", spec.Sig)
	case cpuspec.KindFMS:
		args = append(args,
			"--vcpu-family", strconv.FormatInt(spec.Family, 10),
			"--vcpu-model", strconv.FormatInt(spec.Model, 10),
			"--vcpu-stepping", strconv.FormatInt(spec.Stepping, 10))
	default:
		return nil, fmt.Errorf("unknown cpu spec kind in %v", spec)
	}
	if p.AttestationLevel == 3 || p.AttestationLevel == 4 {
		args = append(args, "--kernel", p.Kernel, "--initrd", p.Initrd, "--append", p.Append)
	}
	return args, nil
}

// Measure issues exactly one tool invocation and returns the trimmed hex
// measurement from its stdout, or an error describing the failure. The tool
// remains the measurement authority: an output that does not look like an
// SEV-SNP launch digest is only warned about.
func (t *Tool) Measure(ctx context.Context, p BootParams, spec cpuspec.Spec) (string, error) {
	args, err := t.Arguments(p, spec)
	if err != nil {
		return "", err
	}
	timeout := t.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	run := t.Runner
	if run == nil {
		run = execRun
	}
	stdout, stderr, rc, err := run(ctx, t.Path, args)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("measurement tool timed out after %v for spec=%s", timeout, spec.ID())
	}
	if err != nil {
		return "", err
	}
	if rc != 0 {
		return "", fmt.Errorf("measurement tool failed for al=%d spec=%s rc=%d stderr: %s",
			p.AttestationLevel, spec.ID(), rc, strings.TrimSpace(string(stderr)))
	}
	m := strings.TrimSpace(string(stdout))
	if raw, err := hex.DecodeString(m); err != nil {
		output.Warningf(ctx, "tool output for spec=%s is not a hex string: %q", spec.ID(), m)
	} else if len(raw) != sgabi.MeasurementSize {
		output.Warningf(ctx, "tool output for spec=%s is %d bytes, expected a %d-byte launch digest",
			spec.ID(), len(raw), sgabi.MeasurementSize)
	}
	return m, nil
}

// Outcome is the result of measuring one vCPU descriptor. Exactly one of Hex
// and Err is populated.
type Outcome struct {
	Spec cpuspec.Spec
	// Hex is the measurement on success.
	Hex string
	// Err is the failure message on failure.
	Err string
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.Err == "" }

// MeasureAll measures every descriptor in catalog order. Failures are
// collected per spec and never short-circuit the remaining invocations, so
// the returned slice always has one outcome per input spec, order-stable.
func MeasureAll(ctx context.Context, t *Tool, p BootParams, specs []cpuspec.Spec) []Outcome {
	outcomes := make([]Outcome, 0, len(specs))
	for _, spec := range specs {
		m, err := t.Measure(ctx, p, spec)
		if err != nil {
			outcomes = append(outcomes, Outcome{Spec: spec, Err: err.Error()})
			continue
		}
		outcomes = append(outcomes, Outcome{Spec: spec, Hex: m})
	}
	return outcomes
}
