// Package optimizer runs the OpenVINO Model Optimizer over a validated ONNX
// graph, producing the IR the compiler consumes.
package optimizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"

	"github.com/myriadexport/myriad-export/internal/toolchain"
	"github.com/myriadexport/myriad-export/internal/ui"
	"github.com/myriadexport/myriad-export/pkg/types"
)

// Optimizer invokes mo
type Optimizer struct {
	runner  toolchain.Runner
	mo      string
	env     []string
	console *ui.Console
}

// New creates an optimizer running the mo executable at path mo. env is
// the complete child environment; nil inherits ours.
func New(runner toolchain.Runner, mo string, env []string, console *ui.Console) *Optimizer {
	return &Optimizer{
		runner:  runner,
		mo:      mo,
		env:     env,
		console: console,
	}
}

// Command builds the mo invocation. Mean values always precede scale
// values: mo centers before it scales.
func (o *Optimizer) Command(graph, outDir string, req *types.Request) toolchain.Command {
	args := []string{
		"--framework", "onnx",
		"--input_model", graph,
		"--compress_to_fp16",
		"--output_dir", outDir,
	}
	if req.ReverseInputChannels {
		args = append(args, "--reverse_input_channels")
	}
	if req.Mean != nil {
		args = append(args, "--mean_values", types.FormatVector(req.Mean))
	}
	if req.Scale != nil {
		args = append(args, "--scale_values", types.FormatVector(req.Scale))
	}

	return toolchain.Command{
		Path: o.mo,
		Args: args,
		Env:  o.env,
	}
}

// IRPath returns the topology file mo writes for graph into outDir
func IRPath(graph, outDir string) string {
	base := filepath.Base(graph)
	return filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".xml")
}

// Optimize converts graph into IR under outDir and returns the topology
// file path. A non-zero mo status is returned as a *toolchain.ExitError.
func (o *Optimizer) Optimize(ctx context.Context, graph, outDir string, req *types.Request) (string, error) {
	o.console.Step("Optimizing ...")

	cmd := o.Command(graph, outDir, req)
	klog.FromContext(ctx).V(2).Info("running model optimizer", "command", cmd.String())
	if err := toolchain.Exec(ctx, o.runner, "mo", cmd); err != nil {
		return "", fmt.Errorf("failed to optimize %s: %w", graph, err)
	}

	ir := IRPath(graph, outDir)
	if _, err := os.Stat(ir); err != nil {
		return "", fmt.Errorf("failed to optimize %s: no IR written: %w", graph, err)
	}
	return ir, nil
}
