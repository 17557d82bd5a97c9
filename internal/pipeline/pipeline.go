// Package pipeline sequences the conversion stages for one request:
// Load, Export, Simplify, Optimize, Compile. The first failing stage ends
// the run; its status becomes the process exit status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"k8s.io/klog/v2"

	"github.com/myriadexport/myriad-export/internal/compiler"
	"github.com/myriadexport/myriad-export/internal/exporter"
	"github.com/myriadexport/myriad-export/internal/loader"
	"github.com/myriadexport/myriad-export/internal/onnxgraph"
	"github.com/myriadexport/myriad-export/internal/optimizer"
	"github.com/myriadexport/myriad-export/internal/simplifier"
	"github.com/myriadexport/myriad-export/internal/toolchain"
	"github.com/myriadexport/myriad-export/internal/torchbridge"
	"github.com/myriadexport/myriad-export/internal/ui"
	"github.com/myriadexport/myriad-export/internal/workspace"
	"github.com/myriadexport/myriad-export/pkg/types"
)

const (
	// SentinelStatus is the exit status of failures that have no tool
	// status of their own, such as a checkpoint without a model
	SentinelStatus = -1
	// ValidationStatus is the exit status of a graph failing the structural checks
	ValidationStatus = 1
)

// State names a pipeline stage
type State string

const (
	StateLoad     State = "load"
	StateExport   State = "export"
	StateSimplify State = "simplify"
	StateOptimize State = "optimize"
	StateCompile  State = "compile"
)

// Run is the state threaded through the stages of one conversion
type Run struct {
	Request   *types.Request
	Workspace *workspace.Workspace

	Model *loader.Model
	// Graph is the current ONNX graph: the input or exported graph until
	// simplification, the simplified graph after
	Graph    string
	IR       string
	Artifact *workspace.Artifact
}

// Stage is one step of the conversion
type Stage interface {
	Name() string
	Run(ctx context.Context, run *Run) error
}

// StageError reports the stage that ended a run
type StageError struct {
	Stage  string
	Status int
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StatusOf maps a stage failure to an exit status: a tool's own status when
// a tool failed, ValidationStatus for graph validation, otherwise SentinelStatus.
func StatusOf(err error) int {
	var exitErr *toolchain.ExitError
	if errors.As(err, &exitErr) && exitErr.Status != 0 {
		return exitErr.Status
	}
	var verr *onnxgraph.ValidationError
	if errors.As(err, &verr) {
		return ValidationStatus
	}
	return SentinelStatus
}

// Bridge is the PyTorch/ONNX collaborator used by the first three stages
type Bridge interface {
	loader.Inspector
	exporter.Bridge
	simplifier.Bridge
}

// Options configures a Driver
type Options struct {
	Runner      toolchain.Runner
	Python      string
	MO          string
	CompileTool string
	Device      string
	OpenVINO    toolchain.OpenVINO
	// TempDir is the parent of run workspaces; empty means the system temp dir
	TempDir string

	Console *ui.Console
	// Progress receives a stage progress bar when set
	Progress io.Writer

	// NewBridge replaces the Python bridge
	NewBridge func(ws *workspace.Workspace) Bridge
}

// Driver runs conversions
type Driver struct {
	opts Options
}

// New creates a driver
func New(opts Options) *Driver {
	if opts.Console == nil {
		opts.Console = ui.NewConsole(os.Stdout)
	}
	if opts.Runner == nil {
		opts.Runner = toolchain.NewExecRunner()
	}
	return &Driver{opts: opts}
}

// Run converts req. The workspace is created here and removed on every
// return path; on failure nothing is written to req.Output.
func (d *Driver) Run(ctx context.Context, req *types.Request) (*workspace.Artifact, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	console := d.opts.Console
	ws, err := workspace.New(d.opts.TempDir)
	if err != nil {
		console.Failed()
		return nil, &StageError{Stage: "setup", Status: SentinelStatus, Err: err}
	}

	log := klog.FromContext(ctx).WithValues("run", ws.RunID())
	ctx = klog.NewContext(ctx, log)
	defer func() {
		log.V(2).Info("removing workspace", "dir", ws.Dir(), "usage", ui.FormatBytes(ws.Usage()))
		if err := ws.Close(); err != nil {
			log.Error(err, "failed to remove workspace")
		}
	}()

	log.V(1).Info("starting conversion", "input", req.Input, "output", req.Output, "workspace", ws.Dir())

	stages := d.Stages(ws, req)
	if d.opts.Progress != nil {
		console.WithStageBar(d.opts.Progress, len(stages))
	}

	run := &Run{Request: req, Workspace: ws}
	for _, stage := range stages {
		console.StageStarted(stage.Name())
		if err := stage.Run(ctx, run); err != nil {
			var stageErr *StageError
			if !errors.As(err, &stageErr) {
				stageErr = &StageError{Stage: stage.Name(), Status: StatusOf(err), Err: err}
			}
			log.V(1).Info("stage failed", "stage", stageErr.Stage, "status", stageErr.Status, "err", stageErr.Err)
			console.Failed()
			return nil, stageErr
		}
		console.StageDone()
	}

	a := run.Artifact
	console.Printf("Wrote %s (%s, sha256 %s) in %s\n",
		a.Path, ui.FormatBytes(a.Size), a.SHA256, ui.FormatDuration(console.Elapsed()))
	console.Done()
	return a, nil
}

// Stages returns the stages a request goes through. ONNX input skips export.
func (d *Driver) Stages(ws *workspace.Workspace, req *types.Request) []Stage {
	console := d.opts.Console

	var bridge Bridge
	if d.opts.NewBridge != nil {
		bridge = d.opts.NewBridge(ws)
	} else {
		bridge = torchbridge.NewClient(d.opts.Python, d.opts.Runner, ws)
	}

	// mo and compile_tool both come from the OpenVINO install
	env := d.opts.OpenVINO.Environ(os.Environ())

	stages := []Stage{
		&loadStage{loader: loader.New(bridge, console)},
	}
	if !req.IsONNX() {
		stages = append(stages, &exportStage{
			exporter: exporter.New(bridge, console, req.Strategy, req.Opset),
		})
	}
	stages = append(stages,
		&simplifyStage{simplifier: simplifier.New(bridge, console)},
		&optimizeStage{optimizer: optimizer.New(d.opts.Runner, d.opts.MO, env, console)},
		&compileStage{compiler: compiler.New(
			d.opts.Runner,
			d.opts.CompileTool,
			d.opts.Device,
			env,
			ws,
			console,
		)},
	)
	return stages
}
