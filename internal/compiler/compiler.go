// Package compiler compiles optimized IR into a Myriad blob.
package compiler

import (
	"context"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/myriadexport/myriad-export/internal/toolchain"
	"github.com/myriadexport/myriad-export/internal/ui"
	"github.com/myriadexport/myriad-export/internal/workspace"
	"github.com/myriadexport/myriad-export/pkg/types"
)

// ConfigName is the device configuration file inside the workspace
const ConfigName = "myriad.config"

// DeviceConfigText renders d in the compile_tool configuration format
func DeviceConfigText(d types.DeviceConfig) string {
	return fmt.Sprintf("MYRIAD_NUMBER_OF_SHAVES %d\n", d.Shaves) +
		fmt.Sprintf("MYRIAD_NUMBER_OF_CMX_SLICES %d\n", d.CMXSlices) +
		fmt.Sprintf("MYRIAD_THROUGHPUT_STREAMS %d\n", d.Streams) +
		"MYRIAD_ENABLE_MX_BOOT NO\n"
}

// Compiler runs compile_tool for one target device
type Compiler struct {
	runner  toolchain.Runner
	tool    string
	device  string
	env     []string
	ws      *workspace.Workspace
	console *ui.Console
}

// New creates a compiler. env is the complete child environment, normally
// toolchain.OpenVINO.Environ(os.Environ()).
func New(runner toolchain.Runner, tool, device string, env []string, ws *workspace.Workspace, console *ui.Console) *Compiler {
	return &Compiler{
		runner:  runner,
		tool:    tool,
		device:  device,
		env:     env,
		ws:      ws,
		console: console,
	}
}

// Command builds the compile_tool invocation
func (c *Compiler) Command(ir, blob, config string, inputType types.ElementType) toolchain.Command {
	return toolchain.Command{
		Path: c.tool,
		Args: []string{
			"-m", ir,
			"-o", blob,
			"-d", c.device,
			"-ip", string(inputType),
			"-c", config,
		},
		Env: c.env,
	}
}

// Compile compiles ir into a staging blob in the workspace and, only when
// compile_tool succeeds, publishes it to req.Output.
func (c *Compiler) Compile(ctx context.Context, ir string, req *types.Request) (*workspace.Artifact, error) {
	log := klog.FromContext(ctx)
	c.console.Step("Compiling from ONNX to Myriad Blob ...")

	config, err := c.ws.WriteFile(ConfigName, []byte(DeviceConfigText(req.Device)))
	if err != nil {
		return nil, fmt.Errorf("failed to write device configuration: %w", err)
	}

	staging := c.ws.BlobPath(req.ModelName())
	cmd := c.Command(ir, staging, config, req.InputType)
	log.V(2).Info("running compiler", "command", cmd.String())
	if err := toolchain.Exec(ctx, c.runner, "compile_tool", cmd); err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", ir, err)
	}

	if _, err := os.Stat(staging); err != nil {
		return nil, fmt.Errorf("failed to compile %s: no blob written: %w", ir, err)
	}

	artifact, err := c.ws.Publish(staging, req.Output)
	if err != nil {
		return nil, err
	}
	log.V(2).Info("published blob", "path", artifact.Path, "bytes", artifact.Size, "sha256", artifact.SHA256)
	return artifact, nil
}
