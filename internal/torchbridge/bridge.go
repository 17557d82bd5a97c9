// Package torchbridge drives the Python side of the conversion: checkpoint
// deserialization, ONNX export and ONNX simplification. The helper script is
// embedded in the binary and written into the run's workspace on first use.
package torchbridge

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/myriadexport/myriad-export/internal/toolchain"
	"github.com/myriadexport/myriad-export/internal/workspace"
	"github.com/myriadexport/myriad-export/pkg/types"
)

//go:embed bridge.py
var script []byte

const (
	scriptName = "torchbridge.py"
	resultName = "torchbridge-result.json"
)

// Kind classifies a deserialized checkpoint value
type Kind string

const (
	KindMapping Kind = "mapping"
	KindModule  Kind = "module"
	KindOther   Kind = "other"
)

// Value describes a deserialized checkpoint value without holding it
type Value struct {
	Kind Kind   `json:"kind"`
	Type string `json:"type"`
	// Evaluable values have eval() and to() and can be exported
	Evaluable bool `json:"evaluable"`
	// Keys holds the repr of every mapping key, in insertion order
	Keys []string `json:"keys,omitempty"`
	// Entries describes the children under string keys, one level deep
	Entries map[string]*Value `json:"entries,omitempty"`
}

// ExportOptions configures one ONNX export
type ExportOptions struct {
	Input string
	// Key selects a child of a mapping checkpoint; empty exports the value itself
	Key      string
	Shape    []int64
	Dtype    string
	Opset    int
	Strategy types.ExportStrategy
	Output   string
}

// Client runs the helper script with a Python interpreter
type Client struct {
	python string
	runner toolchain.Runner
	ws     *workspace.Workspace

	scriptPath string
}

// NewClient creates a client whose scratch files live in ws
func NewClient(python string, runner toolchain.Runner, ws *workspace.Workspace) *Client {
	return &Client{
		python: python,
		runner: runner,
		ws:     ws,
	}
}

// Inspect deserializes the checkpoint at path and describes it
func (c *Client) Inspect(ctx context.Context, path string) (*Value, error) {
	result := c.ws.Path(resultName)
	defer os.Remove(result)

	if err := c.run(ctx, "inspect", "--input", path, "--result", result); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(result)
	if err != nil {
		return nil, fmt.Errorf("failed to read inspection result: %w", err)
	}
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode inspection result: %w", err)
	}

	klog.FromContext(ctx).V(2).Info("inspected checkpoint", "path", path, "kind", v.Kind, "type", v.Type)
	return &v, nil
}

// Export writes an ONNX graph of the selected model to opts.Output
func (c *Client) Export(ctx context.Context, opts ExportOptions) error {
	shape, err := json.Marshal(opts.Shape)
	if err != nil {
		return fmt.Errorf("failed to encode shape: %w", err)
	}

	args := []string{"export", "--input", opts.Input}
	if opts.Key != "" {
		args = append(args, "--key", opts.Key)
	}
	args = append(args,
		"--shape", string(shape),
		"--dtype", opts.Dtype,
		"--strategy", string(opts.Strategy),
	)
	if opts.Strategy != types.ExportDynamo {
		args = append(args, "--opset", strconv.Itoa(opts.Opset))
	}
	args = append(args, "--output", opts.Output)

	return c.run(ctx, args...)
}

// Simplify writes a simplified copy of the graph at input to output
func (c *Client) Simplify(ctx context.Context, input, output string) error {
	return c.run(ctx, "simplify", "--input", input, "--output", output)
}

// Check runs the ONNX checker over the graph at path
func (c *Client) Check(ctx context.Context, path string) error {
	return c.run(ctx, "check", "--input", path)
}

func (c *Client) run(ctx context.Context, args ...string) error {
	path, err := c.ensureScript()
	if err != nil {
		return err
	}
	cmd := toolchain.Command{
		Path: c.python,
		Args: append([]string{path}, args...),
		Dir:  c.ws.Dir(),
	}
	return toolchain.Exec(ctx, c.runner, "torchbridge "+args[0], cmd)
}

func (c *Client) ensureScript() (string, error) {
	if c.scriptPath != "" {
		return c.scriptPath, nil
	}
	path, err := c.ws.WriteFile(scriptName, script)
	if err != nil {
		return "", fmt.Errorf("failed to install helper script: %w", err)
	}
	c.scriptPath = path
	return path, nil
}

// FormatKeys renders key reprs the way Python prints a list of keys,
// e.g. "['optimizer_state', 'net']"
func FormatKeys(keys []string) string {
	return "[" + strings.Join(keys, ", ") + "]"
}
