// Package simplifier simplifies an exported ONNX graph and validates the
// result.
package simplifier

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/myriadexport/myriad-export/internal/onnxgraph"
	"github.com/myriadexport/myriad-export/internal/ui"
)

// Bridge runs the ONNX simplifier and checker
type Bridge interface {
	Simplify(ctx context.Context, input, output string) error
	Check(ctx context.Context, path string) error
}

type Simplifier struct {
	bridge  Bridge
	console *ui.Console
}

func New(bridge Bridge, console *ui.Console) *Simplifier {
	return &Simplifier{
		bridge:  bridge,
		console: console,
	}
}

// Simplify writes a simplified copy of input to output and validates it.
// input is never modified. The graph is only validated after
// simplification; before that only its interface is read.
func (s *Simplifier) Simplify(ctx context.Context, input, output string) (*onnxgraph.Model, error) {
	log := klog.FromContext(ctx)

	s.console.Step("Loading ONNX model ...")
	before, err := onnxgraph.ParseFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to load ONNX model: %w", err)
	}
	log.V(2).Info("loaded graph", "path", input, "summary", before.Summary())

	s.console.Step("Simplifying ...")
	if err := s.bridge.Simplify(ctx, input, output); err != nil {
		return nil, fmt.Errorf("failed to simplify %s: %w", input, err)
	}

	s.console.Step("Checking the ONNX model ...")
	if err := s.bridge.Check(ctx, output); err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", output, err)
	}

	after, err := onnxgraph.ParseFile(output)
	if err != nil {
		return nil, fmt.Errorf("failed to load simplified model: %w", err)
	}
	if err := onnxgraph.Validate(after); err != nil {
		return nil, err
	}
	if err := onnxgraph.CheckContract(before.Contract(), after.Contract()); err != nil {
		return nil, err
	}

	log.V(2).Info("simplified graph", "path", output, "summary", after.Summary())
	return after, nil
}
