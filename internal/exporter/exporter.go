// Package exporter turns a loaded PyTorch model into an ONNX graph.
package exporter

import (
	"context"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/myriadexport/myriad-export/internal/loader"
	"github.com/myriadexport/myriad-export/internal/torchbridge"
	"github.com/myriadexport/myriad-export/internal/ui"
	"github.com/myriadexport/myriad-export/pkg/types"
)

// Bridge performs the export
type Bridge interface {
	Export(ctx context.Context, opts torchbridge.ExportOptions) error
}

// Exporter exports models with a fixed strategy
type Exporter struct {
	bridge   Bridge
	console  *ui.Console
	strategy types.ExportStrategy
	opset    int
}

// New creates an exporter. opset is ignored by the dynamo strategy.
func New(bridge Bridge, console *ui.Console, strategy types.ExportStrategy, opset int) *Exporter {
	return &Exporter{
		bridge:   bridge,
		console:  console,
		strategy: strategy,
		opset:    opset,
	}
}

// Export writes the ONNX graph of m to output
func (e *Exporter) Export(ctx context.Context, m *loader.Model, output string) error {
	if m.ONNX {
		return fmt.Errorf("%s is already an ONNX graph", m.Path)
	}

	log := klog.FromContext(ctx)
	e.console.Step("Exporting to ONNX ...")
	if e.strategy == types.ExportDynamo {
		log.Info("dynamo export cannot pin the opset, later stages may reject the graph")
	}

	opts := torchbridge.ExportOptions{
		Input:    m.Path,
		Key:      m.Key,
		Shape:    m.Shape,
		Dtype:    m.Dtype,
		Opset:    e.opset,
		Strategy: e.strategy,
		Output:   output,
	}
	if err := e.bridge.Export(ctx, opts); err != nil {
		return fmt.Errorf("failed to export %s: %w", m.Path, err)
	}

	info, err := os.Stat(output)
	if err != nil {
		return fmt.Errorf("failed to export %s: no graph written: %w", m.Path, err)
	}

	log.V(2).Info("exported graph", "path", output, "bytes", info.Size(), "strategy", e.strategy)
	return nil
}
