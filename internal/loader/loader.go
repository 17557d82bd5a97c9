// Package loader resolves a source artifact into something the exporter
// can turn into an ONNX graph.
package loader

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/myriadexport/myriad-export/internal/torchbridge"
	"github.com/myriadexport/myriad-export/internal/ui"
	"github.com/myriadexport/myriad-export/pkg/types"
)

// Inspector deserializes a checkpoint and describes its contents
type Inspector interface {
	Inspect(ctx context.Context, path string) (*torchbridge.Value, error)
}

// Model is a loaded source artifact
type Model struct {
	// Path is the source artifact
	Path string
	// ONNX is set when Path already holds an ONNX graph and export is skipped
	ONNX bool
	// Key is the checkpoint key holding the model, empty when the
	// checkpoint is the model itself
	Key string
	// Dtype is the PyTorch dtype the model is cast to before export
	Dtype string
	// Shape of the dummy input the exporter synthesizes
	Shape []int64
}

// LoadError reports a checkpoint that does not contain an exportable model
type LoadError struct {
	Path string
	Type string
	// Keys lists the mapping keys when the checkpoint was a mapping
	Keys []string
}

func (e *LoadError) Error() string {
	if e.Keys != nil {
		return fmt.Sprintf("could not load a model from %s: %s with keys %s has no eval()",
			e.Path, e.Type, torchbridge.FormatKeys(e.Keys))
	}
	return fmt.Sprintf("could not load a model from %s: %s has no eval()", e.Path, e.Type)
}

// Selection is the outcome of looking a key up in a checkpoint value
type Selection struct {
	value *torchbridge.Value
}

// NotFound is the empty selection
var NotFound = Selection{}

// Found wraps a selected child value
func Found(v *torchbridge.Value) Selection {
	return Selection{value: v}
}

// Found reports whether the key selected a child
func (s Selection) Found() bool {
	return s.value != nil
}

// Value returns the selected child, nil when nothing was found
func (s Selection) Value() *torchbridge.Value {
	return s.value
}

// Select looks key up in v. Values that are not mappings select nothing.
func Select(v *torchbridge.Value, key string) Selection {
	if v == nil || v.Kind != torchbridge.KindMapping {
		return NotFound
	}
	child, ok := v.Entries[key]
	if !ok || child == nil {
		return NotFound
	}
	return Found(child)
}

// Loader loads PyTorch checkpoints through an Inspector
type Loader struct {
	inspector Inspector
	console   *ui.Console
}

// New creates a loader reporting to console
func New(inspector Inspector, console *ui.Console) *Loader {
	return &Loader{
		inspector: inspector,
		console:   console,
	}
}

// Load resolves req.Input. ONNX graphs pass through untouched.
func (l *Loader) Load(ctx context.Context, req *types.Request) (*Model, error) {
	if req.IsONNX() {
		klog.FromContext(ctx).V(2).Info("input is already an ONNX graph", "path", req.Input)
		return &Model{Path: req.Input, ONNX: true}, nil
	}

	l.console.Step("Loading PyTorch model ...")
	value, err := l.inspector.Inspect(ctx, req.Input)
	if err != nil {
		l.console.Step("Could not load the model.")
		return nil, fmt.Errorf("failed to load %s: %w", req.Input, err)
	}

	key, err := l.resolve(req.Input, value, req.ModelKey)
	if err != nil {
		return nil, err
	}

	klog.FromContext(ctx).V(2).Info("resolved model", "path", req.Input, "key", key)
	return &Model{
		Path:  req.Input,
		Key:   key,
		Dtype: req.ModelDtype,
		Shape: req.InputShape,
	}, nil
}

// resolve picks the model out of a checkpoint: the child at key when there
// is one, otherwise the checkpoint itself. It returns the key that selected
// the model, or "" for the checkpoint itself.
func (l *Loader) resolve(path string, value *torchbridge.Value, key string) (string, error) {
	candidate := value
	selected := ""
	if sel := Select(value, key); sel.Found() {
		candidate = sel.Value()
		selected = key
	}

	if candidate.Evaluable {
		return selected, nil
	}

	loadErr := &LoadError{Path: path, Type: candidate.Type}
	if candidate.Kind == torchbridge.KindMapping {
		loadErr.Keys = candidate.Keys
		if loadErr.Keys == nil {
			loadErr.Keys = []string{}
		}
		l.console.Printf("Loaded a dict with the following keys: %s\n", torchbridge.FormatKeys(candidate.Keys))
	}
	l.console.Step("Could not load the model.")
	return "", loadErr
}
