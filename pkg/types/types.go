package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ElementType is the element type the compiled blob expects on its input
type ElementType string

const (
	U8   ElementType = "U8"
	U16  ElementType = "U16"
	U32  ElementType = "U32"
	U64  ElementType = "U64"
	I8   ElementType = "I8"
	I16  ElementType = "I16"
	I32  ElementType = "I32"
	I64  ElementType = "I64"
	BF16 ElementType = "BF16"
	FP16 ElementType = "FP16"
	FP32 ElementType = "FP32"
	BOOL ElementType = "BOOL"
)

// ElementTypes lists every accepted input element type
var ElementTypes = []ElementType{U8, U16, U32, U64, I8, I16, I32, I64, BF16, FP16, FP32, BOOL}

// ParseElementType parses an element type name such as "U8" or "FP16"
func ParseElementType(s string) (ElementType, error) {
	for _, et := range ElementTypes {
		if string(et) == s {
			return et, nil
		}
	}
	return "", fmt.Errorf("invalid input type %q (choose from %s)", s, joinElementTypes())
}

func joinElementTypes() string {
	names := make([]string, len(ElementTypes))
	for i, et := range ElementTypes {
		names[i] = string(et)
	}
	return strings.Join(names, ", ")
}

// ExportStrategy selects how a PyTorch model is turned into an ONNX graph
type ExportStrategy string

const (
	// ExportLegacy uses torch.onnx.export pinned to an opset version
	ExportLegacy ExportStrategy = "legacy"
	// ExportDynamo uses the experimental dynamo exporter. It cannot be pinned
	// to an opset and usually breaks the optimizer.
	ExportDynamo ExportStrategy = "dynamo"
)

// DeviceConfig holds the accelerator parameters consumed by the compiler
type DeviceConfig struct {
	Shaves    int `json:"nshaves"`
	CMXSlices int `json:"nslices"`
	Streams   int `json:"nstreams"`
}

// DefaultDeviceConfig returns the stock Myriad X configuration
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Shaves:    4,
		CMXSlices: 4,
		Streams:   1,
	}
}

// Validate checks that every count is positive
func (d DeviceConfig) Validate() error {
	switch {
	case d.Shaves <= 0:
		return &ValidationError{Field: "nshaves", Reason: "must be positive"}
	case d.CMXSlices <= 0:
		return &ValidationError{Field: "nslices", Reason: "must be positive"}
	case d.Streams <= 0:
		return &ValidationError{Field: "nstreams", Reason: "must be positive"}
	}
	return nil
}

// Request is the configuration of a single conversion run
type Request struct {
	// Source artifact: a PyTorch checkpoint or an .onnx graph
	Input string `json:"input"`
	// Key selecting the model when the checkpoint is a dict
	ModelKey string `json:"model_key"`

	InputShape []int64     `json:"input_shape,omitempty"`
	InputType  ElementType `json:"input_type"`
	ModelDtype string      `json:"model_dtype"`

	// Mean and Scale keep the caller's number literals so they reach the
	// optimizer unchanged.
	Mean                 []json.Number `json:"mean,omitempty"`
	Scale                []json.Number `json:"scale,omitempty"`
	ReverseInputChannels bool          `json:"reverse_input_channels"`

	Device   DeviceConfig   `json:"device"`
	Opset    int            `json:"opset"`
	Strategy ExportStrategy `json:"strategy"`

	Output string `json:"output"`
}

// floatingDtypes are the PyTorch dtype names torch.rand can produce
var floatingDtypes = map[string]bool{
	"float32":  true,
	"float":    true,
	"float16":  true,
	"half":     true,
	"bfloat16": true,
	"float64":  true,
	"double":   true,
}

// IsONNX reports whether the input is already an ONNX graph
func (r *Request) IsONNX() bool {
	return strings.EqualFold(filepath.Ext(r.Input), ".onnx")
}

// ModelName returns the input file name without its extension
func (r *Request) ModelName() string {
	base := filepath.Base(r.Input)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Channels returns the channel dimension of the input shape (NCHW)
func (r *Request) Channels() (int64, bool) {
	if len(r.InputShape) < 2 {
		return 0, false
	}
	return r.InputShape[1], true
}

// Validate checks the request invariants before any stage runs
func (r *Request) Validate() error {
	if r.Input == "" {
		return &ValidationError{Field: "input", Reason: "is required"}
	}
	if r.Output == "" {
		return &ValidationError{Field: "output", Reason: "is required"}
	}
	if _, err := ParseElementType(string(r.InputType)); err != nil {
		return &ValidationError{Field: "input-type", Reason: err.Error()}
	}
	if err := r.Device.Validate(); err != nil {
		return err
	}

	for i, dim := range r.InputShape {
		if dim <= 0 {
			return &ValidationError{
				Field:  "input-shape",
				Reason: fmt.Sprintf("dimension %d is %d, must be positive", i, dim),
			}
		}
	}

	if !r.IsONNX() {
		if len(r.InputShape) == 0 {
			return &ValidationError{Field: "input-shape", Reason: "is required to export a PyTorch model"}
		}
		if !floatingDtypes[r.ModelDtype] {
			return &ValidationError{
				Field:  "model-dtype",
				Reason: fmt.Sprintf("%q cannot be used to synthesize a random input, use a floating dtype", r.ModelDtype),
			}
		}
		switch r.Strategy {
		case ExportLegacy:
			if r.Opset <= 0 {
				return &ValidationError{Field: "opset", Reason: "must be positive"}
			}
		case ExportDynamo:
		default:
			return &ValidationError{Field: "strategy", Reason: fmt.Sprintf("unknown export strategy %q", r.Strategy)}
		}
	}

	if channels, ok := r.Channels(); ok {
		if err := checkVector("mean", r.Mean, channels); err != nil {
			return err
		}
		if err := checkVector("scale", r.Scale, channels); err != nil {
			return err
		}
	}

	return nil
}

func checkVector(field string, v []json.Number, channels int64) error {
	if v == nil {
		return nil
	}
	if int64(len(v)) != channels {
		return &ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("has %d values but the input has %d channels", len(v), channels),
		}
	}
	return nil
}

// ValidationError reports a request that cannot be converted
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ParseShape parses a JSON shape such as "[1, 3, 240, 320]"
func ParseShape(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var shape []int64
	if err := json.Unmarshal([]byte(s), &shape); err != nil {
		return nil, fmt.Errorf("failed to parse shape %q: %w", s, err)
	}
	return shape, nil
}

// ParseVector parses a JSON list of numbers, keeping each literal as written
func ParseVector(s string) ([]json.Number, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var raw []interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse vector %q: %w", s, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse vector %q: trailing data after the list", s)
	}

	values := make([]json.Number, 0, len(raw))
	for _, item := range raw {
		n, ok := item.(json.Number)
		if !ok {
			return nil, fmt.Errorf("failed to parse vector %q: %v is not a number", s, item)
		}
		values = append(values, n)
	}
	return values, nil
}

// FormatVector renders numbers as a bracketed list, e.g. "[0.5, 0.5, 0.5]"
func FormatVector(v []json.Number) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = n.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
