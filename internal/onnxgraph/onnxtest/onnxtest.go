// Package onnxtest builds serialized ONNX models for tests
package onnxtest

import (
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/myriadexport/myriad-export/internal/onnxgraph"
)

// Marshal encodes m in the ONNX protobuf wire format. Weight payloads are
// not part of onnxgraph.Model, so initializers are written without data.
func Marshal(m *onnxgraph.Model) []byte {
	var b []byte
	b = appendVarint(b, 1, m.IRVersion)
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	if m.Graph != nil {
		b = appendMessage(b, 7, marshalGraph(m.Graph))
	}
	for _, o := range m.Opsets {
		var ob []byte
		ob = appendString(ob, 1, o.Domain)
		ob = appendVarint(ob, 2, o.Version)
		b = appendMessage(b, 8, ob)
	}
	return b
}

func marshalGraph(g *onnxgraph.Graph) []byte {
	var b []byte
	for _, node := range g.Nodes {
		var nb []byte
		for _, in := range node.Inputs {
			nb = protowire.AppendTag(nb, 1, protowire.BytesType)
			nb = protowire.AppendString(nb, in)
		}
		for _, out := range node.Outputs {
			nb = protowire.AppendTag(nb, 2, protowire.BytesType)
			nb = protowire.AppendString(nb, out)
		}
		nb = appendString(nb, 3, node.Name)
		nb = appendString(nb, 4, node.OpType)
		nb = appendString(nb, 7, node.Domain)
		b = appendMessage(b, 1, nb)
	}
	b = appendString(b, 2, g.Name)
	for _, init := range g.Initializers {
		var ib []byte
		for _, d := range init.Dims {
			ib = appendVarint(ib, 1, d)
		}
		ib = appendVarint(ib, 2, int64(init.DataType))
		ib = appendString(ib, 8, init.Name)
		b = appendMessage(b, 5, ib)
	}
	for _, in := range g.Inputs {
		b = appendMessage(b, 11, marshalValueInfo(in))
	}
	for _, out := range g.Outputs {
		b = appendMessage(b, 12, marshalValueInfo(out))
	}
	return b
}

func marshalValueInfo(vi onnxgraph.ValueInfo) []byte {
	var shape []byte
	for _, d := range vi.Shape {
		var db []byte
		if d.Param != "" {
			db = appendString(db, 2, d.Param)
		} else {
			db = appendVarint(db, 1, d.Value)
		}
		shape = appendMessage(shape, 1, db)
	}

	var tensor []byte
	tensor = appendVarint(tensor, 1, int64(vi.ElemType))
	tensor = appendMessage(tensor, 2, shape)

	var typ []byte
	typ = appendMessage(typ, 1, tensor)

	var b []byte
	b = appendString(b, 1, vi.Name)
	b = appendMessage(b, 2, typ)
	return b
}

func appendVarint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// appendString skips empty strings, like proto3 scalar fields
func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// ConvNet returns a small exported-style graph:
// input -> Conv(weight, bias) -> Relu -> output, opset 12
func ConvNet() *onnxgraph.Model {
	return &onnxgraph.Model{
		IRVersion:       7,
		ProducerName:    "pytorch",
		ProducerVersion: "1.13.1",
		Opsets:          []onnxgraph.Opset{{Domain: "", Version: 12}},
		Graph: &onnxgraph.Graph{
			Name: "torch_jit",
			Nodes: []onnxgraph.Node{
				{Name: "Conv_0", OpType: "Conv", Inputs: []string{"input", "conv.weight", "conv.bias"}, Outputs: []string{"3"}},
				{Name: "Relu_1", OpType: "Relu", Inputs: []string{"3"}, Outputs: []string{"output"}},
			},
			Initializers: []onnxgraph.Initializer{
				{Name: "conv.weight", DataType: 1, Dims: []int64{8, 3, 3, 3}},
				{Name: "conv.bias", DataType: 1, Dims: []int64{8}},
			},
			Inputs: []onnxgraph.ValueInfo{
				{Name: "input", ElemType: 1, Shape: []onnxgraph.Dim{{Value: 1}, {Value: 3}, {Value: 240}, {Value: 320}}},
			},
			Outputs: []onnxgraph.ValueInfo{
				{Name: "output", ElemType: 1, Shape: []onnxgraph.Dim{{Value: 1}, {Value: 8}, {Value: 238}, {Value: 318}}},
			},
		},
	}
}

// WriteFile serializes m into dir/name and returns the path
func WriteFile(t testing.TB, dir, name string, m *onnxgraph.Model) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Marshal(m), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}
