package onnxgraph

import (
	"fmt"
	"strconv"
	"strings"
)

// Model is the decoded subset of an ONNX ModelProto
type Model struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Opsets          []Opset
	Graph           *Graph
}

// Opset is an operator set import. An empty domain (or "ai.onnx") is the
// default ONNX operator set.
type Opset struct {
	Domain  string
	Version int64
}

// Graph is the decoded subset of a GraphProto
type Graph struct {
	Name         string
	Nodes        []Node
	Inputs       []ValueInfo
	Outputs      []ValueInfo
	Initializers []Initializer
}

// Node is a single operator application
type Node struct {
	Name    string
	OpType  string
	Domain  string
	Inputs  []string
	Outputs []string
}

// ValueInfo describes a graph input or output tensor
type ValueInfo struct {
	Name     string
	ElemType int32
	Shape    []Dim
}

// Dim is one tensor dimension: either a fixed size or a symbolic name
type Dim struct {
	Value int64
	Param string
}

// Initializer is a constant tensor stored in the graph. Only its metadata
// is decoded.
type Initializer struct {
	Name     string
	DataType int32
	Dims     []int64
}

// Element type codes from TensorProto.DataType
var elemTypeNames = map[int32]string{
	1:  "float32",
	2:  "uint8",
	3:  "int8",
	4:  "uint16",
	5:  "int16",
	6:  "int32",
	7:  "int64",
	8:  "string",
	9:  "bool",
	10: "float16",
	11: "float64",
	12: "uint32",
	13: "uint64",
	16: "bfloat16",
}

// ElemTypeName returns the ONNX name of an element type code
func ElemTypeName(code int32) string {
	if name, ok := elemTypeNames[code]; ok {
		return name
	}
	return "type(" + strconv.Itoa(int(code)) + ")"
}

// OpsetVersion returns the version of the default operator set, or 0 if the
// model does not import it
func (m *Model) OpsetVersion() int64 {
	for _, o := range m.Opsets {
		if o.Domain == "" || o.Domain == "ai.onnx" {
			return o.Version
		}
	}
	return 0
}

// GraphInputs returns the inputs a caller has to feed. Older exporters list
// initializers among the graph inputs; those are left out.
func (g *Graph) GraphInputs() []ValueInfo {
	initializers := make(map[string]bool, len(g.Initializers))
	for _, init := range g.Initializers {
		initializers[init.Name] = true
	}

	inputs := make([]ValueInfo, 0, len(g.Inputs))
	for _, in := range g.Inputs {
		if !initializers[in.Name] {
			inputs = append(inputs, in)
		}
	}
	return inputs
}

// Contract is the named input/output interface of a graph
type Contract struct {
	Inputs  []string
	Outputs []string
}

// Contract returns the names of the graph's fed inputs and its outputs
func (m *Model) Contract() Contract {
	var c Contract
	if m.Graph == nil {
		return c
	}
	for _, in := range m.Graph.GraphInputs() {
		c.Inputs = append(c.Inputs, in.Name)
	}
	for _, out := range m.Graph.Outputs {
		c.Outputs = append(c.Outputs, out.Name)
	}
	return c
}

// Equal reports whether two contracts name the same tensors in the same order
func (c Contract) Equal(other Contract) bool {
	return equalStrings(c.Inputs, other.Inputs) && equalStrings(c.Outputs, other.Outputs)
}

func (c Contract) String() string {
	return fmt.Sprintf("inputs=%v outputs=%v", c.Inputs, c.Outputs)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders a value as name:type[d0x d1 ...], e.g. "input:float32[1x3x240x320]"
func (v ValueInfo) String() string {
	dims := make([]string, len(v.Shape))
	for i, d := range v.Shape {
		if d.Param != "" {
			dims[i] = d.Param
		} else {
			dims[i] = strconv.FormatInt(d.Value, 10)
		}
	}
	return fmt.Sprintf("%s:%s[%s]", v.Name, ElemTypeName(v.ElemType), strings.Join(dims, "x"))
}

// Summary describes the model in one line for logs
func (m *Model) Summary() string {
	if m.Graph == nil {
		return fmt.Sprintf("ir=%d opset=%d (no graph)", m.IRVersion, m.OpsetVersion())
	}

	inputs := make([]string, 0, len(m.Graph.Inputs))
	for _, in := range m.Graph.GraphInputs() {
		inputs = append(inputs, in.String())
	}
	outputs := make([]string, 0, len(m.Graph.Outputs))
	for _, out := range m.Graph.Outputs {
		outputs = append(outputs, out.String())
	}

	return fmt.Sprintf("ir=%d opset=%d nodes=%d initializers=%d inputs=[%s] outputs=[%s]",
		m.IRVersion, m.OpsetVersion(), len(m.Graph.Nodes), len(m.Graph.Initializers),
		strings.Join(inputs, " "), strings.Join(outputs, " "))
}
