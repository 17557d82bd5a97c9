// Package onnxgraph reads the structure of ONNX model files.
//
// Only the parts of the ONNX protobuf schema needed to reason about graph
// topology are decoded: model metadata, opset imports, nodes, graph
// inputs/outputs and initializer names. Tensor payloads and attributes are
// skipped without being copied, so even multi-gigabyte models decode quickly.
//
// The decoder uses google.golang.org/protobuf/encoding/protowire directly
// instead of generated message types; the field numbers below follow
// onnx/onnx.proto3:
//
//	ModelProto:         ir_version=1 producer_name=2 producer_version=3 graph=7 opset_import=8
//	GraphProto:         node=1 name=2 initializer=5 input=11 output=12
//	NodeProto:          input=1 output=2 name=3 op_type=4 domain=7
//	ValueInfoProto:     name=1 type=2
//	TypeProto:          tensor_type=1
//	TypeProto.Tensor:   elem_type=1 shape=2
//	TensorShapeProto:   dim=1 (dim_value=1 dim_param=2)
//	TensorProto:        dims=1 data_type=2 name=8
//	OperatorSetIdProto: domain=1 version=2
//
// Example usage:
//
//	model, err := onnxgraph.ParseFile("net.onnx")
//	if err != nil {
//	    return err
//	}
//	if err := onnxgraph.Validate(model); err != nil {
//	    return err
//	}
//	fmt.Println(model.Summary())
package onnxgraph
