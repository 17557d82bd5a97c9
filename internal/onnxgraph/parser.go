package onnxgraph

import (
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile decodes the ONNX model stored at path
func ParseFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes an ONNX model from its serialized bytes
func Parse(data []byte) (*Model, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("failed to parse model: empty input")
	}
	m := &Model{}
	if err := parseModel(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return m, nil
}

// fieldFunc handles one field of a message. It returns the number of bytes
// consumed from b, or a negative protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) int

// walk iterates over the fields of a message, skipping any that fn does not
// consume (fn returns 0 for those)
func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n = fn(num, typ, b)
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

// errNested marks a sub-message that failed to decode. The decode error
// itself travels through the perr pointer of consumeMessage.
const errNested = -1

// A known field arriving with an unexpected wire type is skipped: the
// consume helpers return 0 and walk discards the value.

func consumeString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = string(v)
	}
	return n
}

func consumeVarint(typ protowire.Type, b []byte, dst *int64) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = int64(v)
	}
	return n
}

// consumeMessage decodes a length-delimited sub-message with parse
func consumeMessage(typ protowire.Type, b []byte, parse func([]byte) error, perr *error) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	if err := parse(v); err != nil {
		*perr = err
		return errNested
	}
	return n
}

// consumeInt64s decodes a repeated int64 field in packed or unpacked form
func consumeInt64s(typ protowire.Type, b []byte, dst *[]int64) int {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n >= 0 {
			*dst = append(*dst, int64(v))
		}
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return m
			}
			*dst = append(*dst, int64(v))
			packed = packed[m:]
		}
		return n
	}
	return 0
}

// nested runs a field walk and keeps the first nested decode error so it
// can be reported instead of a bare wire-type error
func nested(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte, perr *error) int) error {
	var inner error
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		return fn(num, typ, b, &inner)
	})
	if inner != nil {
		return inner
	}
	return err
}

func parseModel(b []byte, m *Model) error {
	return nested(b, func(num protowire.Number, typ protowire.Type, b []byte, perr *error) int {
		switch num {
		case 1:
			return consumeVarint(typ, b, &m.IRVersion)
		case 2:
			return consumeString(typ, b, &m.ProducerName)
		case 3:
			return consumeString(typ, b, &m.ProducerVersion)
		case 7:
			m.Graph = &Graph{}
			return consumeMessage(typ, b, func(v []byte) error {
				return parseGraph(v, m.Graph)
			}, perr)
		case 8:
			var o Opset
			n := consumeMessage(typ, b, func(v []byte) error {
				return parseOpset(v, &o)
			}, perr)
			if n > 0 {
				m.Opsets = append(m.Opsets, o)
			}
			return n
		}
		return 0
	})
}

func parseOpset(b []byte, o *Opset) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &o.Domain)
		case 2:
			return consumeVarint(typ, b, &o.Version)
		}
		return 0
	})
}

func parseGraph(b []byte, g *Graph) error {
	return nested(b, func(num protowire.Number, typ protowire.Type, b []byte, perr *error) int {
		switch num {
		case 1:
			var node Node
			n := consumeMessage(typ, b, func(v []byte) error {
				return parseNode(v, &node)
			}, perr)
			if n > 0 {
				g.Nodes = append(g.Nodes, node)
			}
			return n
		case 2:
			return consumeString(typ, b, &g.Name)
		case 5:
			var init Initializer
			n := consumeMessage(typ, b, func(v []byte) error {
				return parseInitializer(v, &init)
			}, perr)
			if n > 0 {
				g.Initializers = append(g.Initializers, init)
			}
			return n
		case 11, 12:
			var vi ValueInfo
			n := consumeMessage(typ, b, func(v []byte) error {
				return parseValueInfo(v, &vi)
			}, perr)
			if n > 0 {
				if num == 11 {
					g.Inputs = append(g.Inputs, vi)
				} else {
					g.Outputs = append(g.Outputs, vi)
				}
			}
			return n
		}
		return 0
	})
}

func parseNode(b []byte, node *Node) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1, 2:
			var s string
			n := consumeString(typ, b, &s)
			if n > 0 {
				if num == 1 {
					node.Inputs = append(node.Inputs, s)
				} else {
					node.Outputs = append(node.Outputs, s)
				}
			}
			return n
		case 3:
			return consumeString(typ, b, &node.Name)
		case 4:
			return consumeString(typ, b, &node.OpType)
		case 7:
			return consumeString(typ, b, &node.Domain)
		}
		return 0
	})
}

func parseInitializer(b []byte, init *Initializer) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeInt64s(typ, b, &init.Dims)
		case 2:
			var dt int64
			n := consumeVarint(typ, b, &dt)
			init.DataType = int32(dt)
			return n
		case 8:
			return consumeString(typ, b, &init.Name)
		}
		return 0
	})
}

func parseValueInfo(b []byte, vi *ValueInfo) error {
	return nested(b, func(num protowire.Number, typ protowire.Type, b []byte, perr *error) int {
		switch num {
		case 1:
			return consumeString(typ, b, &vi.Name)
		case 2:
			return consumeMessage(typ, b, func(v []byte) error {
				return parseType(v, vi)
			}, perr)
		}
		return 0
	})
}

// parseType reads TypeProto; only tensor types carry information we use
func parseType(b []byte, vi *ValueInfo) error {
	return nested(b, func(num protowire.Number, typ protowire.Type, b []byte, perr *error) int {
		if num != 1 {
			return 0
		}
		return consumeMessage(typ, b, func(v []byte) error {
			return parseTensorType(v, vi)
		}, perr)
	})
}

func parseTensorType(b []byte, vi *ValueInfo) error {
	return nested(b, func(num protowire.Number, typ protowire.Type, b []byte, perr *error) int {
		switch num {
		case 1:
			var et int64
			n := consumeVarint(typ, b, &et)
			vi.ElemType = int32(et)
			return n
		case 2:
			return consumeMessage(typ, b, func(v []byte) error {
				return parseShape(v, vi)
			}, perr)
		}
		return 0
	})
}

func parseShape(b []byte, vi *ValueInfo) error {
	return nested(b, func(num protowire.Number, typ protowire.Type, b []byte, perr *error) int {
		if num != 1 {
			return 0
		}
		var d Dim
		n := consumeMessage(typ, b, func(v []byte) error {
			return walk(v, func(num protowire.Number, typ protowire.Type, b []byte) int {
				switch num {
				case 1:
					return consumeVarint(typ, b, &d.Value)
				case 2:
					return consumeString(typ, b, &d.Param)
				}
				return 0
			})
		}, perr)
		if n > 0 {
			vi.Shape = append(vi.Shape, d)
		}
		return n
	})
}
