package onnxgraph

import (
	"fmt"
	"strings"
)

// ValidationError lists every structural problem found in a graph
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid graph: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid graph: %d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// Validate checks that a model is a well-formed single-input single-output
// graph:
//   - the default operator set is imported
//   - exactly one fed input and exactly one output, all named
//   - nodes are in topological order: every input is a graph input, an
//     initializer, or the output of an earlier node
//   - every tensor name is defined once
//   - every graph output is produced
func Validate(m *Model) error {
	var problems []string
	addf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if m.OpsetVersion() <= 0 {
		addf("no default-domain opset import")
	}

	g := m.Graph
	if g == nil {
		addf("model has no graph")
		return &ValidationError{Problems: problems}
	}

	inputs := g.GraphInputs()
	if len(inputs) != 1 {
		addf("expected exactly one input, found %d", len(inputs))
	}
	if len(g.Outputs) != 1 {
		addf("expected exactly one output, found %d", len(g.Outputs))
	}

	defined := make(map[string]bool)
	define := func(name, what string) {
		if name == "" {
			addf("%s has an empty name", what)
			return
		}
		if defined[name] {
			addf("tensor %q is defined more than once", name)
			return
		}
		defined[name] = true
	}

	for _, init := range g.Initializers {
		define(init.Name, "initializer")
	}
	for _, in := range g.Inputs {
		// Inputs shadowing initializers are the legacy form of the same tensor
		if defined[in.Name] {
			continue
		}
		define(in.Name, "graph input")
	}

	for i, node := range g.Nodes {
		label := node.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if node.OpType == "" {
			addf("node %s has no op_type", label)
		}
		for _, in := range node.Inputs {
			// Empty names mark omitted optional inputs
			if in != "" && !defined[in] {
				addf("node %s (%s) reads %q before it is produced", label, node.OpType, in)
			}
		}
		for _, out := range node.Outputs {
			if out == "" {
				continue
			}
			define(out, "node output")
		}
	}

	for _, out := range g.Outputs {
		if out.Name == "" {
			addf("graph output has an empty name")
			continue
		}
		if !defined[out.Name] {
			addf("graph output %q is never produced", out.Name)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// CheckContract fails when simplification changed the graph's named
// inputs or outputs
func CheckContract(before, after Contract) error {
	if before.Equal(after) {
		return nil
	}
	return &ValidationError{
		Problems: []string{fmt.Sprintf("graph interface changed from %s to %s", before, after)},
	}
}
