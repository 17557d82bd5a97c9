package simplifier

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myriadexport/myriad-export/internal/onnxgraph"
	"github.com/myriadexport/myriad-export/internal/onnxgraph/onnxtest"
	"github.com/myriadexport/myriad-export/internal/toolchain"
	"github.com/myriadexport/myriad-export/internal/ui"
)

// fakeBridge "simplifies" by writing result to the output path
type fakeBridge struct {
	result      *onnxgraph.Model
	simplifyErr error
	checkErr    error
	simplified  []string
	checked     []string
}

func (f *fakeBridge) Simplify(ctx context.Context, input, output string) error {
	f.simplified = append(f.simplified, input)
	if f.simplifyErr != nil {
		return f.simplifyErr
	}
	return os.WriteFile(output, onnxtest.Marshal(f.result), 0644)
}

func (f *fakeBridge) Check(ctx context.Context, path string) error {
	f.checked = append(f.checked, path)
	return f.checkErr
}

func TestSimplify(t *testing.T) {
	dir := t.TempDir()
	input := onnxtest.WriteFile(t, dir, "net.exported.onnx", onnxtest.ConvNet())
	original, err := os.ReadFile(input)
	require.NoError(t, err)
	output := filepath.Join(dir, "net.onnx")

	bridge := &fakeBridge{result: onnxtest.ConvNet()}
	var out bytes.Buffer
	s := New(bridge, ui.NewConsole(&out))

	m, err := s.Simplify(context.Background(), input, output)
	require.NoError(t, err)
	assert.Equal(t, int64(12), m.OpsetVersion())

	assert.Equal(t, []string{input}, bridge.simplified)
	assert.Equal(t, []string{output}, bridge.checked)
	assert.Equal(t, "Loading ONNX model ...\nSimplifying ...\nChecking the ONNX model ...\n", out.String())

	unchanged, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t, original, unchanged)
}

func TestSimplifyFailures(t *testing.T) {
	renamed := onnxtest.ConvNet()
	renamed.Graph.Nodes[1].Outputs = []string{"output_0"}
	renamed.Graph.Outputs[0].Name = "output_0"

	twoInputs := onnxtest.ConvNet()
	twoInputs.Graph.Inputs = append(twoInputs.Graph.Inputs, onnxgraph.ValueInfo{Name: "mask", ElemType: 9})

	tests := []struct {
		name       string
		bridge     *fakeBridge
		validation bool
		status     int
		contains   string
	}{
		{
			name:     "simplifier exits non-zero",
			bridge:   &fakeBridge{simplifyErr: &toolchain.ExitError{Tool: "torchbridge simplify", Status: 1}},
			status:   1,
			contains: "failed to simplify",
		},
		{
			name: "checker rejects graph",
			bridge: &fakeBridge{
				result:   onnxtest.ConvNet(),
				checkErr: &toolchain.ExitError{Tool: "torchbridge check", Status: 1},
			},
			status:   1,
			contains: "failed to check",
		},
		{
			name:       "structurally invalid",
			bridge:     &fakeBridge{result: twoInputs},
			validation: true,
			contains:   "expected exactly one input, found 2",
		},
		{
			name:       "interface renamed",
			bridge:     &fakeBridge{result: renamed},
			validation: true,
			contains:   "graph interface changed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			input := onnxtest.WriteFile(t, dir, "net.exported.onnx", onnxtest.ConvNet())

			var out bytes.Buffer
			s := New(tt.bridge, ui.NewConsole(&out))

			_, err := s.Simplify(context.Background(), input, filepath.Join(dir, "net.onnx"))
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.contains)

			if tt.validation {
				var verr *onnxgraph.ValidationError
				assert.ErrorAs(t, err, &verr)
				return
			}
			var exitErr *toolchain.ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, tt.status, exitErr.Status)
		})
	}
}

func TestSimplifyUnreadableInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "broken.onnx")
	require.NoError(t, os.WriteFile(input, []byte{0xff, 0xff}, 0644))

	bridge := &fakeBridge{result: onnxtest.ConvNet()}
	var out bytes.Buffer
	s := New(bridge, ui.NewConsole(&out))

	_, err := s.Simplify(context.Background(), input, filepath.Join(dir, "net.onnx"))
	assert.ErrorContains(t, err, "failed to load ONNX model")
	assert.Empty(t, bridge.simplified)
}
