package compiler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myriadexport/myriad-export/internal/toolchain"
	"github.com/myriadexport/myriad-export/internal/ui"
	"github.com/myriadexport/myriad-export/internal/workspace"
	"github.com/myriadexport/myriad-export/pkg/types"
)

// fakeCompileTool writes blob to -o and snapshots the device config
type fakeCompileTool struct {
	status int
	blob   []byte
	config string
	calls  []toolchain.Command
}

func (f *fakeCompileTool) Run(ctx context.Context, cmd toolchain.Command) (int, error) {
	f.calls = append(f.calls, cmd)
	args := map[string]string{}
	for i := 0; i < len(cmd.Args)-1; i += 2 {
		args[cmd.Args[i]] = cmd.Args[i+1]
	}
	if data, err := os.ReadFile(args["-c"]); err == nil {
		f.config = string(data)
	}
	// A failing compiler may still leave a partial file behind
	if err := os.WriteFile(args["-o"], f.blob, 0644); err != nil {
		return -1, err
	}
	return f.status, nil
}

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestDeviceConfigText(t *testing.T) {
	assert.Equal(t,
		"MYRIAD_NUMBER_OF_SHAVES 4\n"+
			"MYRIAD_NUMBER_OF_CMX_SLICES 4\n"+
			"MYRIAD_THROUGHPUT_STREAMS 1\n"+
			"MYRIAD_ENABLE_MX_BOOT NO\n",
		DeviceConfigText(types.DefaultDeviceConfig()))

	assert.Equal(t,
		"MYRIAD_NUMBER_OF_SHAVES 8\n"+
			"MYRIAD_NUMBER_OF_CMX_SLICES 6\n"+
			"MYRIAD_THROUGHPUT_STREAMS 2\n"+
			"MYRIAD_ENABLE_MX_BOOT NO\n",
		DeviceConfigText(types.DeviceConfig{Shaves: 8, CMXSlices: 6, Streams: 2}))
}

func TestCompile(t *testing.T) {
	ws := newWorkspace(t)
	output := filepath.Join(t.TempDir(), "out", "net.blob")
	tool := &fakeCompileTool{blob: []byte("myriad blob")}
	env := []string{"INTEL_OPENVINO_DIR=/opt/intel/openvino"}
	var out bytes.Buffer

	c := New(tool, "/opt/intel/openvino/tools/compile_tool/compile_tool", "MYRIAD", env, ws, ui.NewConsole(&out))
	req := &types.Request{
		Input:     "/mnt/myriad/net.pt",
		InputType: types.FP16,
		Device:    types.DeviceConfig{Shaves: 8, CMXSlices: 8, Streams: 2},
		Output:    output,
	}

	artifact, err := c.Compile(context.Background(), ws.Path("net.xml"), req)
	require.NoError(t, err)

	require.Len(t, tool.calls, 1)
	call := tool.calls[0]
	assert.Equal(t, "/opt/intel/openvino/tools/compile_tool/compile_tool", call.Path)
	assert.Equal(t, []string{
		"-m", ws.Path("net.xml"),
		"-o", ws.BlobPath("net"),
		"-d", "MYRIAD",
		"-ip", "FP16",
		"-c", ws.Path(ConfigName),
	}, call.Args)
	assert.Equal(t, env, call.Env)
	assert.Equal(t, DeviceConfigText(req.Device), tool.config)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "myriad blob", string(data))

	sum := sha256.Sum256([]byte("myriad blob"))
	assert.Equal(t, hex.EncodeToString(sum[:]), artifact.SHA256)
	assert.Equal(t, int64(len("myriad blob")), artifact.Size)
	assert.Equal(t, "Compiling from ONNX to Myriad Blob ...\n", out.String())
}

func TestCompileFailureLeavesNoBlob(t *testing.T) {
	ws := newWorkspace(t)
	output := filepath.Join(t.TempDir(), "net.blob")
	tool := &fakeCompileTool{status: 5, blob: []byte("partial")}

	c := New(tool, "compile_tool", "MYRIAD", nil, ws, ui.NewConsole(&bytes.Buffer{}))
	req := &types.Request{Input: "net.pt", InputType: types.U8, Device: types.DefaultDeviceConfig(), Output: output}

	_, err := c.Compile(context.Background(), ws.Path("net.xml"), req)
	var exitErr *toolchain.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 5, exitErr.Status)
	assert.NoFileExists(t, output)
}

func TestCompileKeepsExistingOutputOnFailure(t *testing.T) {
	ws := newWorkspace(t)
	output := filepath.Join(t.TempDir(), "net.blob")
	require.NoError(t, os.WriteFile(output, []byte("previous"), 0644))
	tool := &fakeCompileTool{status: 1, blob: []byte("partial")}

	c := New(tool, "compile_tool", "MYRIAD", nil, ws, ui.NewConsole(&bytes.Buffer{}))
	req := &types.Request{Input: "net.pt", InputType: types.U8, Device: types.DefaultDeviceConfig(), Output: output}

	_, err := c.Compile(context.Background(), ws.Path("net.xml"), req)
	require.Error(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
}
