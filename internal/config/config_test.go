package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home := os.Getenv("HOME")
	if home == "" {
		home = os.Getenv("USERPROFILE") // Windows
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "expand tilde",
			input:    "~/openvino",
			expected: filepath.Join(home, "openvino"),
		},
		{
			name:     "expand environment variable",
			input:    "$HOME/openvino",
			expected: filepath.Join(home, "openvino"),
		},
		{
			name:     "no expansion needed",
			input:    "/opt/intel/openvino",
			expected: "/opt/intel/openvino",
		},
		{
			name:     "empty path",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, "/mnt/myriad", v.GetString("root"))

	// Toolchain defaults
	assert.Equal(t, "/opt/intel/openvino", v.GetString("toolchain.openvino_dir"))
	assert.Equal(t, "python3.8", v.GetString("toolchain.python_version"))
	assert.Equal(t, "mo", v.GetString("toolchain.mo"))
	assert.Empty(t, v.GetString("toolchain.compile_tool"))
	assert.Equal(t, "MYRIAD", v.GetString("toolchain.device"))

	// Device defaults
	assert.Equal(t, 4, v.GetInt("device.nshaves"))
	assert.Equal(t, 4, v.GetInt("device.nslices"))
	assert.Equal(t, 1, v.GetInt("device.nstreams"))

	// Export defaults
	assert.Equal(t, 12, v.GetInt("export.opset"))
	assert.Equal(t, "model", v.GetString("export.model_key"))
	assert.Equal(t, "float32", v.GetString("export.model_dtype"))
	assert.Equal(t, "U8", v.GetString("export.input_type"))

	assert.False(t, v.GetBool("ui.progress_bar"))
}

func TestExpandPaths(t *testing.T) {
	c := &Config{
		Root: "~/myriad",
		Toolchain: ToolchainConfig{
			OpenVINODir: "/opt/intel/openvino_2022",
		},
	}

	expandPaths(c)

	assert.NotContains(t, c.Root, "~")
	assert.Contains(t, c.Root, "myriad")
	assert.Equal(t, "/opt/intel/openvino_2022/tools/compile_tool/compile_tool", c.Toolchain.CompileTool)

	c.Toolchain.CompileTool = "/usr/local/bin/compile_tool"
	expandPaths(c)
	assert.Equal(t, "/usr/local/bin/compile_tool", c.Toolchain.CompileTool)
}

func TestInitialize(t *testing.T) {
	originalCfg := cfg
	originalV := v
	defer func() {
		cfg = originalCfg
		v = originalV
	}()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg = nil
	v = nil

	err := Initialize()
	require.NoError(t, err)

	assert.NotNil(t, cfg)
	assert.NotNil(t, v)
	assert.Equal(t, "/mnt/myriad", cfg.Root)
	assert.Equal(t, 4, cfg.Device.Shaves)
	assert.NotEmpty(t, cfg.Toolchain.CompileTool)
}

func TestInitializeEnvOverride(t *testing.T) {
	originalCfg := cfg
	originalV := v
	defer func() {
		cfg = originalCfg
		v = originalV
	}()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("MYRIAD_EXPORT_ROOT", "/data/models")

	err := Initialize()
	require.NoError(t, err)
	assert.Equal(t, "/data/models", Get().Root)
}

func TestGet(t *testing.T) {
	originalCfg := cfg
	defer func() {
		cfg = originalCfg
	}()

	cfg = nil
	assert.Panics(t, func() {
		Get()
	})

	cfg = &Config{}
	result := Get()
	assert.Equal(t, cfg, result)
}

func TestGetViper(t *testing.T) {
	originalV := v
	defer func() {
		v = originalV
	}()

	v = nil
	assert.Panics(t, func() {
		GetViper()
	})

	v = viper.New()
	result := GetViper()
	assert.Equal(t, v, result)
}

func TestConfigWithFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	configContent := `
root: /srv/myriad
toolchain:
  openvino_dir: /opt/intel/openvino_2022.1
  python: /usr/bin/python3.9
device:
  nshaves: 8
`
	err := os.WriteFile(configFile, []byte(configContent), 0644)
	require.NoError(t, err)

	originalCfg := cfg
	originalV := v
	defer func() {
		cfg = originalCfg
		v = originalV
	}()

	v = viper.New()
	v.SetConfigFile(configFile)
	setDefaults(v)

	err = v.ReadInConfig()
	require.NoError(t, err)
	require.NoError(t, Load())

	c := Get()
	assert.Equal(t, "/srv/myriad", c.Root)
	assert.Equal(t, "/usr/bin/python3.9", c.Toolchain.Python)
	assert.Equal(t, 8, c.Device.Shaves)
	assert.Equal(t, "/opt/intel/openvino_2022.1/tools/compile_tool/compile_tool", c.Toolchain.CompileTool)

	// Defaults still apply to keys the file does not set
	assert.Equal(t, 4, c.Device.CMXSlices)
	assert.Equal(t, "mo", c.Toolchain.MO)
}

func TestInitializeNestedEnvOverride(t *testing.T) {
	originalCfg := cfg
	originalV := v
	defer func() {
		cfg = originalCfg
		v = originalV
	}()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("MYRIAD_EXPORT_TOOLCHAIN_OPENVINO_DIR", "/opt/openvino")
	t.Setenv("MYRIAD_EXPORT_DEVICE_NSHAVES", "2")

	err := Initialize()
	require.NoError(t, err)
	assert.Equal(t, "/opt/openvino", Get().Toolchain.OpenVINODir)
	assert.Equal(t, 2, Get().Device.Shaves)
}

func TestDefaults(t *testing.T) {
	t.Setenv("MYRIAD_EXPORT_ROOT", "/ignored")

	d := Defaults()
	assert.Equal(t, "/mnt/myriad", d.Root)
	assert.Equal(t, "", d.Toolchain.CompileTool)
	assert.Equal(t, 4, d.Device.Shaves)
	assert.Equal(t, 12, d.Export.Opset)
	assert.Equal(t, "U8", d.Export.InputType)
}

func TestUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/myriad-export", UserConfigDir())
}
