package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the myriad-export configuration
type Config struct {
	// Working root that relative input and output paths resolve against
	Root string `mapstructure:"root"`

	// External tools
	Toolchain ToolchainConfig `mapstructure:"toolchain"`

	// Per-run scratch area
	Workspace WorkspaceConfig `mapstructure:"workspace"`

	// Defaults for the device flags
	Device DeviceConfig `mapstructure:"device"`

	// Defaults for the export flags
	Export ExportConfig `mapstructure:"export"`

	// UI settings
	UI UIConfig `mapstructure:"ui"`
}

type ToolchainConfig struct {
	OpenVINODir   string `mapstructure:"openvino_dir"`
	PythonVersion string `mapstructure:"python_version"`
	Python        string `mapstructure:"python"`
	MO            string `mapstructure:"mo"`
	CompileTool   string `mapstructure:"compile_tool"`
	Device        string `mapstructure:"device"`
}

type WorkspaceConfig struct {
	// Parent of the per-run working area; empty means the system temp dir
	TempDir string `mapstructure:"temp_dir"`
}

type DeviceConfig struct {
	Shaves    int `mapstructure:"nshaves"`
	CMXSlices int `mapstructure:"nslices"`
	Streams   int `mapstructure:"nstreams"`
}

type ExportConfig struct {
	Opset      int    `mapstructure:"opset"`
	ModelKey   string `mapstructure:"model_key"`
	ModelDtype string `mapstructure:"model_dtype"`
	InputType  string `mapstructure:"input_type"`
}

type UIConfig struct {
	ProgressBar bool `mapstructure:"progress_bar"`
	Verbose     bool `mapstructure:"verbose"`
}

var (
	cfg *Config
	v   *viper.Viper
)

// Initialize sets up the configuration
func Initialize() error {
	v = viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// 1. Current working directory
	v.AddConfigPath(".")

	// 2. User config directory
	if configDir := UserConfigDir(); configDir != "" {
		v.AddConfigPath(configDir)
	}

	setDefaults(v)

	v.SetEnvPrefix("MYRIAD_EXPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is ok, we'll use defaults
	}

	return Load()
}

// Load re-reads the viper state into the Config struct. Call it after
// loading an explicit config file or binding flags.
func Load() error {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	expandPaths(c)
	cfg = c
	return nil
}

// setDefaults sets all default values
func setDefaults(v *viper.Viper) {
	v.SetDefault("root", "/mnt/myriad")

	// Toolchain defaults match the OpenVINO 2022 docker images
	v.SetDefault("toolchain.openvino_dir", "/opt/intel/openvino")
	v.SetDefault("toolchain.python_version", "python3.8")
	v.SetDefault("toolchain.python", "python3")
	v.SetDefault("toolchain.mo", "mo")
	v.SetDefault("toolchain.compile_tool", "") // Will be set to openvino_dir/tools/compile_tool/compile_tool
	v.SetDefault("toolchain.device", "MYRIAD")

	v.SetDefault("workspace.temp_dir", "")

	v.SetDefault("device.nshaves", 4)
	v.SetDefault("device.nslices", 4)
	v.SetDefault("device.nstreams", 1)

	v.SetDefault("export.opset", 12)
	v.SetDefault("export.model_key", "model")
	v.SetDefault("export.model_dtype", "float32")
	v.SetDefault("export.input_type", "U8")

	v.SetDefault("ui.progress_bar", false)
	v.SetDefault("ui.verbose", false)
}

// UserConfigDir returns the user's config directory
func UserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "myriad-export")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "myriad-export")
}

// expandPaths expands relative paths and sets derived defaults
func expandPaths(c *Config) {
	c.Root = expandPath(c.Root)
	c.Toolchain.OpenVINODir = expandPath(c.Toolchain.OpenVINODir)
	c.Workspace.TempDir = expandPath(c.Workspace.TempDir)

	if c.Toolchain.CompileTool == "" {
		c.Toolchain.CompileTool = filepath.Join(c.Toolchain.OpenVINODir, "tools", "compile_tool", "compile_tool")
	} else {
		c.Toolchain.CompileTool = expandPath(c.Toolchain.CompileTool)
	}
}

// expandPath expands ~ and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return os.ExpandEnv(path)
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// GetViper returns the viper instance
func GetViper() *viper.Viper {
	if v == nil {
		panic("config not initialized")
	}
	return v
}

// Defaults returns the built-in configuration, ignoring config files and
// the environment. Derived paths are left unset.
func Defaults() *Config {
	dv := viper.New()
	setDefaults(dv)

	c := &Config{}
	if err := dv.Unmarshal(c); err != nil {
		panic(fmt.Sprintf("invalid config defaults: %v", err))
	}
	return c
}
