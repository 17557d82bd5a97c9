package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/myriadexport/myriad-export/internal/config"
)

var (
	initForce bool
	initPath  string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file holding the default toolchain locations,
device parameters and export settings.

The file is created at ~/.config/myriad-export/config.yaml, or in the
directory given with --path. Flags and MYRIAD_EXPORT_* environment
variables still override the values in the file.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing configuration")
	initCmd.Flags().StringVar(&initPath, "path", "", "directory to write config.yaml into")
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir := initPath
	if configDir == "" {
		configDir = config.UserConfigDir()
		if configDir == "" {
			return fmt.Errorf("failed to determine the user config directory, use --path")
		}
	}

	var out io.Writer = os.Stdout
	if cmd != nil {
		out = cmd.OutOrStdout()
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", configDir, err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		if !initForce {
			fmt.Fprintf(out, "  ✓ Configuration already exists: %s\n", configPath)
			fmt.Fprintln(out, "    (use --force to overwrite)")
			return nil
		}
		fmt.Fprintf(out, "  ⚠️  Overwriting existing configuration\n")
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig()), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	fmt.Fprintf(out, "  ✅ Created configuration: %s\n", configPath)
	return nil
}

func defaultConfig() string {
	d := config.Defaults()
	return fmt.Sprintf(`# myriad-export configuration
# Generated by 'myriad-export init'

# Relative --input and --output paths resolve against root
root: %s

# OpenVINO toolchain
toolchain:
  openvino_dir: %s
  python_version: %s
  python: %s
  mo: %s
  compile_tool: ""  # empty = <openvino_dir>/tools/compile_tool/compile_tool
  device: %s

# Per-run working area, removed after every run
workspace:
  temp_dir: ""  # empty = system temp dir

# Myriad device parameters
device:
  nshaves: %d
  nslices: %d
  nstreams: %d

# Export settings
export:
  opset: %d
  model_key: %s
  model_dtype: %s
  input_type: %s

# UI configuration
ui:
  progress_bar: %t
  verbose: %t
`,
		d.Root,
		d.Toolchain.OpenVINODir,
		d.Toolchain.PythonVersion,
		d.Toolchain.Python,
		d.Toolchain.MO,
		d.Toolchain.Device,
		d.Device.Shaves,
		d.Device.CMXSlices,
		d.Device.Streams,
		d.Export.Opset,
		d.Export.ModelKey,
		d.Export.ModelDtype,
		d.Export.InputType,
		d.UI.ProgressBar,
		d.UI.Verbose,
	)
}
