package main

import (
	"context"
	"errors"
	goflag "flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/myriadexport/myriad-export/internal/config"
	"github.com/myriadexport/myriad-export/internal/pipeline"
	"github.com/myriadexport/myriad-export/internal/toolchain"
	"github.com/myriadexport/myriad-export/internal/ui"
	"github.com/myriadexport/myriad-export/internal/workspace"
	"github.com/myriadexport/myriad-export/pkg/types"
)

// usageStatus is the exit status of a request that cannot be run
const usageStatus = 2

var (
	cfgFile string

	inputPath    string
	outputPath   string
	inputShape   string
	meanValues   string
	scaleValues  string
	reverseInput bool
	noReverse    bool
	newExport    bool

	klogFlags    = goflag.NewFlagSet("klog", goflag.ContinueOnError)
	flagBindings = map[string]string{}

	rootCmd = &cobra.Command{
		Use:   "myriad-export",
		Short: "Convert PyTorch and ONNX models into Myriad blobs",
		Long: `myriad-export converts a PyTorch checkpoint or an ONNX graph into a blob
for Intel Myriad X accelerators.

The conversion runs in five stages:
  load      - read the checkpoint and select the model
  export    - export the model to ONNX (skipped for .onnx input)
  simplify  - simplify and validate the ONNX graph
  optimize  - run the OpenVINO Model Optimizer (FP16, mean/scale folding)
  compile   - run compile_tool for the MYRIAD device

Relative --input and --output paths resolve against --root.`,
		Example: `  myriad-export --input net.pt --input-shape '[1, 3, 240, 320]' --output net.blob
  myriad-export --input bundle.pt --model-key net --input-shape '[1, 3, 240, 320]' \
      --mean '[123.675, 116.28, 103.53]' --scale '[58.395, 57.12, 57.375]' --output net.blob
  myriad-export --input net.onnx --input-type FP16 --output net.blob`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
		RunE:              runConvert,
	}
)

// Hooks replaced by tests
var (
	newRunner = func() toolchain.Runner { return toolchain.NewExecRunner() }
	newBridge func(ws *workspace.Workspace) pipeline.Bridge
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/myriad-export/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	bindFlag("ui.verbose", "verbose")

	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	flags := rootCmd.Flags()
	flags.StringVar(&inputPath, "input", "", "input PyTorch model or ONNX graph (required)")
	flags.StringVar(&outputPath, "output", "", "name of the output Myriad blob file (required)")
	flags.String("root", "/mnt/myriad", "working root that relative paths resolve against")
	flags.String("model-key", "model", "when loading a dict with a model, the key for the model")
	flags.StringVar(&inputShape, "input-shape", "", "shape of the input tensor, e.g. '[1, 3, 240, 320]'")
	flags.String("input-type", "U8", "input data type: U8, U16, U32, U64, I8, I16, I32, I64, BF16, FP16, FP32 or BOOL")
	flags.StringVar(&meanValues, "mean", "", "per-channel mean subtracted from the input, before scaling")
	flags.StringVar(&scaleValues, "scale", "", "per-channel scale applied to the input, after mean adjustment")
	flags.String("model-dtype", "float32", "PyTorch dtype the model and the dummy input are cast to")
	flags.BoolVar(&reverseInput, "reverse-input-channels", false, "convert HWC input into CHW")
	flags.BoolVar(&noReverse, "no-reverse-input-channels", false, "do not convert HWC input into CHW")
	flags.Int("nshaves", 4, "number of Myriad shaves")
	flags.Int("nslices", 4, "number of Myriad CMX slices")
	flags.Int("nstreams", 1, "number of Myriad streams")
	flags.Int("opset", 12, "ONNX opset version")
	flags.BoolVar(&newExport, "new-export", false, "use the dynamo PyTorch-to-ONNX exporter (unlikely to work)")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &types.ValidationError{Field: "arguments", Reason: err.Error()}
	})

	bindFlag("root", "root")
	bindFlag("export.model_key", "model-key")
	bindFlag("export.input_type", "input-type")
	bindFlag("export.model_dtype", "model-dtype")
	bindFlag("export.opset", "opset")
	bindFlag("device.nshaves", "nshaves")
	bindFlag("device.nslices", "nslices")
	bindFlag("device.nstreams", "nstreams")
}

// bindFlag records a flag to bind to a config key once the config exists
func bindFlag(key, flag string) {
	flagBindings[key] = flag
}

func initConfig(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	v := config.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, name := range flagBindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	if err := config.Load(); err != nil {
		return err
	}

	if config.Get().UI.Verbose {
		klogFlags.Set("v", "2")
	}
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	req, err := buildRequest(cfg)
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		Runner:      newRunner(),
		Python:      cfg.Toolchain.Python,
		MO:          cfg.Toolchain.MO,
		CompileTool: cfg.Toolchain.CompileTool,
		Device:      cfg.Toolchain.Device,
		OpenVINO: toolchain.OpenVINO{
			Dir:           cfg.Toolchain.OpenVINODir,
			PythonVersion: cfg.Toolchain.PythonVersion,
		},
		TempDir:   cfg.Workspace.TempDir,
		Console:   ui.NewConsole(cmd.OutOrStdout()),
		NewBridge: newBridge,
	}
	if cfg.UI.ProgressBar {
		opts.Progress = cmd.ErrOrStderr()
	}

	_, err = pipeline.New(opts).Run(cmd.Context(), req)
	return err
}

// buildRequest assembles the conversion request from flags and config
func buildRequest(cfg *config.Config) (*types.Request, error) {
	shape, err := types.ParseShape(inputShape)
	if err != nil {
		return nil, &types.ValidationError{Field: "input-shape", Reason: err.Error()}
	}
	mean, err := types.ParseVector(meanValues)
	if err != nil {
		return nil, &types.ValidationError{Field: "mean", Reason: err.Error()}
	}
	scale, err := types.ParseVector(scaleValues)
	if err != nil {
		return nil, &types.ValidationError{Field: "scale", Reason: err.Error()}
	}

	if reverseInput && noReverse {
		return nil, &types.ValidationError{
			Field:  "reverse-input-channels",
			Reason: "--reverse-input-channels and --no-reverse-input-channels are mutually exclusive",
		}
	}

	input, err := resolvePath(cfg.Root, inputPath)
	if err != nil {
		return nil, err
	}
	output, err := resolvePath(cfg.Root, outputPath)
	if err != nil {
		return nil, err
	}

	strategy := types.ExportLegacy
	if newExport {
		strategy = types.ExportDynamo
	}

	req := &types.Request{
		Input:                input,
		ModelKey:             cfg.Export.ModelKey,
		InputShape:           shape,
		InputType:            types.ElementType(cfg.Export.InputType),
		ModelDtype:           cfg.Export.ModelDtype,
		Mean:                 mean,
		Scale:                scale,
		ReverseInputChannels: reverseInput,
		Device: types.DeviceConfig{
			Shaves:    cfg.Device.Shaves,
			CMXSlices: cfg.Device.CMXSlices,
			Streams:   cfg.Device.Streams,
		},
		Opset:    cfg.Export.Opset,
		Strategy: strategy,
		Output:   output,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// resolvePath anchors a relative path at root and makes it absolute. The
// tools run with the workspace as their working directory, so no relative
// path may reach them.
func resolvePath(root, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return abs, nil
}

// exitStatus maps an execution error to the process exit status
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Status
	}
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		return usageStatus
	}
	return 1
}

func execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return exitStatus(err)
}

func main() {
	status := execute(context.Background())
	klog.Flush()
	os.Exit(status)
}
