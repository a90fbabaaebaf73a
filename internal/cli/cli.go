package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/Brownie44l1/segviz/internal/logger"
	"github.com/Brownie44l1/segviz/internal/model"
)

// ExitError is an error carrying the process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

type Options struct {
	ModelPath      string
	InputDir       string
	OutputDir      string
	CategoriesPath string
	EnvFile        string
	Device         model.Device
	Legend         bool
	LogLevel       logger.Level
}

// Parse processes command-line arguments. The boolean reports that the
// program should exit cleanly, e.g. after -h.
func Parse(args []string, output io.Writer) (*Options, bool, error) {
	flagSet := flag.NewFlagSet("segviz", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
segviz - segment every image of a folder and save color overlays.

Usage:
  segviz --model-path MODEL.onnx -i INPUT_DIR -o OUTPUT_DIR [options]

Options:
`)
		flagSet.PrintDefaults()
	}

	var opts Options
	flagSet.StringVar(&opts.ModelPath, "model-path", "", "Path to the ONNX checkpoint. variant.yml is read from the same folder.")
	flagSet.StringVar(&opts.InputDir, "input-dir", "", "Folder with input images.")
	flagSet.StringVar(&opts.InputDir, "i", "", "Folder with input images (shorthand).")
	flagSet.StringVar(&opts.OutputDir, "output-dir", "", "Folder for output images, created if missing.")
	flagSet.StringVar(&opts.OutputDir, "o", "", "Folder for output images (shorthand).")
	flagSet.StringVar(&opts.CategoriesPath, "categories", "", "Category description YAML. Defaults to the built-in ADE20K table.")
	flagSet.StringVar(&opts.EnvFile, "env", ".env", "Optional .env file with runtime settings.")
	gpuFlag := flagSet.Bool("gpu", true, "Run on the GPU when available.")
	cpuFlag := flagSet.Bool("cpu", false, "Run on the CPU. Overrides --gpu.")
	flagSet.BoolVar(&opts.Legend, "legend", false, "Draw a legend of the classes present in each image.")
	logLevelFlag := flagSet.String("log-level", "info", "Logging level: 'info', 'warning' or 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if flagSet.NArg() > 0 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected arguments: %v", flagSet.Args())}
	}

	switch {
	case opts.ModelPath == "":
		return nil, false, &ExitError{Code: 2, Message: "missing required flag --model-path"}
	case opts.InputDir == "":
		return nil, false, &ExitError{Code: 2, Message: "missing required flag --input-dir"}
	case opts.OutputDir == "":
		return nil, false, &ExitError{Code: 2, Message: "missing required flag --output-dir"}
	}

	level, err := logger.ParseLevel(*logLevelFlag)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	opts.LogLevel = level

	opts.Device = model.CPU
	if *gpuFlag && !*cpuFlag {
		opts.Device = model.GPU
	}
	return &opts, false, nil
}
