package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/segviz/internal/cli"
	"github.com/Brownie44l1/segviz/internal/config"
	"github.com/Brownie44l1/segviz/internal/dataset"
	"github.com/Brownie44l1/segviz/internal/driver"
	"github.com/Brownie44l1/segviz/internal/logger"
	"github.com/Brownie44l1/segviz/internal/model"
)

func main() {
	if err := run(os.Stderr, os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(out io.Writer, args []string) error {
	opts, shouldExit, err := cli.Parse(args, out)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// Checked before the model is loaded so a bad path fails immediately.
	if err := driver.ValidateInputDir(opts.InputDir); err != nil {
		return err
	}

	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return err
	}

	log, err := logger.New(out, opts.LogLevel, cfg.LogDirectory)
	if err != nil {
		return err
	}
	defer log.Close()

	log.Info("Loading model from: %s (device: %s)", opts.ModelPath, opts.Device)
	segModel, err := model.Load(opts.ModelPath, model.Options{
		Device:            opts.Device,
		SharedLibraryPath: cfg.OnnxRuntimeLib,
		BatchSize:         cfg.BatchSize,
		IntraOpThreads:    cfg.Threads,
		CUDADeviceID:      cfg.CUDADevice,
		Warnf:             log.Warning,
	})
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer segModel.Close()

	v := segModel.Variant
	log.Info("Model loaded on %s: %d classes, normalization %s, window %d stride %d",
		segModel.Device, v.NetKwargs.NumClasses, v.DatasetKwargs.Normalization,
		v.InferenceKwargs.WindowSize, v.InferenceKwargs.WindowStride)

	cats, source, err := dataset.Resolve(opts.CategoriesPath, segModel.NumClasses())
	if err != nil {
		return err
	}
	if source == dataset.SourceGenerated {
		log.Warning("Built-in ADE20K table has too few classes, using generated names and palette")
	}
	if cats.Len() < segModel.NumClasses() {
		log.Warning("Category table has %d entries for %d classes", cats.Len(), segModel.NumClasses())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := driver.New(segModel, cats, log).Run(ctx, driver.Config{
		InputDir:  opts.InputDir,
		OutputDir: opts.OutputDir,
		Legend:    opts.Legend,
		Progress:  out,
	})
	if err != nil {
		return err
	}

	log.Info("Wrote %d images to %s in %s", summary.Written, opts.OutputDir, summary.Elapsed.Round(time.Millisecond))
	if len(summary.Skipped) > 0 {
		log.Warning("Skipped %d directories", len(summary.Skipped))
	}
	return nil
}
