// Package driver runs a segmenter over every image of a folder and writes the
// color overlays, one output file per input file.
package driver

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/Brownie44l1/segviz/internal/dataset"
	"github.com/Brownie44l1/segviz/internal/model"
	"github.com/Brownie44l1/segviz/internal/render"
)

var (
	ErrInputDir = errors.New("invalid input directory")
	ErrDecode   = errors.New("failed to decode image")
)

// Segmenter predicts a label map with the same size as its input.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image) (*model.LabelMap, error)
}

type Logger interface {
	Info(format string, v ...interface{})
	Warning(format string, v ...interface{})
}

type Config struct {
	InputDir  string
	OutputDir string
	Legend    bool
	// Progress receives the progress bar. Nil disables it.
	Progress io.Writer
}

type Summary struct {
	Written int
	Skipped []string
	Elapsed time.Duration
}

type Driver struct {
	segmenter  Segmenter
	categories *dataset.Categories
	logger     Logger
}

func New(segmenter Segmenter, categories *dataset.Categories, logger Logger) *Driver {
	return &Driver{
		segmenter:  segmenter,
		categories: categories,
		logger:     logger,
	}
}

// Run processes the input directory in name order and stops at the first
// error.
func (d *Driver) Run(ctx context.Context, cfg Config) (*Summary, error) {
	start := time.Now()

	if err := ValidateInputDir(cfg.InputDir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(cfg.InputDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputDir, err)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	progress := cfg.Progress
	if progress == nil {
		progress = io.Discard
	}
	bar := progressbar.NewOptions(len(entries),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("segmenting"),
		progressbar.OptionShowCount(),
	)

	summary := &Summary{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		name := entry.Name()
		if entry.IsDir() {
			d.logger.Warning("Skipping directory %s", name)
			summary.Skipped = append(summary.Skipped, name)
			bar.Add(1)
			continue
		}

		src := filepath.Join(cfg.InputDir, name)
		dst := filepath.Join(cfg.OutputDir, name)
		if err := d.ProcessFile(ctx, src, dst, cfg.Legend); err != nil {
			return summary, err
		}
		summary.Written++
		bar.Add(1)
	}
	bar.Finish()

	summary.Elapsed = time.Since(start)
	return summary, nil
}

// ValidateInputDir checks that path exists and is a directory.
func ValidateInputDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInputDir, path)
	}
	return nil
}

// ProcessFile segments src and writes the overlay to dst.
func (d *Driver) ProcessFile(ctx context.Context, src, dst string, legend bool) error {
	name := filepath.Base(src)
	if err := render.CheckFormat(dst); err != nil {
		return fmt.Errorf("cannot write %s: %w", name, err)
	}

	img, format, err := render.Open(src)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrDecode, name, err)
	}
	b := img.Bounds()
	d.logger.Info("Processing %s (%s, %dx%d)", name, format, b.Dx(), b.Dy())

	labels, err := d.segmenter.Segment(ctx, img)
	if err != nil {
		return fmt.Errorf("failed to segment %s: %w", name, err)
	}
	if labels.Width != b.Dx() || labels.Height != b.Dy() {
		return fmt.Errorf("%w: label map %dx%d for image %dx%d", model.ErrShapeMismatch, labels.Width, labels.Height, b.Dx(), b.Dy())
	}

	colored, err := render.Colorize(labels, d.categories)
	if err != nil {
		return fmt.Errorf("failed to colorize %s: %w", name, err)
	}

	out, err := render.Blend(img, colored, render.BlendAlpha)
	if err != nil {
		return fmt.Errorf("failed to blend %s: %w", name, err)
	}

	if legend {
		entries, err := render.LegendEntries(render.PresentClasses(labels), d.categories)
		if err != nil {
			return fmt.Errorf("failed to build legend for %s: %w", name, err)
		}
		out = render.Legend(out, entries)
	}

	if err := render.Save(dst, out); err != nil {
		return err
	}
	return nil
}
