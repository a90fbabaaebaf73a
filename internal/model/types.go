package model

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownNormalization = errors.New("unknown normalization")
	ErrShapeMismatch        = errors.New("shape mismatch")
)

// Variant mirrors the variant.yml written next to a checkpoint.
type Variant struct {
	DatasetKwargs struct {
		Normalization string `yaml:"normalization"`
	} `yaml:"dataset_kwargs"`
	InferenceKwargs struct {
		WindowSize   int `yaml:"window_size"`
		WindowStride int `yaml:"window_stride"`
	} `yaml:"inference_kwargs"`
	NetKwargs struct {
		NumClasses int `yaml:"n_cls"`
	} `yaml:"net_kwargs"`
	OnnxKwargs struct {
		InputName  string `yaml:"input_name"`
		OutputName string `yaml:"output_name"`
	} `yaml:"onnx_kwargs"`
}

func LoadVariant(path string) (*Variant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read variant: %w", err)
	}

	var v Variant
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to parse variant: %w", err)
	}
	if err := v.validate(); err != nil {
		return nil, err
	}
	return &v, nil
}

func (v *Variant) validate() error {
	if v.InferenceKwargs.WindowSize <= 0 {
		return fmt.Errorf("variant: window_size must be positive, got %d", v.InferenceKwargs.WindowSize)
	}
	if v.InferenceKwargs.WindowStride <= 0 {
		return fmt.Errorf("variant: window_stride must be positive, got %d", v.InferenceKwargs.WindowStride)
	}
	if v.NetKwargs.NumClasses <= 0 {
		return fmt.Errorf("variant: n_cls must be positive, got %d", v.NetKwargs.NumClasses)
	}
	if _, err := LookupNormalization(v.DatasetKwargs.Normalization); err != nil {
		return err
	}
	return nil
}

// Normalization holds per-channel RGB statistics.
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

var Stats = map[string]Normalization{
	"vit": {
		Mean: [3]float32{0.5, 0.5, 0.5},
		Std:  [3]float32{0.5, 0.5, 0.5},
	},
	"deit": {
		Mean: [3]float32{0.485, 0.456, 0.406},
		Std:  [3]float32{0.229, 0.224, 0.225},
	},
}

func LookupNormalization(name string) (Normalization, error) {
	n, ok := Stats[name]
	if !ok {
		return Normalization{}, fmt.Errorf("%w: %q", ErrUnknownNormalization, name)
	}
	return n, nil
}

type Device int

const (
	CPU Device = iota
	GPU
)

func (d Device) String() string {
	if d == GPU {
		return "gpu"
	}
	return "cpu"
}

// Options configure how a checkpoint is loaded. Device is decided once by the
// caller and never changes for the lifetime of the Model.
type Options struct {
	Device            Device
	SharedLibraryPath string
	BatchSize         int
	IntraOpThreads    int
	CUDADeviceID      int
	Warnf             func(format string, v ...interface{})
}

// Tensor is a CHW float32 image.
type Tensor struct {
	C, H, W int
	Data    []float32
}

func NewTensor(c, h, w int) *Tensor {
	return &Tensor{C: c, H: h, W: w, Data: make([]float32, c*h*w)}
}

func (t *Tensor) At(c, y, x int) float32 {
	return t.Data[(c*t.H+y)*t.W+x]
}

// Logits holds per-class scores laid out as (classes, H, W).
type Logits struct {
	Classes, H, W int
	Data          []float32
}

func (l *Logits) At(c, y, x int) float32 {
	return l.Data[(c*l.H+y)*l.W+x]
}

// LabelMap is a row-major map of predicted class indices.
type LabelMap struct {
	Width, Height int
	Labels        []int
}

func NewLabelMap(w, h int) *LabelMap {
	return &LabelMap{Width: w, Height: h, Labels: make([]int, w*h)}
}

func (m *LabelMap) At(x, y int) int {
	return m.Labels[y*m.Width+x]
}

func (m *LabelMap) Set(x, y, label int) {
	m.Labels[y*m.Width+x] = label
}
