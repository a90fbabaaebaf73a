package model

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
)

// VariantFile is read from the checkpoint's directory.
const VariantFile = "variant.yml"

const DefaultBatchSize = 2

// Model is an ONNX segmentation checkpoint bound to fixed-size window tensors.
type Model struct {
	session      *ort.AdvancedSession
	Variant      Variant
	Device       Device
	norm         Normalization
	batchSize    int
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func Load(modelPath string, opts Options) (*Model, error) {
	variant, err := LoadVariant(filepath.Join(filepath.Dir(modelPath), VariantFile))
	if err != nil {
		return nil, err
	}
	norm, err := LookupNormalization(variant.DatasetKwargs.Normalization)
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Warnf == nil {
		opts.Warnf = func(string, ...interface{}) {}
	}

	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputName, outputName, err := ioNames(modelPath, variant)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}

	ws := int64(variant.InferenceKwargs.WindowSize)
	bs := int64(opts.BatchSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(bs, 3, ws, ws))
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputShape := ort.NewShape(bs, int64(variant.NetKwargs.NumClasses), ws, ws)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	m := &Model{
		Variant:      *variant,
		norm:         norm,
		batchSize:    opts.BatchSize,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}

	device := opts.Device
	session, err := m.newSession(modelPath, inputName, outputName, device, opts)
	if err != nil && device == GPU {
		opts.Warnf("GPU session unavailable, falling back to CPU: %v", err)
		device = CPU
		session, err = m.newSession(modelPath, inputName, outputName, device, opts)
	}
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	m.session = session
	m.Device = device
	return m, nil
}

func (m *Model) newSession(path, inputName, outputName string, device Device, opts Options) (*ort.AdvancedSession, error) {
	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer sessionOpts.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, err
		}
	}

	if device == GPU {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, err
		}
		defer cudaOpts.Destroy()

		if err := cudaOpts.Update(map[string]string{"device_id": strconv.Itoa(opts.CUDADeviceID)}); err != nil {
			return nil, err
		}
		if err := sessionOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, err
		}
	}

	return ort.NewAdvancedSession(path,
		[]string{inputName}, []string{outputName},
		[]ort.Value{m.inputTensor}, []ort.Value{m.outputTensor},
		sessionOpts)
}

// ioNames prefers the names pinned in the variant and otherwise takes the
// graph's first input and output.
func ioNames(path string, v *Variant) (string, string, error) {
	in, out := v.OnnxKwargs.InputName, v.OnnxKwargs.OutputName
	if in != "" && out != "" {
		return in, out, nil
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to inspect model: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return "", "", fmt.Errorf("model %s has no inputs or outputs", path)
	}
	if in == "" {
		in = inputs[0].Name
	}
	if out == "" {
		out = outputs[0].Name
	}
	return in, out, nil
}

func (m *Model) WindowSize() int { return m.Variant.InferenceKwargs.WindowSize }
func (m *Model) BatchSize() int  { return m.batchSize }
func (m *Model) NumClasses() int { return m.Variant.NetKwargs.NumClasses }

// RunBatch runs one batch of windows. The returned slice is the output
// tensor's buffer and is overwritten by the next call.
func (m *Model) RunBatch(batch []float32) ([]float32, error) {
	in := m.inputTensor.GetData()
	if len(batch) != len(in) {
		return nil, fmt.Errorf("%w: batch has %d values, input tensor %d", ErrShapeMismatch, len(batch), len(in))
	}
	copy(in, batch)

	if err := m.session.Run(); err != nil {
		return nil, err
	}
	return m.outputTensor.GetData(), nil
}

func (m *Model) Segment(ctx context.Context, img image.Image) (*LabelMap, error) {
	return Segment(ctx, m, img, m.Variant.InferenceKwargs.WindowStride, m.norm)
}

// Segment predicts a label map with the same size as img.
func Segment(ctx context.Context, r WindowRunner, img image.Image, stride int, norm Normalization) (*LabelMap, error) {
	bounds := img.Bounds()
	t := Preprocess(img, r.WindowSize(), norm)

	logits, err := SlidingWindow(ctx, r, t, stride)
	if err != nil {
		return nil, err
	}
	return logits.ArgMaxResized(bounds.Dx(), bounds.Dy()), nil
}

func (m *Model) Close() {
	if m.inputTensor != nil {
		m.inputTensor.Destroy()
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
	}
	if m.session != nil {
		m.session.Destroy()
	}
	ort.DestroyEnvironment()
}
