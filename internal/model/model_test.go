package model

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadVariant(t *testing.T) {
	v, err := LoadVariant(filepath.Join("testdata", "variant.yml"))
	require.NoError(t, err)

	assert.Equal(t, "vit", v.DatasetKwargs.Normalization)
	assert.Equal(t, 512, v.InferenceKwargs.WindowSize)
	assert.Equal(t, 512, v.InferenceKwargs.WindowStride)
	assert.Equal(t, 150, v.NetKwargs.NumClasses)
	assert.Empty(t, v.OnnxKwargs.InputName)
}

func TestLoadVariant_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		target  error
	}{
		{
			name:    "unknown normalization",
			content: "dataset_kwargs: {normalization: imagenet}\ninference_kwargs: {window_size: 8, window_stride: 8}\nnet_kwargs: {n_cls: 2}\n",
			target:  ErrUnknownNormalization,
		},
		{
			name:    "missing window size",
			content: "dataset_kwargs: {normalization: vit}\ninference_kwargs: {window_stride: 8}\nnet_kwargs: {n_cls: 2}\n",
		},
		{
			name:    "missing classes",
			content: "dataset_kwargs: {normalization: deit}\ninference_kwargs: {window_size: 8, window_stride: 8}\n",
		},
		{
			name:    "not yaml",
			content: "dataset_kwargs: [unterminated\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), VariantFile)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := LoadVariant(path)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestLookupNormalization(t *testing.T) {
	n, err := LookupNormalization("deit")
	require.NoError(t, err)
	assert.Equal(t, [3]float32{0.485, 0.456, 0.406}, n.Mean)
	assert.Equal(t, [3]float32{0.229, 0.224, 0.225}, n.Std)

	_, err = LookupNormalization("nope")
	assert.ErrorIs(t, err, ErrUnknownNormalization)
}

func TestScaledSize(t *testing.T) {
	tests := []struct {
		w, h, ws     int
		wantW, wantH int
	}{
		{w: 1024, h: 512, ws: 512, wantW: 1024, wantH: 512},
		{w: 640, h: 480, ws: 512, wantW: 682, wantH: 512},
		{w: 2048, h: 1024, ws: 512, wantW: 2048, wantH: 1024},
		{w: 300, h: 600, ws: 100, wantW: 300, wantH: 600},
		{w: 300, h: 100, ws: 200, wantW: 600, wantH: 200},
		{w: 64, h: 64, ws: 128, wantW: 128, wantH: 128},
	}

	for _, tt := range tests {
		w, h := ScaledSize(tt.w, tt.h, tt.ws)
		assert.Equal(t, tt.wantW, w, "width for %dx%d", tt.w, tt.h)
		assert.Equal(t, tt.wantH, h, "height for %dx%d", tt.w, tt.h)
	}
}

func uniformImage(rect image.Rectangle, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestPreprocess_KeepsLargeImages(t *testing.T) {
	img := uniformImage(image.Rect(0, 0, 2048, 1024), color.RGBA{R: 255, G: 0, B: 255, A: 255})

	tensor := Preprocess(img, 512, Stats["vit"])
	assert.Equal(t, 3, tensor.C)
	assert.Equal(t, 1024, tensor.H)
	assert.Equal(t, 2048, tensor.W)
	assert.InDelta(t, 1.0, tensor.At(0, 1023, 2047), 1e-6)
	assert.InDelta(t, -1.0, tensor.At(1, 0, 0), 1e-6)
}

func TestPreprocess(t *testing.T) {
	img := uniformImage(image.Rect(3, 2, 7, 4), color.RGBA{R: 255, G: 0, B: 255, A: 255})

	tensor := Preprocess(img, 4, Stats["vit"])
	require.Equal(t, 3, tensor.C)
	require.Equal(t, 4, tensor.H)
	require.Equal(t, 8, tensor.W)

	for y := 0; y < tensor.H; y++ {
		for x := 0; x < tensor.W; x++ {
			assert.InDelta(t, 1.0, tensor.At(0, y, x), 1e-6)
			assert.InDelta(t, -1.0, tensor.At(1, y, x), 1e-6)
			assert.InDelta(t, 1.0, tensor.At(2, y, x), 1e-6)
		}
	}
}

func TestAnchors(t *testing.T) {
	tests := []struct {
		length, crop, stride int
		want                 []int
	}{
		{length: 512, crop: 512, stride: 512, want: []int{0}},
		{length: 683, crop: 512, stride: 512, want: []int{0, 171}},
		{length: 10, crop: 4, stride: 3, want: []int{0, 3, 6}},
		{length: 9, crop: 4, stride: 5, want: []int{0, 5}},
		{length: 3, crop: 4, stride: 2, want: []int{0}},
		{length: 1200, crop: 512, stride: 341, want: []int{0, 341, 688}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Anchors(tt.length, tt.crop, tt.stride), "Anchors(%d, %d, %d)", tt.length, tt.crop, tt.stride)
	}
}

// echoRunner returns, for class c, the window's channel c (classes <= 3).
type echoRunner struct {
	ws, bs, classes int
	calls           int
}

func (r *echoRunner) WindowSize() int { return r.ws }
func (r *echoRunner) BatchSize() int  { return r.bs }
func (r *echoRunner) NumClasses() int { return r.classes }

func (r *echoRunner) RunBatch(batch []float32) ([]float32, error) {
	r.calls++
	plane := r.ws * r.ws
	out := make([]float32, r.bs*r.classes*plane)
	for b := 0; b < r.bs; b++ {
		in := batch[b*3*plane : (b+1)*3*plane]
		copy(out[b*r.classes*plane:(b+1)*r.classes*plane], in[:r.classes*plane])
	}
	return out, nil
}

func TestSlidingWindow_AveragesOverlaps(t *testing.T) {
	tensor := NewTensor(3, 5, 10)
	for i := range tensor.Data {
		tensor.Data[i] = float32(i%17) - 8
	}

	runner := &echoRunner{ws: 4, bs: 2, classes: 3}
	logits, err := SlidingWindow(context.Background(), runner, tensor, 3)
	require.NoError(t, err)

	// 2 rows of anchors (0, 1) by 3 columns (0, 3, 6) in batches of two.
	assert.Equal(t, 3, runner.calls)
	require.Equal(t, 3, logits.Classes)
	require.Equal(t, tensor.H, logits.H)
	require.Equal(t, tensor.W, logits.W)
	for i := range tensor.Data {
		assert.InDelta(t, tensor.Data[i], logits.Data[i], 1e-5, "index %d", i)
	}
}

func TestSlidingWindow_SmallerThanWindow(t *testing.T) {
	tensor := NewTensor(3, 2, 3)
	for i := range tensor.Data {
		tensor.Data[i] = float32(i + 1)
	}

	logits, err := SlidingWindow(context.Background(), &echoRunner{ws: 4, bs: 2, classes: 2}, tensor, 4)
	require.NoError(t, err)
	assert.Equal(t, tensor.Data[:2*2*3], logits.Data)
}

type shortRunner struct{ echoRunner }

func (r *shortRunner) RunBatch([]float32) ([]float32, error) {
	return make([]float32, 3), nil
}

func TestSlidingWindow_ShapeMismatch(t *testing.T) {
	runner := &shortRunner{echoRunner{ws: 2, bs: 1, classes: 2}}
	_, err := SlidingWindow(context.Background(), runner, NewTensor(3, 2, 2), 2)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSlidingWindow_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SlidingWindow(ctx, &echoRunner{ws: 2, bs: 1, classes: 1}, NewTensor(3, 2, 2), 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestArgMaxResized(t *testing.T) {
	l := &Logits{Classes: 3, H: 1, W: 3, Data: []float32{
		0, 5, 1, // class 0
		1, 5, 0, // class 1
		0, 0, 1, // class 2
	}}

	lm := l.ArgMaxResized(3, 1)
	assert.Equal(t, []int{1, 0, 0}, lm.Labels)

	up := l.ArgMaxResized(6, 2)
	assert.Equal(t, 6, up.Width)
	assert.Equal(t, 2, up.Height)
	assert.Equal(t, 1, up.At(0, 0))
	assert.Equal(t, 0, up.At(3, 1))
}

func TestSegment(t *testing.T) {
	// Left half white, right half black.
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if x < 4 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}

	lm, err := Segment(context.Background(), redRunner{ws: 8}, img, 8, Stats["vit"])
	require.NoError(t, err)
	require.Equal(t, 8, lm.Width)
	require.Equal(t, 8, lm.Height)
	assert.Equal(t, 1, lm.At(0, 0))
	assert.Equal(t, 1, lm.At(2, 7))
	assert.Equal(t, 0, lm.At(7, 0))
	assert.Equal(t, 0, lm.At(6, 5))
}

// redRunner scores class 0 with zero and class 1 with the red channel.
type redRunner struct{ ws int }

func (r redRunner) WindowSize() int { return r.ws }
func (r redRunner) BatchSize() int  { return 1 }
func (r redRunner) NumClasses() int { return 2 }

func (r redRunner) RunBatch(batch []float32) ([]float32, error) {
	plane := r.ws * r.ws
	out := make([]float32, 2*plane)
	copy(out[plane:], batch[:plane])
	return out, nil
}
