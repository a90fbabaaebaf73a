package model

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

// ScaledSize returns the size an image is resized to before windowing. Images
// whose short side is below windowSize are upscaled so the short side matches,
// keeping the aspect ratio; larger images keep their resolution.
func ScaledSize(w, h, windowSize int) (int, int) {
	if min(w, h) >= windowSize {
		return w, h
	}
	if h < w {
		return int(float64(w) * float64(windowSize) / float64(h)), windowSize
	}
	return windowSize, int(float64(h) * float64(windowSize) / float64(w))
}

// Preprocess converts an image to the normalized CHW tensor expected by the model.
func Preprocess(img image.Image, windowSize int, norm Normalization) *Tensor {
	bounds := img.Bounds()
	w, h := ScaledSize(bounds.Dx(), bounds.Dy(), windowSize)

	resized := img
	if w != bounds.Dx() || h != bounds.Dy() {
		resized = resize.Resize(uint(w), uint(h), img, resize.Bilinear)
	}
	rb := resized.Bounds()

	t := NewTensor(3, rb.Dy(), rb.Dx())
	plane := t.H * t.W
	for y := 0; y < t.H; y++ {
		for x := 0; x < t.W; x++ {
			c := color.NRGBAModel.Convert(resized.At(rb.Min.X+x, rb.Min.Y+y)).(color.NRGBA)

			idx := y*t.W + x
			t.Data[idx] = (float32(c.R)/255.0 - norm.Mean[0]) / norm.Std[0]
			t.Data[plane+idx] = (float32(c.G)/255.0 - norm.Mean[1]) / norm.Std[1]
			t.Data[2*plane+idx] = (float32(c.B)/255.0 - norm.Mean[2]) / norm.Std[2]
		}
	}
	return t
}
