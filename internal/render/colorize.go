package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/Brownie44l1/segviz/internal/dataset"
	"github.com/Brownie44l1/segviz/internal/model"
)

var ErrUnknownClass = errors.New("class missing from category table")

// BlendAlpha is the weight of the color map in the overlay.
const BlendAlpha = 0.5

// Colorize paints every pixel of the label map with its category color.
func Colorize(lm *model.LabelMap, cats *dataset.Categories) (*image.RGBA, error) {
	out := image.NewRGBA(image.Rect(0, 0, lm.Width, lm.Height))
	palette := make(map[int]color.RGBA)

	for y := 0; y < lm.Height; y++ {
		for x := 0; x < lm.Width; x++ {
			label := lm.At(x, y)
			c, ok := palette[label]
			if !ok {
				cat, found := cats.Lookup(label)
				if !found {
					return nil, fmt.Errorf("%w: %d", ErrUnknownClass, label)
				}
				c = cat.Color
				c.A = 255
				palette[label] = c
			}
			out.SetRGBA(x, y, c)
		}
	}
	return out, nil
}

// Blend mixes b over a as a + alpha*(b-a) per RGB channel. The result is opaque
// and has a's size; alpha channels of the inputs are ignored.
func Blend(a, b image.Image, alpha float32) (*image.RGBA, error) {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return nil, fmt.Errorf("cannot blend %dx%d with %dx%d", ab.Dx(), ab.Dy(), bb.Dx(), bb.Dy())
	}

	out := image.NewRGBA(image.Rect(0, 0, ab.Dx(), ab.Dy()))
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			ca := color.NRGBAModel.Convert(a.At(ab.Min.X+x, ab.Min.Y+y)).(color.NRGBA)
			cb := color.NRGBAModel.Convert(b.At(bb.Min.X+x, bb.Min.Y+y)).(color.NRGBA)
			out.SetRGBA(x, y, color.RGBA{
				R: mix(ca.R, cb.R, alpha),
				G: mix(ca.G, cb.G, alpha),
				B: mix(ca.B, cb.B, alpha),
				A: 255,
			})
		}
	}
	return out, nil
}

func mix(a, b uint8, alpha float32) uint8 {
	v := float32(a) + alpha*(float32(b)-float32(a))
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
