package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sort"

	"github.com/disintegration/gift"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Brownie44l1/segviz/internal/dataset"
	"github.com/Brownie44l1/segviz/internal/model"
)

const (
	LegendTitle = "Legend"

	// The canvas is padded like a figure saved at legendDPI with legendPadInches.
	legendDPI       = 300
	legendPadInches = 0.2

	panelPad     = 6
	swatchWidth  = 16
	swatchHeight = 10
	swatchGap    = 6
	rowHeight    = 16

	// Panels are scaled up by one step per panelScaleStep pixels of image height.
	panelScaleStep = 360
)

type LegendEntry struct {
	ID    int
	Name  string
	Color color.RGBA
}

// PresentClasses returns the distinct labels of lm in ascending order.
func PresentClasses(lm *model.LabelMap) []int {
	seen := make(map[int]struct{})
	for _, l := range lm.Labels {
		seen[l] = struct{}{}
	}
	classes := make([]int, 0, len(seen))
	for l := range seen {
		classes = append(classes, l)
	}
	sort.Ints(classes)
	return classes
}

// LegendEntries resolves each present class by its own index in the table.
func LegendEntries(present []int, cats *dataset.Categories) ([]LegendEntry, error) {
	entries := make([]LegendEntry, 0, len(present))
	for _, id := range present {
		cat, ok := cats.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownClass, id)
		}
		entries = append(entries, LegendEntry{ID: id, Name: cat.Name, Color: cat.Color})
	}
	return entries, nil
}

// LegendPadding is the margin around the image in legend mode, in pixels.
func LegendPadding() int {
	return int(legendPadInches * legendDPI)
}

// Legend pads img with a white margin and draws a framed legend panel in its
// lower-right corner.
func Legend(img image.Image, entries []LegendEntry) *image.RGBA {
	b := img.Bounds()
	pad := LegendPadding()

	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx()+2*pad, b.Dy()+2*pad))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(pad, pad, pad+b.Dx(), pad+b.Dy()), img, b.Min, draw.Src)

	scale := max(1, b.Dy()/panelScaleStep)
	panel := scalePanel(drawPanel(entries), scale)

	margin := 8 * scale
	pb := panel.Bounds()
	x := max(0, pad+b.Dx()-margin-pb.Dx())
	y := max(0, pad+b.Dy()-margin-pb.Dy())
	draw.Draw(canvas, image.Rect(x, y, x+pb.Dx(), y+pb.Dy()), panel, pb.Min, draw.Over)
	return canvas
}

func drawPanel(entries []LegendEntry) *image.RGBA {
	face := basicfont.Face7x13

	width := font.MeasureString(face, LegendTitle).Ceil()
	for _, e := range entries {
		w := swatchWidth + swatchGap + font.MeasureString(face, e.Name).Ceil()
		width = max(width, w)
	}
	width += 2 * panelPad
	height := 2*panelPad + rowHeight*(len(entries)+1)

	panel := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(panel, panel.Bounds(), image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 204}), image.Point{}, draw.Src)
	frame(panel, color.RGBA{R: 204, G: 204, B: 204, A: 255})

	d := &font.Drawer{Dst: panel, Src: image.Black, Face: face}
	ascent := face.Metrics().Ascent.Ceil()

	titleWidth := font.MeasureString(face, LegendTitle).Ceil()
	d.Dot = fixed.P((width-titleWidth)/2, panelPad+ascent)
	d.DrawString(LegendTitle)

	for i, e := range entries {
		top := panelPad + rowHeight*(i+1)
		swatch := image.Rect(panelPad, top+(rowHeight-swatchHeight)/2, panelPad+swatchWidth, top+(rowHeight+swatchHeight)/2)
		c := e.Color
		c.A = 255
		draw.Draw(panel, swatch, image.NewUniform(c), image.Point{}, draw.Src)

		d.Dot = fixed.P(panelPad+swatchWidth+swatchGap, top+ascent)
		d.DrawString(e.Name)
	}
	return panel
}

func frame(img *image.RGBA, c color.RGBA) {
	b := img.Bounds()
	for x := b.Min.X; x < b.Max.X; x++ {
		img.SetRGBA(x, b.Min.Y, c)
		img.SetRGBA(x, b.Max.Y-1, c)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		img.SetRGBA(b.Min.X, y, c)
		img.SetRGBA(b.Max.X-1, y, c)
	}
}

func scalePanel(panel *image.RGBA, scale int) *image.RGBA {
	if scale <= 1 {
		return panel
	}
	b := panel.Bounds()
	g := gift.New(gift.Resize(b.Dx()*scale, b.Dy()*scale, gift.NearestNeighborResampling))
	dst := image.NewRGBA(g.Bounds(b))
	g.Draw(dst, panel)
	return dst
}
