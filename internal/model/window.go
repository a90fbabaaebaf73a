package model

import (
	"context"
	"fmt"
)

// WindowRunner runs the network on a fixed-size batch of square windows.
// RunBatch receives batch*3*ws*ws values and returns batch*classes*ws*ws logits.
type WindowRunner interface {
	WindowSize() int
	BatchSize() int
	NumClasses() int
	RunBatch(batch []float32) ([]float32, error)
}

// Anchors returns the window origins along one axis. Every multiple of stride
// strictly below length-crop is used, and the last window is pinned to the end
// so the whole axis is covered.
func Anchors(length, crop, stride int) []int {
	last := length - crop
	if last <= 0 {
		return []int{0}
	}
	anchors := make([]int, 0, last/stride+1)
	for a := 0; a < last; a += stride {
		anchors = append(anchors, a)
	}
	return append(anchors, last)
}

type origin struct {
	y, x int
}

// SlidingWindow covers t with overlapping windows, runs them through r in
// batches and averages the logits of overlapping pixels.
func SlidingWindow(ctx context.Context, r WindowRunner, t *Tensor, stride int) (*Logits, error) {
	ws, bs, classes := r.WindowSize(), r.BatchSize(), r.NumClasses()
	if stride <= 0 || ws <= 0 || bs <= 0 {
		return nil, fmt.Errorf("invalid window parameters: size=%d stride=%d batch=%d", ws, stride, bs)
	}

	var origins []origin
	for _, y := range Anchors(t.H, ws, stride) {
		for _, x := range Anchors(t.W, ws, stride) {
			origins = append(origins, origin{y: y, x: x})
		}
	}

	plane := t.H * t.W
	sum := make([]float32, classes*plane)
	count := make([]float32, plane)

	windowLen := t.C * ws * ws
	outLen := classes * ws * ws
	batch := make([]float32, bs*windowLen)

	for start := 0; start < len(origins); start += bs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+bs, len(origins))
		group := origins[start:end]

		clear(batch)
		for i, o := range group {
			cropWindow(batch[i*windowLen:(i+1)*windowLen], t, o, ws)
		}

		out, err := r.RunBatch(batch)
		if err != nil {
			return nil, fmt.Errorf("inference failed: %w", err)
		}
		if len(out) < len(group)*outLen {
			return nil, fmt.Errorf("%w: got %d logits for %d windows of %d", ErrShapeMismatch, len(out), len(group), outLen)
		}

		for i, o := range group {
			mergeWindow(sum, count, out[i*outLen:(i+1)*outLen], t.H, t.W, classes, o, ws)
		}
	}

	for c := 0; c < classes; c++ {
		for p := 0; p < plane; p++ {
			if count[p] > 0 {
				sum[c*plane+p] /= count[p]
			}
		}
	}
	return &Logits{Classes: classes, H: t.H, W: t.W, Data: sum}, nil
}

// cropWindow copies a ws×ws window of t into dst, leaving pixels outside t zero.
func cropWindow(dst []float32, t *Tensor, o origin, ws int) {
	for c := 0; c < t.C; c++ {
		for dy := 0; dy < ws; dy++ {
			y := o.y + dy
			if y >= t.H {
				break
			}
			n := min(ws, t.W-o.x)
			src := t.Data[(c*t.H+y)*t.W+o.x:]
			copy(dst[(c*ws+dy)*ws:(c*ws+dy)*ws+n], src[:n])
		}
	}
}

func mergeWindow(sum, count, win []float32, h, w, classes int, o origin, ws int) {
	rows := min(ws, h-o.y)
	cols := min(ws, w-o.x)
	for dy := 0; dy < rows; dy++ {
		for dx := 0; dx < cols; dx++ {
			count[(o.y+dy)*w+o.x+dx]++
		}
	}
	for c := 0; c < classes; c++ {
		for dy := 0; dy < rows; dy++ {
			row := sum[(c*h+o.y+dy)*w+o.x:]
			src := win[(c*ws+dy)*ws:]
			for dx := 0; dx < cols; dx++ {
				row[dx] += src[dx]
			}
		}
	}
}

type sample struct {
	lo, hi int
	frac   float32
}

// samples maps each output coordinate to its two bilinear source taps,
// using half-pixel centers.
func samples(out, in int) []sample {
	s := make([]sample, out)
	scale := float32(in) / float32(out)
	for i := range s {
		src := (float32(i)+0.5)*scale - 0.5
		if src < 0 {
			src = 0
		}
		lo := int(src)
		if lo > in-1 {
			lo = in - 1
		}
		hi := min(lo+1, in-1)
		s[i] = sample{lo: lo, hi: hi, frac: src - float32(lo)}
	}
	return s
}

// ArgMaxResized resamples the logits bilinearly to w×h and picks the best
// class per pixel. Ties go to the lowest class index.
func (l *Logits) ArgMaxResized(w, h int) *LabelMap {
	lm := NewLabelMap(w, h)
	xs := samples(w, l.W)
	ys := samples(h, l.H)

	for y := 0; y < h; y++ {
		sy := ys[y]
		for x := 0; x < w; x++ {
			sx := xs[x]
			best, bestScore := 0, float32(0)
			for c := 0; c < l.Classes; c++ {
				top := l.At(c, sy.lo, sx.lo) + sx.frac*(l.At(c, sy.lo, sx.hi)-l.At(c, sy.lo, sx.lo))
				bottom := l.At(c, sy.hi, sx.lo) + sx.frac*(l.At(c, sy.hi, sx.hi)-l.At(c, sy.hi, sx.lo))
				score := top + sy.frac*(bottom-top)
				if c == 0 || score > bestScore {
					best, bestScore = c, score
				}
			}
			lm.Set(x, y, best)
		}
	}
	return lm
}
