// Package gradcam turns final-layer activations and their gradients into a
// class activation map and renders it over the input image.
package gradcam

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/nfnt/resize"
)

// Shape describes one activation tensor without its batch dimension.
type Shape struct {
	Channels     int
	Height       int
	Width        int
	ChannelsLast bool
}

func (s Shape) size() int { return s.Channels * s.Height * s.Width }

func (s Shape) index(c, y, x int) int {
	if s.ChannelsLast {
		return (y*s.Width+x)*s.Channels + c
	}
	return (c*s.Height+y)*s.Width + x
}

// Weights are the blend factors for the original pixels and the color map.
// They are applied as-is and need not sum to one; the sum saturates at 255.
type Weights struct {
	Image float64
	Heat  float64
}

var DefaultWeights = Weights{Image: 0.8, Heat: 0.5}

// Compute returns a Height×Width map in [0,1]. Each channel is weighted by the
// spatial mean of its gradient, negative evidence is clipped, and the result
// is divided by its maximum. A map with no positive evidence stays all zero.
func Compute(acts, grads []float32, s Shape) ([]float32, error) {
	n := s.size()
	if n == 0 {
		return nil, fmt.Errorf("empty activation shape %+v", s)
	}
	if len(acts) != n || len(grads) != n {
		return nil, fmt.Errorf("activation/gradient length %d/%d, want %d", len(acts), len(grads), n)
	}

	plane := s.Height * s.Width
	weights := make([]float64, s.Channels)
	for c := 0; c < s.Channels; c++ {
		var sum float64
		for y := 0; y < s.Height; y++ {
			for x := 0; x < s.Width; x++ {
				sum += float64(grads[s.index(c, y, x)])
			}
		}
		weights[c] = sum / float64(plane)
	}

	cam := make([]float32, plane)
	var peak float32
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			var v float64
			for c := 0; c < s.Channels; c++ {
				v += weights[c] * float64(acts[s.index(c, y, x)])
			}
			p := float32(math.Max(v, 0))
			cam[y*s.Width+x] = p
			if p > peak {
				peak = p
			}
		}
	}

	if peak > 0 {
		for i := range cam {
			cam[i] /= peak
		}
	}
	return cam, nil
}

// Overlay upsamples cam to the bounds of base, colors it with the JET map
// and blends it onto base.
func Overlay(cam []float32, height, width int, base image.Image, w Weights) (*image.RGBA, error) {
	if len(cam) != height*width || len(cam) == 0 {
		return nil, fmt.Errorf("cam has %d values, want %dx%d", len(cam), height, width)
	}

	gray := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := math.Min(math.Max(float64(cam[y*width+x]), 0), 1)
			gray.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 65535))})
		}
	}

	b := base.Bounds()
	up := resize.Resize(uint(b.Dx()), uint(b.Dy()), gray, resize.Bilinear)
	ub := up.Bounds()

	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.Gray16Model.Convert(up.At(ub.Min.X+x, ub.Min.Y+y)).(color.Gray16)
			hr, hg, hb := Jet(float64(g.Y) / 65535)

			r, gg, bb, _ := base.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.SetRGBA(x, y, color.RGBA{
				R: blend(r>>8, hr, w),
				G: blend(gg>>8, hg, w),
				B: blend(bb>>8, hb, w),
				A: 255,
			})
		}
	}
	return out, nil
}

// Jet maps v in [0,1] to the blue-cyan-yellow-red ramp, channels in [0,255].
func Jet(v float64) (r, g, b float64) {
	ramp := func(offset float64) float64 {
		return 255 * math.Min(math.Max(1.5-math.Abs(4*v-offset), 0), 1)
	}
	return ramp(3), ramp(2), ramp(1)
}

func blend(orig uint32, heat float64, w Weights) uint8 {
	v := math.Round(w.Image*float64(orig) + w.Heat*heat)
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}
