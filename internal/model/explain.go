package model

import (
	"fmt"
	"image"

	"github.com/Brownie44l1/leafcheck-api/internal/gradcam"
)

// Heatmap renders the Grad-CAM overlay for class classIdx from raw network
// outputs. grads holds one activation-sized block per class, in class order.
func Heatmap(meta Metadata, acts, grads []float32, classIdx int, base image.Image, w gradcam.Weights) (*image.RGBA, error) {
	c, h, wd := meta.FeatureShape()
	shape := gradcam.Shape{
		Channels:     c,
		Height:       h,
		Width:        wd,
		ChannelsLast: meta.Layout == LayoutNHWC,
	}

	block := c * h * wd
	if len(acts) < block {
		return nil, fmt.Errorf("activation has %d values, want %d", len(acts), block)
	}
	if classIdx < 0 || (classIdx+1)*block > len(grads) {
		return nil, fmt.Errorf("no gradient block for class %d", classIdx)
	}

	cam, err := gradcam.Compute(acts[:block], grads[classIdx*block:(classIdx+1)*block], shape)
	if err != nil {
		return nil, err
	}
	return gradcam.Overlay(cam, h, wd, base, w)
}

// Explained picks the top-1 class from output and renders its overlay from
// the activations and gradients of the same run.
func Explained(meta Metadata, output, acts, grads []float32, base image.Image, w gradcam.Weights) (Classification, *image.RGBA, error) {
	result := Top1(output, meta.Classes, meta.Softmax)
	idx, err := meta.ClassIndex(result.Label)
	if err != nil {
		return Classification{}, nil, err
	}
	overlay, err := Heatmap(meta, acts, grads, idx, base, w)
	if err != nil {
		return Classification{}, nil, fmt.Errorf("heatmap: %w", err)
	}
	return result, overlay, nil
}

// ClassIndex finds label in the class list.
func (m Metadata) ClassIndex(label string) (int, error) {
	for i, c := range m.Classes {
		if c == label {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unknown class %q", label)
}
