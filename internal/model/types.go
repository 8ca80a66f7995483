package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrConfidenceRange is returned when a classifier reports a score outside [0,1].
var ErrConfidenceRange = errors.New("confidence outside [0,1]")

const (
	LayoutNCHW = "NCHW"
	LayoutNHWC = "NHWC"
)

type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`

	InputName  string `json:"input_name"`
	OutputName string `json:"output_name"`
	Layout     string `json:"layout"`
	Softmax    bool   `json:"softmax"`

	// Grad-CAM outputs. ActivationShape is the final conv activation
	// including the batch dimension; GradientShape holds one activation-sized
	// block per class.
	ActivationOutput string  `json:"activation_output"`
	ActivationShape  []int64 `json:"activation_shape"`
	GradientOutput   string  `json:"gradient_output"`
	GradientShape    []int64 `json:"gradient_shape"`
}

// Classification is the top-1 result of a single image.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Validate reports whether the confidence honours the [0,1] contract.
func (c Classification) Validate() error {
	if math.IsNaN(float64(c.Confidence)) || c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: %q scored %v", ErrConfidenceRange, c.Label, c.Confidence)
	}
	return nil
}
