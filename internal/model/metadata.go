package model

import (
	"encoding/json"
	"fmt"
	"os"
)

const defaultImageSize = 224

// LoadMetadata reads the JSON sidecar that describes the exported network and
// checks it for internal consistency.
func LoadMetadata(path string) (Metadata, error) {
	metaFile, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	metadata.applyDefaults()

	if err := metadata.Validate(); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

func (m *Metadata) applyDefaults() {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if m.Layout == "" {
		m.Layout = LayoutNCHW
	}
	if m.ImageSize == 0 {
		m.ImageSize = defaultImageSize
	}
}

// Validate rejects a class list whose length differs from the network's
// output width, and malformed Grad-CAM shapes. It cannot detect a reordered
// class list.
func (m Metadata) Validate() error {
	if m.Layout != LayoutNCHW && m.Layout != LayoutNHWC {
		return fmt.Errorf("unsupported layout %q", m.Layout)
	}
	if len(m.Classes) == 0 {
		return fmt.Errorf("metadata lists no classes")
	}
	if len(m.OutputShape) < 2 {
		return fmt.Errorf("output shape %v needs a batch and a class dimension", m.OutputShape)
	}
	if n := shapeSize(m.OutputShape[1:]); n != len(m.Classes) {
		return fmt.Errorf("model emits %d scores but metadata lists %d classes", n, len(m.Classes))
	}
	if want := 3 * m.ImageSize * m.ImageSize; shapeSize(m.InputShape) != want {
		return fmt.Errorf("input shape %v does not hold one %dx%d RGB image", m.InputShape, m.ImageSize, m.ImageSize)
	}

	if !m.Explainable() {
		if m.ActivationOutput != "" || m.GradientOutput != "" {
			return fmt.Errorf("grad-cam needs both activation_output and gradient_output")
		}
		return nil
	}
	if len(m.ActivationShape) != 4 {
		return fmt.Errorf("activation shape %v must be 4-D", m.ActivationShape)
	}
	want := len(m.Classes) * shapeSize(m.ActivationShape[1:])
	if got := shapeSize(m.GradientShape); got != want {
		return fmt.Errorf("gradient shape %v holds %d values, want %d (one activation per class)", m.GradientShape, got, want)
	}
	return nil
}

// Explainable reports whether the network exports the tensors Grad-CAM needs.
func (m Metadata) Explainable() bool {
	return m.ActivationOutput != "" && m.GradientOutput != ""
}

// FeatureShape returns channels, height and width of the final conv activation.
func (m Metadata) FeatureShape() (c, h, w int) {
	s := m.ActivationShape
	if m.Layout == LayoutNHWC {
		return int(s[3]), int(s[1]), int(s[2])
	}
	return int(s[1]), int(s[2]), int(s[3])
}

func shapeSize(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}
