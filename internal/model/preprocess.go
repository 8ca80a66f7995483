package model

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/nfnt/resize"
)

// LoadImage decodes a JPEG or PNG from disk.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("invalid image format, supported: JPEG, PNG: %w", err)
	}
	return img, nil
}

// Resize scales img to a size×size square, the resolution the network and
// the heatmap overlay share.
func Resize(img image.Image, size int) image.Image {
	return resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
}

// Preprocess converts an image to the flat float tensor the model expects:
// resized, scaled to [0,1], batch of one, in the requested layout.
func Preprocess(img image.Image, size int, layout string) []float32 {
	resized := Resize(img, size)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	inputData := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			rNorm := float32(r) / 65535.0
			gNorm := float32(g) / 65535.0
			bNorm := float32(b) / 65535.0

			pixelIndex := y*width + x
			if layout == LayoutNHWC {
				inputData[3*pixelIndex] = rNorm
				inputData[3*pixelIndex+1] = gNorm
				inputData[3*pixelIndex+2] = bNorm
				continue
			}
			inputData[pixelIndex] = rNorm
			inputData[plane+pixelIndex] = gNorm
			inputData[2*plane+pixelIndex] = bNorm
		}
	}

	return inputData
}
