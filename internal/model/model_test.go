package model

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Brownie44l1/leafcheck-api/internal/gradcam"
)

func validMetadata() Metadata {
	m := Metadata{
		InputShape:  []int64{1, 3, 224, 224},
		OutputShape: []int64{1, 3},
		Classes:     []string{"Healthy", "Leaf Mold", "Late Blight"},
	}
	m.applyDefaults()
	return m
}

func TestLoadMetadataDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	body := `{"input_shape":[1,3,224,224],"output_shape":[1,2],"classes":["a","b"]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadMetadata(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.InputName != "input" || m.OutputName != "output" || m.Layout != LayoutNCHW || m.ImageSize != 224 {
		t.Errorf("defaults not applied: %+v", m)
	}
	if m.Explainable() {
		t.Error("metadata without grad-cam outputs reported explainable")
	}
}

func TestValidateRejectsClassMismatch(t *testing.T) {
	m := validMetadata()
	m.Classes = m.Classes[:2]
	err := m.Validate()
	if err == nil || !strings.Contains(err.Error(), "3 scores") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateGradCAMShapes(t *testing.T) {
	m := validMetadata()
	m.ActivationOutput = "features"
	m.ActivationShape = []int64{1, 4, 7, 7}
	m.GradientOutput = "grads"
	m.GradientShape = []int64{3, 4, 7, 7}
	if err := m.Validate(); err != nil {
		t.Fatalf("valid grad-cam metadata rejected: %v", err)
	}

	m.GradientShape = []int64{1, 4, 7, 7}
	if err := m.Validate(); err == nil {
		t.Fatal("gradient without per-class blocks accepted")
	}

	m = validMetadata()
	m.ActivationOutput = "features"
	if err := m.Validate(); err == nil {
		t.Fatal("activation without gradient accepted")
	}
}

func TestValidateInputShape(t *testing.T) {
	m := validMetadata()
	m.InputShape = []int64{1, 3, 128, 128}
	if err := m.Validate(); err == nil {
		t.Fatal("input shape not matching image size accepted")
	}
	m = validMetadata()
	m.Layout = "CHWN"
	if err := m.Validate(); err == nil {
		t.Fatal("unknown layout accepted")
	}
}

func TestTop1(t *testing.T) {
	classes := []string{"a", "b", "c"}
	c := Top1([]float32{0.1, 0.7, 0.2}, classes, false)
	if c.Label != "b" || c.Confidence != 0.7 {
		t.Fatalf("got %+v", c)
	}

	c = Top1([]float32{1, 3, 2}, classes, true)
	if c.Label != "b" {
		t.Fatalf("label = %s", c.Label)
	}
	want := math.Exp(3) / (math.Exp(1) + math.Exp(3) + math.Exp(2))
	if math.Abs(float64(c.Confidence)-want) > 1e-5 {
		t.Fatalf("confidence = %v, want %v", c.Confidence, want)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	p := Softmax([]float32{1000, 1001, 999})
	var sum float32
	for _, v := range p {
		if v < 0 || v > 1 || v != v {
			t.Fatalf("probability out of range: %v", p)
		}
		sum += v
	}
	if math.Abs(float64(sum)-1) > 1e-5 {
		t.Fatalf("sum = %v", sum)
	}
}

func TestClassificationValidate(t *testing.T) {
	for _, conf := range []float32{-0.01, 1.01, 93, float32(math.NaN())} {
		err := Classification{Label: "x", Confidence: conf}.Validate()
		if !errors.Is(err, ErrConfidenceRange) {
			t.Errorf("confidence %v: err = %v", conf, err)
		}
	}
	for _, conf := range []float32{0, 0.5, 1} {
		if err := (Classification{Label: "x", Confidence: conf}).Validate(); err != nil {
			t.Errorf("confidence %v rejected: %v", conf, err)
		}
	}
}

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPreprocessLayouts(t *testing.T) {
	img := solid(50, 30, color.RGBA{R: 255, G: 0, B: 255, A: 255})

	nchw := Preprocess(img, 4, LayoutNCHW)
	if len(nchw) != 3*4*4 {
		t.Fatalf("len = %d", len(nchw))
	}
	for i := 0; i < 16; i++ {
		if nchw[i] < 0.99 || nchw[16+i] > 0.01 || nchw[32+i] < 0.99 {
			t.Fatalf("NCHW pixel %d = %v %v %v", i, nchw[i], nchw[16+i], nchw[32+i])
		}
	}

	nhwc := Preprocess(img, 4, LayoutNHWC)
	for i := 0; i < 16; i++ {
		if nhwc[3*i] < 0.99 || nhwc[3*i+1] > 0.01 || nhwc[3*i+2] < 0.99 {
			t.Fatalf("NHWC pixel %d = %v", i, nhwc[3*i:3*i+3])
		}
	}
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leaf.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, solid(10, 12, color.White)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	img, err := LoadImage(path)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 12 {
		t.Fatalf("bounds = %v", b)
	}

	bad := filepath.Join(dir, "leaf.jpg")
	os.WriteFile(bad, []byte("not an image"), 0o644)
	if _, err := LoadImage(bad); err == nil {
		t.Fatal("garbage decoded as image")
	}
}

func TestHeatmapIs224ForAnyInput(t *testing.T) {
	m := validMetadata()
	m.ActivationOutput = "features"
	m.ActivationShape = []int64{1, 2, 7, 7}
	m.GradientOutput = "grads"
	m.GradientShape = []int64{3, 2, 7, 7}

	acts := make([]float32, 2*7*7)
	for i := range acts {
		acts[i] = float32(i % 5)
	}
	grads := make([]float32, 3*2*7*7)
	for i := range grads {
		grads[i] = 1
	}

	for _, size := range [][2]int{{640, 480}, {100, 300}, {224, 224}} {
		base := Resize(solid(size[0], size[1], color.RGBA{G: 120, A: 255}), m.ImageSize)
		out, err := Heatmap(m, acts, grads, 2, base, gradcam.DefaultWeights)
		if err != nil {
			t.Fatal(err)
		}
		if b := out.Bounds(); b.Dx() != 224 || b.Dy() != 224 {
			t.Fatalf("input %v: heatmap %dx%d", size, b.Dx(), b.Dy())
		}
	}

	if _, err := Heatmap(m, acts, grads, 3, solid(224, 224, color.Black), gradcam.DefaultWeights); err == nil {
		t.Fatal("class index past gradient blocks accepted")
	}
}

func TestExplainedUsesWinningClass(t *testing.T) {
	m := validMetadata()
	m.ActivationOutput = "features"
	m.ActivationShape = []int64{1, 2, 7, 7}
	m.GradientOutput = "grads"
	m.GradientShape = []int64{3, 2, 7, 7}

	block := 2 * 7 * 7
	acts := make([]float32, block)
	for i := range acts {
		acts[i] = float32(i % 7)
	}
	// only Leaf Mold has a non-zero gradient block
	grads := make([]float32, 3*block)
	for i := block; i < 2*block; i++ {
		grads[i] = 1
	}
	base := Resize(solid(300, 200, color.RGBA{G: 120, A: 255}), m.ImageSize)
	output := []float32{0.1, 0.7, 0.2}

	result, overlay, err := Explained(m, output, acts, grads, base, gradcam.DefaultWeights)
	if err != nil {
		t.Fatal(err)
	}
	if result.Label != "Leaf Mold" || result.Confidence != 0.7 {
		t.Errorf("result = %+v", result)
	}

	want, err := Heatmap(m, acts, grads, 1, base, gradcam.DefaultWeights)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(overlay.Pix, want.Pix) {
		t.Error("overlay was not rendered for the predicted class")
	}
	other, _ := Heatmap(m, acts, grads, 0, base, gradcam.DefaultWeights)
	if bytes.Equal(overlay.Pix, other.Pix) {
		t.Error("overlay does not depend on the class gradient block")
	}

	if _, _, err := Explained(m, output, acts, grads[:block], base, gradcam.DefaultWeights); err == nil || !strings.Contains(err.Error(), "heatmap") {
		t.Fatalf("missing gradient block: err = %v", err)
	}
}

func TestClassIndex(t *testing.T) {
	m := validMetadata()
	if i, err := m.ClassIndex("Late Blight"); err != nil || i != 2 {
		t.Fatalf("ClassIndex = %d, %v", i, err)
	}
	if _, err := m.ClassIndex("Rust"); err == nil {
		t.Fatal("unknown label found")
	}
}
