package model

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/Brownie44l1/leafcheck-api/internal/gradcam"
	ort "github.com/yalue/onnxruntime_go"
)

type Options struct {
	// LibraryPath points at onnxruntime.so; empty keeps the library default.
	LibraryPath string
	Overlay     gradcam.Weights
}

// Server runs a locally loaded ONNX network. Tensors are allocated once and
// bound to the session, so runs are serialized.
type Server struct {
	mu       sync.Mutex
	session  *ort.AdvancedSession
	Metadata Metadata
	overlay  gradcam.Weights

	inputTensor      *ort.Tensor[float32]
	outputTensor     *ort.Tensor[float32]
	activationTensor *ort.Tensor[float32]
	gradientTensor   *ort.Tensor[float32]
}

func NewServer(modelPath, metadataPath string, opts Options) (*Server, error) {
	metadata, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	s := &Server{Metadata: metadata, overlay: opts.Overlay}

	s.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	s.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	outputNames := []string{metadata.OutputName}
	outputs := []ort.ArbitraryTensor{s.outputTensor}

	if metadata.Explainable() {
		s.activationTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(metadata.ActivationShape...))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create activation tensor: %w", err)
		}
		s.gradientTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(metadata.GradientShape...))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create gradient tensor: %w", err)
		}
		outputNames = append(outputNames, metadata.ActivationOutput, metadata.GradientOutput)
		outputs = append(outputs, s.activationTensor, s.gradientTensor)
	}

	s.session, err = ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, outputNames,
		[]ort.ArbitraryTensor{s.inputTensor}, outputs,
		nil)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return s, nil
}

type runResult struct {
	output      []float32
	activations []float32
	gradients   []float32
}

func (s *Server) run(ctx context.Context, inputData []float32) (*runResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.inputTensor.GetData(), inputData)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	res := &runResult{output: append([]float32(nil), s.outputTensor.GetData()...)}
	if s.activationTensor != nil {
		res.activations = append([]float32(nil), s.activationTensor.GetData()...)
		res.gradients = append([]float32(nil), s.gradientTensor.GetData()...)
	}
	return res, nil
}

// Classify runs one forward pass over the image at imagePath.
func (s *Server) Classify(ctx context.Context, imagePath string) (Classification, error) {
	img, err := LoadImage(imagePath)
	if err != nil {
		return Classification{}, err
	}

	res, err := s.run(ctx, Preprocess(img, s.Metadata.ImageSize, s.Metadata.Layout))
	if err != nil {
		return Classification{}, err
	}
	return Top1(res.output, s.Metadata.Classes, s.Metadata.Softmax), nil
}

// CanExplain reports whether the loaded network exports Grad-CAM tensors.
func (s *Server) CanExplain() bool {
	return s.Metadata.Explainable()
}

// ClassifyAndExplain classifies the image and renders the Grad-CAM overlay
// for the winning class from the same forward pass.
func (s *Server) ClassifyAndExplain(ctx context.Context, imagePath string) (Classification, *image.RGBA, error) {
	if !s.CanExplain() {
		return Classification{}, nil, fmt.Errorf("model exports no grad-cam outputs")
	}

	img, err := LoadImage(imagePath)
	if err != nil {
		return Classification{}, nil, err
	}

	res, err := s.run(ctx, Preprocess(img, s.Metadata.ImageSize, s.Metadata.Layout))
	if err != nil {
		return Classification{}, nil, err
	}
	return Explained(s.Metadata, res.output, res.activations, res.gradients, Resize(img, s.Metadata.ImageSize), s.overlay)
}

func (s *Server) Close() {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.activationTensor != nil {
		s.activationTensor.Destroy()
	}
	if s.gradientTensor != nil {
		s.gradientTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
	ort.DestroyEnvironment()
}
