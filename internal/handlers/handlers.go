package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/Brownie44l1/leafcheck-api/internal/heatmap"
	"github.com/Brownie44l1/leafcheck-api/internal/model"
	"github.com/Brownie44l1/leafcheck-api/internal/scratch"
)

type Classifier interface {
	Classify(ctx context.Context, imagePath string) (model.Classification, error)
}

// Explainer is implemented by classifiers that can render a saliency overlay
// alongside the prediction in one pass.
type Explainer interface {
	CanExplain() bool
	ClassifyAndExplain(ctx context.Context, imagePath string) (model.Classification, *image.RGBA, error)
}

type Remedies interface {
	Remedy(ctx context.Context, label string) (string, error)
	Generate(ctx context.Context, prompt string) (string, error)
}

type HeatmapPublisher interface {
	Publish(img image.Image) (heatmap.Ref, error)
}

type Handler struct {
	classifier Classifier
	remedies   Remedies
	heatmaps   HeatmapPublisher
	scratch    scratch.Dir
	backend    string
	maxUpload  int64
	timeout    time.Duration
}

type Options struct {
	// Heatmaps may be nil to disable overlays.
	Heatmaps   HeatmapPublisher
	ScratchDir string
	Backend    string
	MaxUpload  int64
	Timeout    time.Duration
}

func NewHandler(classifier Classifier, remedies Remedies, opts Options) *Handler {
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 10 << 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	return &Handler{
		classifier: classifier,
		remedies:   remedies,
		heatmaps:   opts.Heatmaps,
		scratch:    scratch.Dir{Path: opts.ScratchDir},
		backend:    opts.Backend,
		maxUpload:  opts.MaxUpload,
		timeout:    opts.Timeout,
	}
}

type checkResponse struct {
	Prediction string  `json:"prediction"`
	Confidence float32 `json:"confidence"`
	Remedy     string  `json:"remedy"`
	Heatmap    string  `json:"heatmap,omitempty"`
	HeatmapURL string  `json:"heatmapUrl,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "backend": h.backend})
}

// readUpload parses the multipart body and returns the "image" part. It
// writes the error response itself and reports false when there is no usable
// upload; the caller must then return.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Image too large")
			return nil, nil, false
		}
		writeError(w, http.StatusBadRequest, "No image file provided")
		return nil, nil, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image file provided")
		return nil, nil, false
	}
	log.Printf("Received file: %s, size: %d bytes", header.Filename, header.Size)
	return file, header, true
}

// CheckImages classifies the uploaded leaf, fetches a remedy and, when the
// classifier supports it, attaches a Grad-CAM overlay.
func (h *Handler) CheckImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file, header, ok := h.readUpload(w, r)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if !ok {
		return
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := h.check(ctx, file, header.Filename)
	if err != nil {
		log.Printf("checkimages failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("Prediction: %s (%.4f)", resp.Prediction, resp.Confidence)
	writeJSON(w, http.StatusOK, resp)
}

type analyzeResponse struct {
	Result     string `json:"result"`
	Confidence int    `json:"confidence"`
	HeatmapURL string `json:"heatmapUrl"`
}

// Percent turns a [0,1] confidence into a whole percentage capped at 100.
func Percent(confidence float32) int {
	if math.IsNaN(float64(confidence)) || confidence <= 0 {
		return 0
	}
	return min(int(math.Round(float64(confidence)*100)), 100)
}

// AnalyzeDisease is the frontend-facing summary of /checkimages: label,
// whole-percent confidence and the heatmap link, without the remedy text.
func (h *Handler) AnalyzeDisease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file, header, ok := h.readUpload(w, r)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if !ok {
		return
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := h.check(ctx, file, header.Filename)
	if err != nil {
		log.Printf("analyze-disease failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to analyze disease")
		return
	}

	out := analyzeResponse{
		Result:     resp.Prediction,
		Confidence: Percent(resp.Confidence),
		HeatmapURL: resp.HeatmapURL,
	}
	if out.Result == "" {
		out.Result = "Unknown"
	}
	if out.HeatmapURL == "" {
		out.HeatmapURL = resp.Heatmap
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) check(ctx context.Context, upload io.Reader, filename string) (*checkResponse, error) {
	tmp, err := h.scratch.Write(upload, filename)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}
	defer func() {
		if err := tmp.Remove(); err != nil {
			log.Printf("Warning: failed to remove temp file %s: %v", tmp.Path, err)
		}
	}()

	var (
		result  model.Classification
		overlay *image.RGBA
	)
	if ex, ok := h.classifier.(Explainer); ok && h.heatmaps != nil && ex.CanExplain() {
		result, overlay, err = ex.ClassifyAndExplain(ctx, tmp.Path)
	} else {
		result, err = h.classifier.Classify(ctx, tmp.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	remedy, err := h.remedies.Remedy(ctx, result.Label)
	if err != nil {
		return nil, fmt.Errorf("remedy: %w", err)
	}

	resp := &checkResponse{
		Prediction: result.Label,
		Confidence: result.Confidence,
		Remedy:     remedy,
	}
	if overlay == nil {
		return resp, nil
	}

	ref, err := h.heatmaps.Publish(overlay)
	if err != nil {
		return nil, fmt.Errorf("heatmap: %w", err)
	}
	resp.Heatmap, resp.HeatmapURL = ref.Data, ref.URL
	return resp, nil
}

type remedySearchRequest struct {
	Context string `json:"context"`
}

// RemedySearch forwards a free-form prompt to the generative model.
func (h *Handler) RemedySearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req remedySearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.Context) == "" {
		writeError(w, http.StatusBadRequest, "Context is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	remedy, err := h.remedies.Generate(ctx, req.Context)
	if err != nil {
		log.Printf("remedysearch failed: %v", err)
		writeError(w, http.StatusInternalServerError, "An error occurred while processing the request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"remedy": remedy})
}
