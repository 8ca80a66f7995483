package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/leafcheck-api/internal/config"
	"github.com/Brownie44l1/leafcheck-api/internal/gradcam"
	"github.com/Brownie44l1/leafcheck-api/internal/handlers"
	"github.com/Brownie44l1/leafcheck-api/internal/heatmap"
	"github.com/Brownie44l1/leafcheck-api/internal/inference"
	"github.com/Brownie44l1/leafcheck-api/internal/model"
	"github.com/Brownie44l1/leafcheck-api/internal/remedy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var classifier handlers.Classifier
	switch cfg.Backend {
	case config.BackendLocal:
		log.Printf("Loading model from: %s", cfg.ModelPath)
		modelServer, err := model.NewServer(cfg.ModelPath, cfg.MetadataPath, model.Options{
			LibraryPath: cfg.ONNXRuntimeLib,
			Overlay: gradcam.Weights{
				Image: cfg.OverlayImageWeight,
				Heat:  cfg.OverlayHeatWeight,
			},
		})
		if err != nil {
			log.Fatalf("Failed to initialize model server: %v", err)
		}
		defer modelServer.Close()
		log.Printf("Classes: %d, grad-cam: %v", len(modelServer.Metadata.Classes), modelServer.CanExplain())
		classifier = modelServer
	default:
		log.Printf("Using remote inference: %s/models/%s", cfg.HFEndpoint, cfg.HFModel)
		classifier = inference.New(cfg.HFEndpoint, cfg.HFModel, cfg.HFToken, cfg.UpstreamTimeout)
	}

	remedies, err := remedy.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatalf("Failed to initialize remedy generator: %v", err)
	}
	defer remedies.Close()

	opts := handlers.Options{
		ScratchDir: cfg.ScratchDir,
		Backend:    cfg.Backend,
		MaxUpload:  cfg.MaxUploadBytes(),
		Timeout:    cfg.UpstreamTimeout,
	}
	var heatmapFiles http.Handler
	switch cfg.HeatmapMode {
	case config.HeatmapInline:
		opts.Heatmaps = heatmap.Inline{}
	case config.HeatmapFile:
		store, err := heatmap.NewStore(cfg.HeatmapDir, handlers.HeatmapPrefix, cfg.HeatmapRetention)
		if err != nil {
			log.Fatalf("Failed to prepare heatmap store: %v", err)
		}
		opts.Heatmaps = store
		heatmapFiles = store
	}

	handler := handlers.NewHandler(classifier, remedies, opts)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Routes(heatmapFiles),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Server starting on port %s", cfg.Port)
	log.Printf("Heatmaps: %s", cfg.HeatmapMode)
	log.Println("Endpoints:")
	log.Println("  GET  /health             - Health check")
	log.Println("  POST /checkimages        - Classify a leaf image and suggest remedies")
	log.Println("  POST /api/analyze-disease - Label, percent confidence and heatmap link")
	log.Println("  POST /remedysearch       - Free-form remedy prompt")
	if heatmapFiles != nil {
		log.Println("  GET  " + handlers.HeatmapPrefix + "<name> - Saved heatmaps")
	}
	log.Printf("Upload test: curl -X POST -F \"image=@leaf.jpg\" http://localhost:%s/checkimages", cfg.Port)

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}
	if err := serve(ctx, srv, ln, 10*time.Second); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}

// serve runs srv on ln until ctx is cancelled. It returns only after
// Shutdown has drained in-flight requests (or grace ran out), so deferred
// cleanup in main never races a running handler.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}
