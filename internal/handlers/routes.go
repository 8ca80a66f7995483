package handlers

import (
	"log"
	"net/http"
	"time"
)

const HeatmapPrefix = "/static/heatmaps/"

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

// Routes wires the API. heatmapFiles may be nil when heatmaps are not
// written to disk.
func (h *Handler) Routes(heatmapFiles http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/checkimages", h.CheckImages)
	mux.HandleFunc("/remedysearch", h.RemedySearch)
	mux.HandleFunc("/api/analyze-disease", h.AnalyzeDisease)
	if heatmapFiles != nil {
		mux.Handle(HeatmapPrefix, heatmapFiles)
	}
	return logRequests(enableCORS(mux))
}
