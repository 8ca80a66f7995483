// Package heatmap publishes rendered overlays either inline as data URLs or
// as PNG files served back over HTTP.
package heatmap

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("heatmap not found")

// Ref is where a client finds a published heatmap. Exactly one field is set.
type Ref struct {
	Data string
	URL  string
}

// Inline embeds the PNG in the response.
type Inline struct{}

func (Inline) Publish(img image.Image) (Ref, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Ref{}, fmt.Errorf("encode heatmap: %w", err)
	}
	return Ref{Data: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())}, nil
}

// Store writes heatmaps to Dir and serves them under URLPrefix. Files older
// than Retention are removed whenever a new one is published.
type Store struct {
	Dir       string
	URLPrefix string
	Retention time.Duration

	now func() time.Time
}

func NewStore(dir, urlPrefix string, retention time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create heatmap dir: %w", err)
	}
	return &Store{
		Dir:       dir,
		URLPrefix: strings.TrimRight(urlPrefix, "/") + "/",
		Retention: retention,
		now:       time.Now,
	}, nil
}

func (s *Store) Publish(img image.Image) (Ref, error) {
	s.prune()

	name := uuid.New().String() + ".png"
	f, err := os.OpenFile(filepath.Join(s.Dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Ref{}, fmt.Errorf("create heatmap file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(f.Name())
		return Ref{}, fmt.Errorf("encode heatmap: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return Ref{}, err
	}
	return Ref{URL: s.URLPrefix + name}, nil
}

// Open resolves a published name to its file path.
func (s *Store) Open(name string) (string, error) {
	if name == "" || name != path.Base(name) || strings.ContainsAny(name, `\/`) || filepath.Ext(name) != ".png" {
		return "", ErrNotFound
	}
	p := filepath.Join(s.Dir, name)
	st, err := os.Stat(p)
	if err != nil || !st.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return p, nil
}

// ServeHTTP serves GET <URLPrefix><name>.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := s.Open(strings.TrimPrefix(r.URL.Path, s.URLPrefix))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, p)
}

func (s *Store) prune() {
	if s.Retention <= 0 {
		return
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		log.Printf("heatmap prune: %v", err)
		return
	}
	cutoff := s.now().Add(-s.Retention)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.Dir, e.Name())); err != nil {
			log.Printf("heatmap prune %s: %v", e.Name(), err)
		}
	}
}
