// Package inference classifies images through a hosted inference endpoint
// that answers with a ranked list of {label, score}.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Brownie44l1/leafcheck-api/internal/model"
)

var ErrNoPrediction = errors.New("no prediction returned")

type Client struct {
	Endpoint string
	Model    string
	Token    string
	httpc    *http.Client
}

func New(endpoint, modelID, token string, timeout time.Duration) *Client {
	return &Client{
		Endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		Model:    strings.Trim(strings.TrimSpace(modelID), "/"),
		Token:    strings.TrimSpace(token),
		httpc:    &http.Client{Timeout: timeout},
	}
}

type labelScore struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// Classify uploads the file at imagePath and returns the first ranked label.
func (c *Client) Classify(ctx context.Context, imagePath string) (model.Classification, error) {
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return model.Classification{}, fmt.Errorf("read image: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s", c.Endpoint, c.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(img))
	if err != nil {
		return model.Classification{}, err
	}
	req.Header.Set("Content-Type", http.DetectContentType(img))
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return model.Classification{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return model.Classification{}, fmt.Errorf("inference %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out []labelScore
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.Classification{}, fmt.Errorf("decode inference response: %w", err)
	}
	if len(out) == 0 {
		return model.Classification{}, ErrNoPrediction
	}

	return model.Classification{Label: out[0].Label, Confidence: out[0].Score}, nil
}
