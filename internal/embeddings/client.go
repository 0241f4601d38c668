package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// endOfTextMarker is appended to every passage before embedding so the
// model sees the same terminator it was trained with.
const endOfTextMarker = "<|endoftext|>"

type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedOrZero(ctx context.Context, text string) []float32
	Dimensions() int
}

// HTTPClient talks to a llama-server /embed endpoint.
type HTTPClient struct {
	serverURL  string
	model      string
	dimensions int
	client     *http.Client
	log        *zap.SugaredLogger
}

func NewHTTPClient(serverURL, model string, dimensions int, log *zap.SugaredLogger) *HTTPClient {
	cleanURL := strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if cleanURL == "" {
		cleanURL = "http://localhost:8000/embed"
	}
	cleanModel := strings.TrimSpace(model)
	if cleanModel == "" {
		cleanModel = "llama-server"
	}
	if dimensions <= 0 {
		dimensions = 1024
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &HTTPClient{
		serverURL:  cleanURL,
		model:      cleanModel,
		dimensions: dimensions,
		client: &http.Client{
			Timeout: 45 * time.Second,
		},
		log: log,
	}
}

func (c *HTTPClient) Dimensions() int {
	return c.dimensions
}

type embedRequest struct {
	Content string `json:"content"`
}

type embedResponseItem struct {
	Embedding [][]float32 `json:"embedding"`
}

// Embed returns the embedding for text, truncated or zero-padded to the
// configured dimension. Empty text yields an error rather than a server
// round trip.
func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is required")
	}

	encoded, err := json.Marshal(embedRequest{Content: text + endOfTextMarker})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embed request failed: status=%d", resp.StatusCode)
	}

	var parsed []embedResponseItem
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed) == 0 || len(parsed[0].Embedding) == 0 || len(parsed[0].Embedding[0]) == 0 {
		return nil, errors.New("empty embed response")
	}
	return c.fit(parsed[0].Embedding[0]), nil
}

// EmbedOrZero degrades to the zero vector on any failure so that an
// unreachable embedding server never stalls an import.
func (c *HTTPClient) EmbedOrZero(ctx context.Context, text string) []float32 {
	vector, err := c.Embed(ctx, text)
	if err != nil {
		c.log.Warnw("embedding degraded to zero vector", "error", err)
		return make([]float32, c.dimensions)
	}
	return vector
}

// fit truncates or zero-pads the raw vector to the configured dimension.
func (c *HTTPClient) fit(raw []float32) []float32 {
	out := make([]float32, c.dimensions)
	copy(out, raw)
	return out
}
