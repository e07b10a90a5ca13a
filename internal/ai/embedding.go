package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inboxkb/internal/kb"
)

// DefaultMaxBatchSize caps one /embeddings call. Larger inputs must be
// partitioned by the orchestrator, not here.
const DefaultMaxBatchSize = 100

// EmbeddingConfig holds API settings for an OpenAI-compatible embeddings
// endpoint. Dimension is the model's vector length and must match the vector
// collection schema.
type EmbeddingConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	Dimension    int
	MaxBatchSize int
	Timeout      time.Duration
}

// EmbeddingClient converts text into fixed-dimension vectors. It performs no
// retries; transient failures are classified and left to the caller.
type EmbeddingClient struct {
	cfg        EmbeddingConfig
	httpClient *http.Client
}

func NewEmbeddingClient(cfg EmbeddingConfig) (*EmbeddingClient, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("%w: embedding base_url and model are required", kb.ErrInvalidConfiguration)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive, got %d", kb.ErrInvalidConfiguration, cfg.Dimension)
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &EmbeddingClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Dimension returns the configured model vector length.
func (c *EmbeddingClient) Dimension() int { return c.cfg.Dimension }

// MaxBatchSize returns the per-call input cap.
func (c *EmbeddingClient) MaxBatchSize() int { return c.cfg.MaxBatchSize }

// Embed returns the embedding vector for a single text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: embedding input is empty", kb.ErrInvalidArgument)
	}
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input text, same length and order as the
// input. The batch must not exceed MaxBatchSize.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > c.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds max batch size %d", kb.ErrInvalidArgument, len(texts), c.cfg.MaxBatchSize)
	}

	reqBody := map[string]interface{}{
		"model": c.cfg.Model,
		"input": texts,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build embedding request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &kb.UpstreamError{Service: "embedding", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &kb.UpstreamError{Service: "embedding", Transient: true, Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &kb.UpstreamError{
			Service:   "embedding",
			Status:    resp.StatusCode,
			Transient: kb.TransientStatus(resp.StatusCode),
			Err:       fmt.Errorf("embedding response: %s", firstLine(raw)),
		}
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(parsed.Data))
	}

	// The API documents in-order responses but also carries an index field;
	// honor it so a reordered response cannot scramble chunk/vector pairing.
	vectors := make([][]float32, len(texts))
	for i, item := range parsed.Data {
		pos := item.Index
		if pos < 0 || pos >= len(vectors) {
			pos = i
		}
		if len(item.Embedding) != c.cfg.Dimension {
			return nil, fmt.Errorf("%w: model %s returned %d dims, configured %d",
				kb.ErrDimensionMismatch, c.cfg.Model, len(item.Embedding), c.cfg.Dimension)
		}
		vectors[pos] = item.Embedding
	}
	return vectors, nil
}

func firstLine(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
