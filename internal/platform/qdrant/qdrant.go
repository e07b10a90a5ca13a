// Package qdrant is a minimal REST adapter for the Qdrant vector index.
// It owns the collection lifecycle and point upsert/query, and enforces the
// workspace payload filter on every query.
package qdrant

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

// DistanceCosine is the only metric this service provisions.
const DistanceCosine = "Cosine"

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client talks to one Qdrant deployment. Collections are addressed by name
// on each call; tenant isolation lives in the payload filter, not in
// separate collections.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: qdrant url is required", kb.ErrInvalidConfiguration)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// EnsureCollection creates the collection if absent and no-ops when it
// already exists with a matching schema. A concurrent first-time creator
// losing the race is treated as success, not as a conflict, provided the
// surviving schema matches. A dimension or metric mismatch is
// kb.ErrSchemaConflict.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension int, distance string) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: collection dimension must be positive, got %d", kb.ErrInvalidConfiguration, dimension)
	}
	if distance == "" {
		distance = DistanceCosine
	}

	status, err := c.checkCollection(ctx, name, dimension, distance)
	if err != nil || status == http.StatusOK {
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": distance,
		},
	}
	createStatus, raw, err := c.do(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return err
	}
	if createStatus < 300 {
		return nil
	}
	if createStatus == http.StatusConflict {
		// Lost the create race; accept if the winner's schema matches.
		_, err := c.checkCollection(ctx, name, dimension, distance)
		return err
	}
	return c.statusError(createStatus, raw, "create collection "+name)
}

// checkCollection fetches the collection and compares its schema. Returns
// the HTTP status so the caller can distinguish "absent" (404) from "ok".
func (c *Client) checkCollection(ctx context.Context, name string, dimension int, distance string) (int, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return 0, err
	}
	switch {
	case status == http.StatusOK:
		var info collectionInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return 0, fmt.Errorf("parse collection info failed: %w", err)
		}
		vec := info.Result.Config.Params.Vectors
		if vec.Size != dimension || !strings.EqualFold(vec.Distance, distance) {
			return 0, fmt.Errorf("%w: collection %s has size=%d distance=%s, want size=%d distance=%s",
				kb.ErrSchemaConflict, name, vec.Size, vec.Distance, dimension, distance)
		}
		return status, nil
	case status == http.StatusNotFound:
		return status, nil
	default:
		return 0, c.statusError(status, raw, "get collection "+name)
	}
}

// Upsert writes points by ID, overwriting any previous value. Point IDs are
// content-derived upstream, so re-upserting identical content is a no-op in
// effect and requires no existence check here.
func (c *Client) Upsert(ctx context.Context, collection string, points []kb.Point) error {
	if len(points) == 0 {
		return nil
	}
	list := make([]map[string]any, 0, len(points))
	for _, p := range points {
		list = append(list, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}
	body := map[string]any{"points": list}

	status, raw, err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body)
	if err != nil {
		return err
	}
	if status >= 300 {
		return c.statusError(status, raw, "upsert points")
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		ID      json.RawMessage `json:"id"`
		Score   float64         `json:"score"`
		Payload kb.Payload      `json:"payload"`
		Vector  []float32       `json:"vector"`
	} `json:"result"`
}

// Query runs a similarity search filtered server-side to the workspace.
// Results come back ordered by descending score. Vectors are excluded from
// the response unless withVectors is set, so the common path never moves
// vector payloads over the wire.
func (c *Client) Query(ctx context.Context, collection string, vector []float32, workspaceID string, topK int, withVectors bool) ([]kb.SearchResult, error) {
	body := map[string]any{
		"vector": vector,
		"limit":  topK,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "workspace_id", "match": map[string]any{"value": workspaceID}},
			},
		},
		"with_payload": true,
		"with_vector":  withVectors,
	}

	status, raw, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, c.statusError(status, raw, "search points")
	}

	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse search response failed: %w", err)
	}

	results := make([]kb.SearchResult, 0, len(resp.Result))
	for _, hit := range resp.Result {
		r := kb.SearchResult{
			ChunkID:     decodePointID(hit.ID),
			Content:     hit.Payload.Content,
			Score:       hit.Score,
			WorkspaceID: hit.Payload.WorkspaceID,
			Source:      hit.Payload.Source,
			Title:       hit.Payload.Title,
			URL:         hit.Payload.URL,
			Tags:        hit.Payload.Tags,
		}
		if withVectors {
			r.Vector = hit.Vector
		}
		results = append(results, r)
	}
	return results, nil
}

// Ping verifies the service is reachable; used by the health handler.
func (c *Client) Ping(ctx context.Context) error {
	status, raw, err := c.do(ctx, http.MethodGet, "/collections", nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return c.statusError(status, raw, "list collections")
	}
	return nil
}

// decodePointID handles Qdrant returning IDs as either strings or numbers.
func decodePointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal qdrant request failed: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build qdrant request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &kb.UpstreamError{Service: "qdrant", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &kb.UpstreamError{Service: "qdrant", Transient: true, Err: err}
	}
	return resp.StatusCode, raw, nil
}

func (c *Client) statusError(status int, raw []byte, op string) error {
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return &kb.UpstreamError{
		Service:   "qdrant",
		Status:    status,
		Transient: kb.TransientStatus(status),
		Err:       fmt.Errorf("%s: %s", op, msg),
	}
}
