package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxkb/internal/kb"
)

func newTestClient(t *testing.T, baseURL string, dim int) *EmbeddingClient {
	t.Helper()
	client, err := NewEmbeddingClient(EmbeddingConfig{
		BaseURL:      baseURL,
		APIKey:       "test-key",
		Model:        "test-embed",
		Dimension:    dim,
		MaxBatchSize: 4,
	})
	require.NoError(t, err)
	return client
}

func embeddingResponse(items ...map[string]interface{}) []byte {
	raw, _ := json.Marshal(map[string]interface{}{"data": items})
	return raw
}

func TestNewEmbeddingClientValidation(t *testing.T) {
	_, err := NewEmbeddingClient(EmbeddingConfig{Model: "m", Dimension: 3})
	assert.ErrorIs(t, err, kb.ErrInvalidConfiguration)

	_, err = NewEmbeddingClient(EmbeddingConfig{BaseURL: "http://x", Model: "m"})
	assert.ErrorIs(t, err, kb.ErrInvalidConfiguration)
}

func TestEmbedBatchSendsModelAndAuth(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write(embeddingResponse(
			map[string]interface{}{"index": 0, "embedding": []float32{1, 0, 0}},
			map[string]interface{}{"index": 1, "embedding": []float32{0, 1, 0}},
		))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test-embed", gotBody["model"])
}

func TestEmbedBatchHonorsIndexField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Out-of-order response; the index field is authoritative.
		w.Write(embeddingResponse(
			map[string]interface{}{"index": 1, "embedding": []float32{0, 1, 0}},
			map[string]interface{}{"index": 0, "embedding": []float32{1, 0, 0}},
		))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	vectors, err := client.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vectors[0])
	assert.Equal(t, []float32{0, 1, 0}, vectors[1])
}

func TestEmbedBatchDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(embeddingResponse(
			map[string]interface{}{"index": 0, "embedding": []float32{1, 2}},
		))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	_, err := client.EmbedBatch(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, kb.ErrDimensionMismatch)
	assert.False(t, kb.IsTransient(err))
}

func TestEmbedBatchOverCap(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", 3)
	_, err := client.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	assert.ErrorIs(t, err, kb.ErrInvalidArgument)
}

func TestEmbedBatchRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	_, err := client.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, kb.IsTransient(err))

	var ue *kb.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "embedding", ue.Service)
	assert.Equal(t, http.StatusTooManyRequests, ue.Status)
}

func TestEmbedBatchAuthFailureIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	_, err := client.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.False(t, kb.IsTransient(err))
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", 3)
	_, err := client.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, kb.ErrInvalidArgument)
}

func TestEmbedBatchEmptySliceIsNoop(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", 3)
	vectors, err := client.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}
