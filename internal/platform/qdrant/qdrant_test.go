package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxkb/internal/kb"
)

func newTestQdrant(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{URL: srv.URL})
	require.NoError(t, err)
	return client, srv
}

func collectionInfoBody(size int, distance string) string {
	return fmt.Sprintf(`{"result":{"config":{"params":{"vectors":{"size":%d,"distance":%q}}}}}`, size, distance)
}

func TestEnsureCollectionCreatesWhenAbsent(t *testing.T) {
	var createBody map[string]any
	client, _ := newTestQdrant(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			http.Error(w, `{"status":{"error":"not found"}}`, http.StatusNotFound)
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&createBody))
			w.Write([]byte(`{"result":true}`))
		}
	}))

	err := client.EnsureCollection(context.Background(), "kb_chunks", 3, DistanceCosine)
	require.NoError(t, err)
	require.NotNil(t, createBody)
	vectors := createBody["vectors"].(map[string]any)
	assert.Equal(t, float64(3), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

func TestEnsureCollectionMatchingSchemaIsNoop(t *testing.T) {
	putCalled := false
	client, _ := newTestQdrant(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(collectionInfoBody(3, "Cosine")))
		case http.MethodPut:
			putCalled = true
			w.Write([]byte(`{"result":true}`))
		}
	}))

	err := client.EnsureCollection(context.Background(), "kb_chunks", 3, DistanceCosine)
	require.NoError(t, err)
	assert.False(t, putCalled)
}

func TestEnsureCollectionSchemaConflict(t *testing.T) {
	client, _ := newTestQdrant(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(collectionInfoBody(768, "Dot")))
	}))

	err := client.EnsureCollection(context.Background(), "kb_chunks", 3, DistanceCosine)
	assert.ErrorIs(t, err, kb.ErrSchemaConflict)
	assert.False(t, kb.IsTransient(err))
}

func TestEnsureCollectionLostRaceWithMatchingWinner(t *testing.T) {
	gets := 0
	client, _ := newTestQdrant(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			gets++
			if gets == 1 {
				http.Error(w, `{"status":{"error":"not found"}}`, http.StatusNotFound)
				return
			}
			w.Write([]byte(collectionInfoBody(3, "Cosine")))
		case http.MethodPut:
			http.Error(w, `{"status":{"error":"already exists"}}`, http.StatusConflict)
		}
	}))

	err := client.EnsureCollection(context.Background(), "kb_chunks", 3, DistanceCosine)
	require.NoError(t, err)
	assert.Equal(t, 2, gets)
}

func TestUpsertSendsPointsAndWaits(t *testing.T) {
	var gotPath, gotQuery string
	var gotBody struct {
		Points []struct {
			ID      string     `json:"id"`
			Vector  []float32  `json:"vector"`
			Payload kb.Payload `json:"payload"`
		} `json:"points"`
	}
	client, _ := newTestQdrant(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"result":{"status":"acknowledged"}}`))
	}))

	points := []kb.Point{
		{
			ID:     kb.PointID(kb.HashContent("hello")),
			Vector: []float32{1, 0, 0},
			Payload: kb.Payload{
				WorkspaceID: "ws-1",
				Source:      "upload",
				Content:     "hello",
				Tags:        []string{},
			},
		},
	}
	err := client.Upsert(context.Background(), "kb_chunks", points)
	require.NoError(t, err)
	assert.Equal(t, "/collections/kb_chunks/points", gotPath)
	assert.Equal(t, "wait=true", gotQuery)
	require.Len(t, gotBody.Points, 1)
	assert.Equal(t, points[0].ID, gotBody.Points[0].ID)
	assert.Equal(t, "ws-1", gotBody.Points[0].Payload.WorkspaceID)
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	called := false
	client, _ := newTestQdrant(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	require.NoError(t, client.Upsert(context.Background(), "kb_chunks", nil))
	assert.False(t, called)
}

func TestQueryFiltersWorkspaceAndOmitsVectors(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestQdrant(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"result":[
			{"id":"aaa","score":0.92,"payload":{"workspace_id":"ws-1","source":"upload","content":"top hit","tags":[]}},
			{"id":123,"score":0.54,"payload":{"workspace_id":"ws-1","source":"upload","content":"second","tags":[]}}
		]}`))
	}))

	results, err := client.Query(context.Background(), "kb_chunks", []float32{1, 0, 0}, "ws-1", 5, false)
	require.NoError(t, err)

	assert.Equal(t, false, gotBody["with_vector"])
	assert.Equal(t, true, gotBody["with_payload"])
	filter := gotBody["filter"].(map[string]any)
	must := filter["must"].([]any)
	require.Len(t, must, 1)
	cond := must[0].(map[string]any)
	assert.Equal(t, "workspace_id", cond["key"])
	assert.Equal(t, "ws-1", cond["match"].(map[string]any)["value"])

	require.Len(t, results, 2)
	assert.Equal(t, "aaa", results[0].ChunkID)
	assert.Equal(t, 0.92, results[0].Score)
	assert.Nil(t, results[0].Vector)
	// Numeric IDs decode to their string form.
	assert.Equal(t, "123", results[1].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestQueryWithVectors(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestQdrant(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"result":[
			{"id":"aaa","score":0.9,"vector":[0.1,0.2],"payload":{"workspace_id":"ws-1","source":"upload","content":"x","tags":[]}}
		]}`))
	}))

	results, err := client.Query(context.Background(), "kb_chunks", []float32{1, 0}, "ws-1", 5, true)
	require.NoError(t, err)
	assert.Equal(t, true, gotBody["with_vector"])
	require.Len(t, results, 1)
	assert.Equal(t, []float32{0.1, 0.2}, results[0].Vector)
}

func TestQueryServerErrorIsTransientUpstream(t *testing.T) {
	client, _ := newTestQdrant(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"boom"}}`, http.StatusInternalServerError)
	}))

	_, err := client.Query(context.Background(), "kb_chunks", []float32{1}, "ws-1", 5, false)
	require.Error(t, err)
	assert.True(t, kb.IsTransient(err))
	assert.True(t, kb.IsUnavailable(err))

	var ue *kb.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "qdrant", ue.Service)
}
