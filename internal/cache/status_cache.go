package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"inboxkb/internal/model"
)

// IngestStatus is the short-lived, cheap-to-read view of a document's
// ingestion progress served to polling clients.
type IngestStatus struct {
	DocumentID        uint      `json:"document_id"`
	WorkspaceID       string    `json:"workspace_id"`
	Status            string    `json:"status"`
	ChunksTotal       int       `json:"chunks_total"`
	ChunksUploaded    int       `json:"chunks_uploaded"`
	DuplicatesSkipped int       `json:"duplicates_skipped"`
	LastError         string    `json:"last_error,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StatusFromDocument projects a registry row into its status view.
func StatusFromDocument(doc *model.Document) *IngestStatus {
	return &IngestStatus{
		DocumentID:        doc.ID,
		WorkspaceID:       doc.WorkspaceID,
		Status:            doc.Status,
		ChunksTotal:       doc.ChunksTotal,
		ChunksUploaded:    doc.ChunksUploaded,
		DuplicatesSkipped: doc.DuplicatesSkipped,
		LastError:         doc.LastError,
		UpdatedAt:         time.Now().UTC(),
	}
}

type StatusCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewStatusCache(client *redisv9.Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StatusCache{client: client, ttl: ttl}
}

func (c *StatusCache) Get(ctx context.Context, documentID uint) (*IngestStatus, bool, error) {
	raw, err := c.client.Get(ctx, c.key(documentID)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get ingest status failed: %w", err)
	}

	var status IngestStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached ingest status failed: %w", err)
	}
	return &status, true, nil
}

func (c *StatusCache) Set(ctx context.Context, documentID uint, status *IngestStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal ingest status failed: %w", err)
	}
	if err := c.client.Set(ctx, c.key(documentID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set ingest status failed: %w", err)
	}
	return nil
}

func (c *StatusCache) key(documentID uint) string {
	return fmt.Sprintf("kb:ingest:status:%d", documentID)
}
