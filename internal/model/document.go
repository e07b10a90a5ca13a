package model

import (
	"encoding/json"
	"time"
)

// Document ingest lifecycle states.
const (
	DocStatusPending  = "pending"
	DocStatusIndexing = "indexing"
	DocStatusIndexed  = "indexed"
	DocStatusFailed   = "failed"
)

// Document records one uploaded source document per workspace. The raw
// content is kept so the document can be reindexed; the vector index remains
// the only store retrieval reads from.
type Document struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	WorkspaceID       string    `gorm:"size:64;not null;index" json:"workspace_id"`
	Source            string    `gorm:"size:32;not null" json:"source"`
	Title             string    `gorm:"size:256" json:"title"`
	URL               string    `gorm:"size:512" json:"url"`
	Tags              string    `gorm:"type:text" json:"-"` // JSON array of strings
	Content           string    `gorm:"type:longtext;not null" json:"-"`
	Status            string    `gorm:"size:16;not null;index" json:"status"`
	ChunksTotal       int       `json:"chunks_total"`
	ChunksUploaded    int       `json:"chunks_uploaded"`
	DuplicatesSkipped int       `json:"duplicates_skipped"`
	LastError         string    `gorm:"size:512" json:"last_error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TagList returns the parsed tags; empty slice on parse error.
func (d *Document) TagList() []string {
	if d.Tags == "" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(d.Tags), &tags); err != nil {
		return []string{}
	}
	return tags
}

// SetTags stores tags as JSON.
func (d *Document) SetTags(tags []string) {
	if len(tags) == 0 {
		d.Tags = "[]"
		return
	}
	b, _ := json.Marshal(tags)
	d.Tags = string(b)
}
