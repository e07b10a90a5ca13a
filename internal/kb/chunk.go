package kb

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Chunk is a contiguous span of a source document's text. Content is the
// trimmed token span; ContentHash is its identity for deduplication and for
// deriving the stable external point ID. Sequence records the position within
// the source document for traceability and plays no part in identity.
type Chunk struct {
	Content     string
	ContentHash string
	Sequence    int
}

// HashContent returns the SHA-256 hex digest of the raw trimmed content.
// Internal whitespace and case are NOT normalized: reformatted text hashes
// differently on purpose (precision over aggressive merging).
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// HashChunks fills ContentHash for every chunk in place.
func HashChunks(chunks []Chunk) {
	for i := range chunks {
		chunks[i].ContentHash = HashContent(chunks[i].Content)
	}
}

// Deduplicate scans in order and keeps the first occurrence of each distinct
// content hash. The survivors keep their relative order. dropped is
// len(chunks) - len(unique).
func Deduplicate(chunks []Chunk) (unique []Chunk, dropped int) {
	if len(chunks) == 0 {
		return nil, 0
	}
	seen := make(map[string]struct{}, len(chunks))
	unique = make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.ContentHash]; ok {
			continue
		}
		seen[c.ContentHash] = struct{}{}
		unique = append(unique, c)
	}
	return unique, len(chunks) - len(unique)
}

// PointID derives the external point identifier from a content hash as a
// name-based (v5) UUID. Identical content always maps to the same ID, which
// is what makes re-ingestion an idempotent upsert with no existence check.
func PointID(contentHash string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(contentHash)).String()
}

// Payload is the metadata stored alongside each vector in the index.
type Payload struct {
	WorkspaceID string   `json:"workspace_id"`
	Source      string   `json:"source"`
	Title       string   `json:"title,omitempty"`
	URL         string   `json:"url,omitempty"`
	Tags        []string `json:"tags"`
	Content     string   `json:"content"`
	ContentHash string   `json:"content_hash"`
	CreatedAt   string   `json:"created_at"`
}

// Point is the externally persisted record: a deterministic ID, the
// embedding vector and the payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// SearchResult is one similarity hit, ordered by descending score.
type SearchResult struct {
	ChunkID     string    `json:"chunk_id"`
	Content     string    `json:"content"`
	Score       float64   `json:"score"`
	WorkspaceID string    `json:"workspace_id"`
	Source      string    `json:"source"`
	Title       string    `json:"title,omitempty"`
	URL         string    `json:"url,omitempty"`
	Tags        []string  `json:"tags"`
	Vector      []float32 `json:"vector,omitempty"`
}

// IngestStats summarizes one ingestion call.
type IngestStats struct {
	ChunksTotal       int `json:"chunks_total"`
	ChunksUploaded    int `json:"chunks_uploaded"`
	DuplicatesSkipped int `json:"duplicates_skipped"`
}
