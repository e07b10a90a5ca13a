package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"inboxkb/internal/kb"
)

const (
	defaultChunkSize    = 800
	defaultChunkOverlap = 200
	defaultTopK         = 5
	maxTopK             = 50

	defaultRetryAttempts      = 3
	defaultRetryBaseDelay     = 500 * time.Millisecond
	defaultMaxParallelBatches = 4
)

// Embedder is the embedding-service handle the orchestrator depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	MaxBatchSize() int
}

// VectorIndex is the vector-index handle the orchestrator depends on.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, name string, dimension int, distance string) error
	Upsert(ctx context.Context, collection string, points []kb.Point) error
	Query(ctx context.Context, collection string, vector []float32, workspaceID string, topK int, withVectors bool) ([]kb.SearchResult, error)
}

// KBOptions tunes the ingestion pipeline.
type KBOptions struct {
	Collection         string
	Distance           string
	ChunkSize          int
	ChunkOverlap       int
	MaxParallelBatches int
	RetryAttempts      int
	RetryBaseDelay     time.Duration
}

// KBService composes splitter, hasher, embedder and vector index into the
// two public knowledge-base operations: document ingestion and semantic
// search. It is request-scoped: no state is shared between calls beyond the
// injected service handles.
type KBService struct {
	splitter *kb.Splitter
	embedder Embedder
	index    VectorIndex
	opts     KBOptions
}

func NewKBService(splitter *kb.Splitter, embedder Embedder, index VectorIndex, opts KBOptions) *KBService {
	if opts.Collection == "" {
		opts.Collection = "kb_chunks"
	}
	if opts.Distance == "" {
		opts.Distance = "Cosine"
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ChunkOverlap <= 0 {
		opts.ChunkOverlap = defaultChunkOverlap
	}
	if opts.MaxParallelBatches <= 0 {
		opts.MaxParallelBatches = defaultMaxParallelBatches
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultRetryBaseDelay
	}
	return &KBService{
		splitter: splitter,
		embedder: embedder,
		index:    index,
		opts:     opts,
	}
}

// IngestInput describes one document to ingest. Title, URL and Tags are
// optional; ChunkSize/Overlap of zero fall back to the service defaults.
type IngestInput struct {
	RawText      string
	WorkspaceID  string
	Source       string
	Title        string
	URL          string
	Tags         []string
	ChunkSize    int
	ChunkOverlap int
}

// IngestDocument runs the full pipeline: split, hash, deduplicate, embed in
// bounded-concurrency batches, then upsert content-addressed points. Any
// embedding or index failure aborts the whole call; partial progress is
// never reported as success.
func (s *KBService) IngestDocument(ctx context.Context, input IngestInput) (*kb.IngestStats, error) {
	if strings.TrimSpace(input.WorkspaceID) == "" {
		return nil, fmt.Errorf("%w: workspace_id is required", kb.ErrInvalidArgument)
	}
	source := input.Source
	if source == "" {
		source = "upload"
	}
	chunkSize := input.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.opts.ChunkSize
	}
	overlap := input.ChunkOverlap
	if overlap <= 0 {
		overlap = s.opts.ChunkOverlap
	}

	split, err := s.splitter.Split(input.RawText, chunkSize, overlap)
	if err != nil {
		return nil, &kb.StageError{Stage: kb.StageSplit, Err: err}
	}
	if len(split.Chunks) == 0 {
		return &kb.IngestStats{}, nil
	}

	kb.HashChunks(split.Chunks)
	unique, dropped := kb.Deduplicate(split.Chunks)
	stats := &kb.IngestStats{
		ChunksTotal:       len(split.Chunks),
		ChunksUploaded:    len(unique),
		DuplicatesSkipped: dropped,
	}

	vectors, err := s.embedAll(ctx, unique)
	if err != nil {
		return nil, &kb.StageError{Stage: kb.StageEmbed, Err: err}
	}

	createdAt := time.Now().UTC().Format(time.RFC3339)
	tags := input.Tags
	if tags == nil {
		tags = []string{}
	}
	points := make([]kb.Point, len(unique))
	for i, c := range unique {
		points[i] = kb.Point{
			ID:     kb.PointID(c.ContentHash),
			Vector: vectors[i],
			Payload: kb.Payload{
				WorkspaceID: input.WorkspaceID,
				Source:      source,
				Title:       input.Title,
				URL:         input.URL,
				Tags:        tags,
				Content:     c.Content,
				ContentHash: c.ContentHash,
				CreatedAt:   createdAt,
			},
		}
	}

	if err := s.ensureCollection(ctx); err != nil {
		return nil, &kb.StageError{Stage: kb.StageIndex, Err: err}
	}
	err = s.withRetry(ctx, func() error {
		return s.index.Upsert(ctx, s.opts.Collection, points)
	})
	if err != nil {
		return nil, &kb.StageError{Stage: kb.StageIndex, Err: err}
	}
	return stats, nil
}

// embedAll partitions chunks into embedder-sized batches and runs them with
// bounded concurrency. Vectors land in a slice indexed by the chunks'
// original order, so arrival order of the batch calls never matters.
func (s *KBService) embedAll(ctx context.Context, chunks []kb.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	batchSize := s.embedder.MaxBatchSize()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallelBatches)
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		offset := start
		texts := make([]string, end-start)
		for i := range texts {
			texts[i] = chunks[offset+i].Content
		}
		g.Go(func() error {
			var batch [][]float32
			err := s.withRetry(gctx, func() error {
				var embedErr error
				batch, embedErr = s.embedder.EmbedBatch(gctx, texts)
				return embedErr
			})
			if err != nil {
				return err
			}
			copy(vectors[offset:], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (s *KBService) ensureCollection(ctx context.Context) error {
	return s.withRetry(ctx, func() error {
		return s.index.EnsureCollection(ctx, s.opts.Collection, s.embedder.Dimension(), s.opts.Distance)
	})
}

// Search embeds the query and delegates to the workspace-filtered index
// query. Every call re-embeds the query; there is no cache.
func (s *KBService) Search(ctx context.Context, query, workspaceID string, topK int, withVectors bool) ([]kb.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", kb.ErrInvalidArgument)
	}
	if strings.TrimSpace(workspaceID) == "" {
		return nil, fmt.Errorf("%w: workspace_id is required", kb.ErrInvalidArgument)
	}
	if topK < 1 || topK > maxTopK {
		return nil, fmt.Errorf("%w: top_k must be in [1, %d], got %d", kb.ErrInvalidArgument, maxTopK, topK)
	}

	var vector []float32
	err := s.withRetry(ctx, func() error {
		var embedErr error
		vector, embedErr = s.embedder.Embed(ctx, query)
		return embedErr
	})
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	var results []kb.SearchResult
	err = s.withRetry(ctx, func() error {
		var queryErr error
		results, queryErr = s.index.Query(ctx, s.opts.Collection, vector, workspaceID, topK, withVectors)
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	return results, nil
}

// withRetry retries transient failures with doubling backoff, up to the
// configured attempt count. Permanent errors return immediately.
func (s *KBService) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.RetryBaseDelay << (attempt - 1)):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !kb.IsTransient(err) {
			return err
		}
	}
	return err
}
