package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"inboxkb/internal/cache"
	"inboxkb/internal/kb"
	"inboxkb/internal/model"
	"inboxkb/internal/repository"
)

var ErrDocumentNotFound = errors.New("document not found")

// ReindexPublisher enqueues a reindex job for a stored document.
type ReindexPublisher interface {
	Publish(ctx context.Context, job model.ReindexJob) error
}

// DocumentService keeps the per-workspace document registry and drives
// ingestion for uploads and reindex jobs. The registry is bookkeeping; the
// vector index stays the sole retrieval store.
type DocumentService struct {
	docRepo     *repository.DocumentRepository
	kbService   *KBService
	statusCache *cache.StatusCache
	publisher   ReindexPublisher
}

func NewDocumentService(
	docRepo *repository.DocumentRepository,
	kbService *KBService,
	statusCache *cache.StatusCache,
	publisher ReindexPublisher,
) *DocumentService {
	return &DocumentService{
		docRepo:     docRepo,
		kbService:   kbService,
		statusCache: statusCache,
		publisher:   publisher,
	}
}

// UploadInput is one extracted document ready for ingestion. Title, URL and
// Tags are optional.
type UploadInput struct {
	WorkspaceID string
	Source      string
	Title       string
	URL         string
	Tags        []string
	Content     string
}

// UploadResult pairs the registry record with the ingestion stats.
type UploadResult struct {
	Document *model.Document `json:"document"`
	Stats    *kb.IngestStats `json:"stats"`
}

// Upload records the document and ingests it synchronously. The registry
// row survives a failed ingestion with status "failed" so the caller can
// retry via Reindex.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	if strings.TrimSpace(input.WorkspaceID) == "" {
		return nil, fmt.Errorf("%w: workspace_id is required", kb.ErrInvalidArgument)
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: document has no readable text", kb.ErrInvalidArgument)
	}
	source := input.Source
	if source == "" {
		source = "upload"
	}

	doc := &model.Document{
		WorkspaceID: input.WorkspaceID,
		Source:      source,
		Title:       input.Title,
		URL:         input.URL,
		Content:     content,
		Status:      model.DocStatusIndexing,
	}
	doc.SetTags(input.Tags)
	if err := s.docRepo.Create(doc); err != nil {
		return nil, err
	}

	stats, err := s.ingest(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &UploadResult{Document: doc, Stats: stats}, nil
}

// Reindex verifies ownership and enqueues an asynchronous re-run of the
// pipeline from the stored content. Unchanged content re-upserts onto the
// same content-addressed point IDs, so a reindex of an unmodified document
// leaves the index as it was.
func (s *DocumentService) Reindex(ctx context.Context, workspaceID string, documentID uint) error {
	doc, err := s.docRepo.GetByIDAndWorkspace(documentID, workspaceID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}

	doc.Status = model.DocStatusPending
	if err := s.docRepo.Update(doc); err != nil {
		return err
	}
	s.cacheStatus(ctx, doc)

	if err := s.publisher.Publish(ctx, model.ReindexJob{DocumentID: doc.ID}); err != nil {
		return fmt.Errorf("enqueue reindex job failed: %w", err)
	}
	return nil
}

// ProcessReindex is the worker entry point: re-run ingestion for a stored
// document by ID.
func (s *DocumentService) ProcessReindex(ctx context.Context, documentID uint) error {
	doc, err := s.docRepo.GetByID(documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	_, err = s.ingest(ctx, doc)
	return err
}

// ingest runs the pipeline for a registry document and records the outcome
// on the row and in the status cache.
func (s *DocumentService) ingest(ctx context.Context, doc *model.Document) (*kb.IngestStats, error) {
	doc.Status = model.DocStatusIndexing
	doc.LastError = ""
	if err := s.docRepo.Update(doc); err != nil {
		return nil, err
	}
	s.cacheStatus(ctx, doc)

	stats, err := s.kbService.IngestDocument(ctx, IngestInput{
		RawText:     doc.Content,
		WorkspaceID: doc.WorkspaceID,
		Source:      doc.Source,
		Title:       doc.Title,
		URL:         doc.URL,
		Tags:        doc.TagList(),
	})
	if err != nil {
		doc.Status = model.DocStatusFailed
		doc.LastError = truncate(err.Error(), 512)
		if updateErr := s.docRepo.Update(doc); updateErr != nil {
			log.Printf("record ingest failure for document %d failed: %v", doc.ID, updateErr)
		}
		s.cacheStatus(ctx, doc)
		return nil, err
	}

	doc.Status = model.DocStatusIndexed
	doc.ChunksTotal = stats.ChunksTotal
	doc.ChunksUploaded = stats.ChunksUploaded
	doc.DuplicatesSkipped = stats.DuplicatesSkipped
	if err := s.docRepo.Update(doc); err != nil {
		return nil, err
	}
	s.cacheStatus(ctx, doc)
	return stats, nil
}

// Status reads the cached ingest status, falling back to the registry row.
func (s *DocumentService) Status(ctx context.Context, workspaceID string, documentID uint) (*cache.IngestStatus, error) {
	if s.statusCache != nil {
		status, found, err := s.statusCache.Get(ctx, documentID)
		if err != nil {
			log.Printf("read status cache for document %d failed: %v", documentID, err)
		} else if found && status.WorkspaceID == workspaceID {
			return status, nil
		}
	}

	doc, err := s.docRepo.GetByIDAndWorkspace(documentID, workspaceID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return cache.StatusFromDocument(doc), nil
}

func (s *DocumentService) List(workspaceID string) ([]model.Document, error) {
	return s.docRepo.ListByWorkspace(workspaceID)
}

// cacheStatus is best effort; a cache outage never fails ingestion.
func (s *DocumentService) cacheStatus(ctx context.Context, doc *model.Document) {
	if s.statusCache == nil {
		return
	}
	if err := s.statusCache.Set(ctx, doc.ID, cache.StatusFromDocument(doc)); err != nil {
		log.Printf("cache status for document %d failed: %v", doc.ID, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
