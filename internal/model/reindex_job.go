package model

// ReindexJob is the queue payload asking the worker to re-run ingestion for
// a stored document.
type ReindexJob struct {
	DocumentID uint `json:"document_id"`
}
