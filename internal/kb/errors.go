package kb

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrInvalidConfiguration marks a caller/config bug such as a chunk
	// overlap that is not smaller than the chunk size.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidArgument marks a malformed request (empty query, top_k out
	// of range). Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDimensionMismatch means the embedding service returned a vector
	// whose length differs from the configured model dimension. Fatal.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrSchemaConflict means the vector collection already exists with a
	// different dimension or distance metric. Always permanent.
	ErrSchemaConflict = errors.New("collection schema conflict")
)

// UpstreamError wraps a failure from the embedding service or the vector
// index, keeping the HTTP status and a transient/permanent classification.
type UpstreamError struct {
	Service   string // "embedding" or "qdrant"
	Status    int    // 0 when the request never got a response
	Transient bool
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s request failed (status %d): %v", e.Service, e.Status, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// TransientStatus reports whether an HTTP status is worth retrying.
// Rate limits and server-side errors are transient; everything else is not.
func TransientStatus(status int) bool {
	return status == 429 || status >= 500
}

// Pipeline stages reported on ingestion failure.
const (
	StageSplit = "split"
	StageHash  = "hash"
	StageEmbed = "embed"
	StageIndex = "index"
)

// StageError annotates an ingestion failure with the pipeline stage that
// produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// IsTransient reports whether err is eligible for a bounded retry. Timeouts
// and transient upstream statuses qualify; validation, schema and dimension
// errors never do.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrSchemaConflict) ||
		errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrInvalidConfiguration) {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsUnavailable classifies an error as "the knowledge base cannot serve
// right now". Collaborators that can live without KB context use this to
// degrade to empty results instead of failing their own workflow.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
