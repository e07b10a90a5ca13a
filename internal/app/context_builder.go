package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"inboxkb/internal/kb"
)

// ContextBuilder is the draft-generation collaborator's view of the KB: it
// turns a question into attributed snippets for prompt context. KB outages
// must never sink the caller's larger workflow, so failures degrade to "no
// context available".
type ContextBuilder struct {
	kbService *KBService
	topK      int
}

func NewContextBuilder(kbService *KBService) *ContextBuilder {
	return &ContextBuilder{kbService: kbService, topK: defaultTopK}
}

// BuildContext searches the workspace and formats each hit as
// "[source - title] content". An empty knowledge base yields an empty
// string; so does an unavailable one.
func (b *ContextBuilder) BuildContext(ctx context.Context, question, workspaceID string) (string, error) {
	results, err := b.kbService.Search(ctx, question, workspaceID, b.topK, false)
	if err != nil {
		if kb.IsUnavailable(err) {
			log.Printf("kb unavailable, continuing without context: %v", err)
			return "", nil
		}
		return "", err
	}
	return FormatSnippets(results), nil
}

// FormatSnippets renders search results as attributed context snippets.
func FormatSnippets(results []kb.SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		title := r.Title
		if title == "" {
			title = "untitled"
		}
		fmt.Fprintf(&sb, "[%s - %s] %s", r.Source, title, r.Content)
	}
	return sb.String()
}
