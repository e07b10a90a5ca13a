package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"inboxkb/internal/app"
	"inboxkb/internal/kb"
	"inboxkb/internal/pkg/pdfextract"
	"inboxkb/internal/transport/http/middleware"
	"inboxkb/internal/transport/http/response"
)

const maxUploadSize = 10 << 20 // 10 MB

var allowedExtensions = map[string]bool{
	".txt": true,
	".md":  true,
	".pdf": true,
}

type KBHandler struct {
	kbService      *app.KBService
	docService     *app.DocumentService
	contextBuilder *app.ContextBuilder
}

func NewKBHandler(kbService *app.KBService, docService *app.DocumentService, contextBuilder *app.ContextBuilder) *KBHandler {
	return &KBHandler{
		kbService:      kbService,
		docService:     docService,
		contextBuilder: contextBuilder,
	}
}

func getWorkspaceIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.ContextWorkspaceIDKey)
	if !ok {
		return "", false
	}
	workspaceID, ok := v.(string)
	return workspaceID, ok && workspaceID != ""
}

// Upload accepts a multipart form with "file" (.txt, .md or .pdf) plus
// optional "title", "url" and comma-separated "tags", extracts the text and
// ingests it into the caller's workspace.
func (h *KBHandler) Upload(c *gin.Context) {
	workspaceID, ok := getWorkspaceIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxUploadSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 10MB)")
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only .txt, .md and .pdf files are allowed")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	var text string
	if ext == ".pdf" {
		text, err = pdfextract.Extract(f)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to extract text from PDF: "+err.Error())
			return
		}
	} else {
		raw, err := io.ReadAll(f)
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
			return
		}
		text = string(raw)
	}
	if strings.TrimSpace(text) == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file contains no readable text")
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	}

	result, err := h.docService.Upload(c.Request.Context(), app.UploadInput{
		WorkspaceID: workspaceID,
		Source:      "upload",
		Title:       title,
		URL:         strings.TrimSpace(c.PostForm("url")),
		Tags:        parseTags(c.PostForm("tags")),
		Content:     text,
	})
	if err != nil {
		writeKBError(c, err, "upload failed")
		return
	}

	response.OK(c, result)
}

// Search runs a workspace-scoped semantic query. Query parameters: q
// (required), k (1-50, default 5), with_vectors (debug flag).
func (h *KBHandler) Search(c *gin.Context) {
	workspaceID, ok := getWorkspaceIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	query := c.Query("q")
	topK := 5
	if s := c.Query("k"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid k parameter")
			return
		}
		topK = parsed
	}
	withVectors := c.Query("with_vectors") == "true"

	results, err := h.kbService.Search(c.Request.Context(), query, workspaceID, topK, withVectors)
	if err != nil {
		writeKBError(c, err, "search failed")
		return
	}

	response.OK(c, gin.H{
		"query":   query,
		"k":       topK,
		"results": results,
	})
}

// Context serves the draft-generation step: attributed snippets for a
// question, degrading to an empty context when the KB is unavailable.
func (h *KBHandler) Context(c *gin.Context) {
	workspaceID, ok := getWorkspaceIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	question := c.Query("question")
	contextText, err := h.contextBuilder.BuildContext(c.Request.Context(), question, workspaceID)
	if err != nil {
		writeKBError(c, err, "build context failed")
		return
	}

	response.OK(c, gin.H{"context": contextText})
}

func (h *KBHandler) ListDocuments(c *gin.Context) {
	workspaceID, ok := getWorkspaceIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	docs, err := h.docService.List(workspaceID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}

	response.OK(c, docs)
}

func (h *KBHandler) DocumentStatus(c *gin.Context) {
	workspaceID, ok := getWorkspaceIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID, err := parseUintParam(c, "id")
	if err != nil || docID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	status, err := h.docService.Status(c.Request.Context(), workspaceID, docID)
	if err != nil {
		if errors.Is(err, app.ErrDocumentNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get status failed")
		return
	}

	response.OK(c, status)
}

func (h *KBHandler) Reindex(c *gin.Context) {
	workspaceID, ok := getWorkspaceIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID, err := parseUintParam(c, "id")
	if err != nil || docID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	if err := h.docService.Reindex(c.Request.Context(), workspaceID, docID); err != nil {
		if errors.Is(err, app.ErrDocumentNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "reindex failed")
		return
	}

	response.OK(c, gin.H{"document_id": docID, "status": "pending"})
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	s := c.Param(key)
	u, err := strconv.ParseUint(s, 10, 64)
	return uint(u), err
}

func parseTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// writeKBError maps the error taxonomy onto HTTP statuses: caller errors to
// 400, upstream outages to 503, the rest to 500.
func writeKBError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, kb.ErrInvalidArgument), errors.Is(err, kb.ErrInvalidConfiguration):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case kb.IsUnavailable(err):
		response.Error(c, http.StatusServiceUnavailable, response.CodeKBUnavailable, "knowledge base temporarily unavailable")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback+": "+err.Error())
	}
}
