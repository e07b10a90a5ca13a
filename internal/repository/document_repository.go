package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"inboxkb/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Update(doc *model.Document) error {
	if err := r.db.Save(doc).Error; err != nil {
		return fmt.Errorf("update document failed: %w", err)
	}
	return nil
}

// GetByIDAndWorkspace returns the document only when it belongs to the
// workspace; (nil, nil) when absent.
func (r *DocumentRepository) GetByIDAndWorkspace(id uint, workspaceID string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("id = ? AND workspace_id = ?", id, workspaceID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) GetByID(id uint) (*model.Document, error) {
	var doc model.Document
	err := r.db.First(&doc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByWorkspace(workspaceID string) ([]model.Document, error) {
	var docs []model.Document
	if err := r.db.Where("workspace_id = ?", workspaceID).Order("id DESC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, nil
}
