package store

import (
	"context"
	"time"

	"fiscal/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DocumentStore struct{ db *gorm.DB }

func (s *DocumentStore) Create(ctx context.Context, doc *domain.FiscalDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	return translate(s.db.WithContext(ctx).Create(doc).Error)
}

func (s *DocumentStore) Get(ctx context.Context, id domain.DocumentID) (*domain.FiscalDocument, error) {
	var doc domain.FiscalDocument
	if err := s.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &doc, nil
}

func (s *DocumentStore) Save(ctx context.Context, doc *domain.FiscalDocument) error {
	doc.UpdatedAt = time.Now().UTC()
	return translate(s.db.WithContext(ctx).Save(doc).Error)
}

func (s *DocumentStore) DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error) {
	tx := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&domain.FiscalDocument{})
	return tx.RowsAffected, translate(tx.Error)
}
