package store

import (
	"context"
	"time"

	"fiscal/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type IdempotencyStore struct{ db *gorm.DB }

func (s *IdempotencyStore) Get(ctx context.Context, deviceID domain.DeviceID, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := s.db.WithContext(ctx).
		Where(map[string]any{"device_id": deviceID, "key": key}).
		First(&rec).Error
	if err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

func (s *IdempotencyStore) Insert(ctx context.Context, rec *domain.IdempotencyRecord) (bool, error) {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if tx.Error != nil {
		return false, translate(tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec *domain.IdempotencyRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	return translate(s.db.WithContext(ctx).Save(rec).Error)
}

func (s *IdempotencyStore) DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error) {
	tx := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&domain.IdempotencyRecord{})
	return tx.RowsAffected, translate(tx.Error)
}
