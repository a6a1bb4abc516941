package store

import (
	"context"

	"fiscal/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ShiftStore struct{ db *gorm.DB }

func (s *ShiftStore) Create(ctx context.Context, shift *domain.Shift) error {
	if shift.ID == uuid.Nil {
		shift.ID = uuid.New()
	}
	return translate(s.db.WithContext(ctx).Create(shift).Error)
}

func (s *ShiftStore) Current(ctx context.Context, deviceID domain.DeviceID) (*domain.Shift, error) {
	var shift domain.Shift
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND status = ?", deviceID, domain.ShiftOpen).
		Order("number DESC").
		First(&shift).Error
	if err != nil {
		return nil, translate(err)
	}
	return &shift, nil
}

func (s *ShiftStore) Save(ctx context.Context, shift *domain.Shift) error {
	return translate(s.db.WithContext(ctx).Save(shift).Error)
}

func (s *ShiftStore) DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error) {
	tx := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&domain.Shift{})
	return tx.RowsAffected, translate(tx.Error)
}
