package store

import (
	"context"

	"fiscal/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CashierStore struct{ db *gorm.DB }

func (s *CashierStore) Create(ctx context.Context, c *domain.Cashier) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return translate(s.db.WithContext(ctx).Create(c).Error)
}

func (s *CashierStore) Get(ctx context.Context, id domain.CashierID) (*domain.Cashier, error) {
	var c domain.Cashier
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *CashierStore) DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error) {
	tx := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&domain.Cashier{})
	return tx.RowsAffected, translate(tx.Error)
}
