package store

import (
	"context"
	"time"

	"fiscal/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CounterStore struct{ db *gorm.DB }

func (s *CounterStore) Get(ctx context.Context, shiftID domain.ShiftID) (*domain.ShiftCounter, error) {
	var c domain.ShiftCounter
	if err := s.db.WithContext(ctx).First(&c, "shift_id = ?", shiftID).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *CounterStore) Save(ctx context.Context, c *domain.ShiftCounter) error {
	c.UpdatedAt = time.Now().UTC()
	return translate(s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shift_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sales_count", "sales_total", "returns_count", "returns_total", "updated_at"}),
	}).Create(c).Error)
}

func (s *CounterStore) DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error) {
	tx := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&domain.ShiftCounter{})
	return tx.RowsAffected, translate(tx.Error)
}
