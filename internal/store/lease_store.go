package store

import (
	"context"
	"time"

	"fiscal/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LeaseStore struct{ db *gorm.DB }

// TryAcquire is a single conditional upsert: the row is inserted when absent
// and overwritten only when the stored lease has expired or already belongs
// to owner. One affected row means the caller now holds the lease.
func (l *LeaseStore) TryAcquire(ctx context.Context, deviceID domain.DeviceID, owner string, until, now time.Time) (bool, error) {
	lease := domain.Lease{DeviceID: deviceID, OwnerID: owner, LeaseUntil: until.UTC()}
	tx := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner_id", "lease_until"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{
					SQL:  "queue_leases.lease_until <= ? OR queue_leases.owner_id = ?",
					Vars: []any{now.UTC(), owner},
				},
			}},
		}).
		Create(&lease)
	if tx.Error != nil {
		return false, translate(tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

func (l *LeaseStore) Renew(ctx context.Context, deviceID domain.DeviceID, owner string, until, now time.Time) (bool, error) {
	tx := l.db.WithContext(ctx).Model(&domain.Lease{}).
		Where("device_id = ? AND owner_id = ? AND lease_until > ?", deviceID, owner, now.UTC()).
		Update("lease_until", until.UTC())
	if tx.Error != nil {
		return false, translate(tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

func (l *LeaseStore) Release(ctx context.Context, deviceID domain.DeviceID, owner string) error {
	return translate(l.db.WithContext(ctx).
		Where("device_id = ? AND owner_id = ?", deviceID, owner).
		Delete(&domain.Lease{}).Error)
}

func (l *LeaseStore) Get(ctx context.Context, deviceID domain.DeviceID) (*domain.Lease, error) {
	var lease domain.Lease
	if err := l.db.WithContext(ctx).First(&lease, "device_id = ?", deviceID).Error; err != nil {
		return nil, translate(err)
	}
	return &lease, nil
}

func (l *LeaseStore) DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error) {
	tx := l.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&domain.Lease{})
	return tx.RowsAffected, translate(tx.Error)
}
