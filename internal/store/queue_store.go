package store

import (
	"context"
	"time"

	"fiscal/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var activeStatuses = []domain.QueueStatus{domain.QueuePending, domain.QueueInProgress}

type QueueStore struct{ db *gorm.DB }

// Insert relies on ux_queue_identity: a second command with the same
// (device, type, payload_ref) affects no rows.
func (q *QueueStore) Insert(ctx context.Context, cmd *domain.QueueCommand) (bool, error) {
	now := time.Now().UTC()
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = now
	}
	cmd.UpdatedAt = now
	if cmd.NextAttemptAt.IsZero() {
		cmd.NextAttemptAt = now
	}
	tx := q.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(cmd)
	if tx.Error != nil {
		return false, translate(tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

func (q *QueueStore) HasUnsent(ctx context.Context, deviceID domain.DeviceID) (bool, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&domain.QueueCommand{}).
		Where("device_id = ? AND status <> ?", deviceID, domain.QueueSent).
		Count(&n).Error
	return n > 0, translate(err)
}

func (q *QueueStore) Head(ctx context.Context, deviceID domain.DeviceID) (*domain.QueueCommand, error) {
	var cmd domain.QueueCommand
	err := q.db.WithContext(ctx).
		Where("device_id = ? AND status IN ?", deviceID, activeStatuses).
		Order("seq ASC").
		First(&cmd).Error
	if err != nil {
		return nil, translate(err)
	}
	return &cmd, nil
}

func (q *QueueStore) Save(ctx context.Context, cmd *domain.QueueCommand) error {
	cmd.UpdatedAt = time.Now().UTC()
	return translate(q.db.WithContext(ctx).Save(cmd).Error)
}

func (q *QueueStore) ResetFailed(ctx context.Context, deviceID domain.DeviceID, now time.Time) (int64, error) {
	tx := q.db.WithContext(ctx).Model(&domain.QueueCommand{}).
		Where("device_id = ? AND status = ?", deviceID, domain.QueueFailed).
		Updates(map[string]any{
			"status":          domain.QueuePending,
			"attempt":         0,
			"next_attempt_at": now.UTC(),
			"last_error":      "",
			"updated_at":      now.UTC(),
		})
	return tx.RowsAffected, translate(tx.Error)
}

func (q *QueueStore) DevicesWithPending(ctx context.Context, now time.Time, limit int) ([]domain.DeviceID, error) {
	var ids []domain.DeviceID
	query := q.db.WithContext(ctx).Model(&domain.QueueCommand{}).
		Where("status IN ? AND next_attempt_at <= ?", activeStatuses, now.UTC()).
		Group("device_id").
		Order("MIN(seq) ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("device_id", &ids).Error; err != nil {
		return nil, translate(err)
	}
	return ids, nil
}

type laneStatusCount struct {
	Lane   domain.Lane
	Status domain.QueueStatus
	N      int
}

func (q *QueueStore) Stats(ctx context.Context, deviceID domain.DeviceID) (*domain.QueueStats, error) {
	var rows []laneStatusCount
	err := q.db.WithContext(ctx).Model(&domain.QueueCommand{}).
		Select("lane, status, COUNT(*) AS n").
		Where("device_id = ?", deviceID).
		Group("lane, status").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	stats := &domain.QueueStats{DeviceID: deviceID, Counts: map[domain.Lane]map[domain.QueueStatus]int{}}
	for _, r := range rows {
		if stats.Counts[r.Lane] == nil {
			stats.Counts[r.Lane] = map[domain.QueueStatus]int{}
		}
		stats.Counts[r.Lane][r.Status] = r.N
	}
	head, err := q.Head(ctx, deviceID)
	switch {
	case err == nil:
		stats.Head = head
	case !isNotFound(err):
		return nil, err
	}
	return stats, nil
}

func (q *QueueStore) DeleteByDevice(ctx context.Context, deviceID domain.DeviceID) (int64, error) {
	tx := q.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&domain.QueueCommand{})
	return tx.RowsAffected, translate(tx.Error)
}
