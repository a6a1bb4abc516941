package impl

import (
	"context"
	"log/slog"

	"fiscal/internal/domain"
	"fiscal/internal/dto"
	"fiscal/internal/queue"
	"fiscal/internal/service"
	"fiscal/internal/storage"
)

var _ service.QueueService = (*QueueServiceImpl)(nil)

// DeviceSyncer drains one device's queue synchronously.
type DeviceSyncer interface {
	ProcessDevice(ctx context.Context, id domain.DeviceID) (int, error)
}

type QueueServiceImpl struct {
	store  storage.Storage
	authz  service.Authorizer
	queue  *queue.Queue
	syncer DeviceSyncer
	log    *slog.Logger
}

func NewQueueServiceImpl(st storage.Storage, az service.Authorizer, q *queue.Queue, syncer DeviceSyncer, log *slog.Logger) *QueueServiceImpl {
	if log == nil {
		log = slog.Default()
	}
	return &QueueServiceImpl{store: st, authz: az, queue: q, syncer: syncer, log: log}
}

func (s *QueueServiceImpl) Status(ctx context.Context, deviceID domain.DeviceID) (*dto.QueueStatusResponse, error) {
	var out *dto.QueueStatusResponse
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := s.authz.Authorize(ctx, tx, deviceID, domain.RoleCashier); err != nil {
			return err
		}
		var err error
		out, err = s.status(ctx, tx, deviceID)
		return err
	})
	return out, err
}

// RetryFailed requeues commands OFD rejected, typically after the operator
// fixed the cause.
func (s *QueueServiceImpl) RetryFailed(ctx context.Context, deviceID domain.DeviceID) (*dto.RetryFailedResponse, error) {
	var n int64
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := s.authz.Authorize(ctx, tx, deviceID, domain.RoleAdmin); err != nil {
			return err
		}
		if _, err := lockDevice(ctx, tx, deviceID); err != nil {
			return err
		}
		var err error
		n, err = s.queue.RetryFailed(ctx, tx, deviceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &dto.RetryFailedResponse{DeviceID: deviceID.String(), Reset: n}, nil
}

// Sync delivers the device's due commands now instead of waiting for the
// next worker poll.
func (s *QueueServiceImpl) Sync(ctx context.Context, deviceID domain.DeviceID) (*dto.SyncResponse, error) {
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := s.authz.Authorize(ctx, tx, deviceID, domain.RoleAdmin); err != nil {
			return err
		}
		_, err := tx.Devices().Get(ctx, deviceID)
		if err != nil {
			return notFoundAsDevice(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	processed, err := s.syncer.ProcessDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	st, err := s.Status(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	s.log.Info("queue synced", "device_id", deviceID, "processed", processed, "unsent", st.Unsent)
	return &dto.SyncResponse{DeviceID: deviceID.String(), Processed: processed, Queue: *st}, nil
}

func (s *QueueServiceImpl) status(ctx context.Context, tx storage.Tx, deviceID domain.DeviceID) (*dto.QueueStatusResponse, error) {
	if _, err := tx.Devices().Get(ctx, deviceID); err != nil {
		return nil, notFoundAsDevice(err)
	}
	stats, err := s.queue.Stats(ctx, tx, deviceID)
	if err != nil {
		return nil, err
	}
	return toQueueStatus(stats), nil
}
