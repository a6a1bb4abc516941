package queue

import (
	"context"
	"testing"
	"time"

	"fiscal/internal/domain"
	"fiscal/internal/storage"
	"fiscal/internal/store/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T) (*Queue, storage.Storage, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	q := New(ExponentialBackoff{Base: 10 * time.Second, Max: time.Minute}, WithClock(clk.Now))
	return q, memstore.New(), clk
}

func inTx(t *testing.T, st storage.Storage, fn func(tx storage.Tx)) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(tx storage.Tx) error {
		fn(tx)
		return nil
	}))
}

func TestEnqueueIsIdempotentPerIdentity(t *testing.T) {
	q, st, _ := setup(t)
	ctx := context.Background()
	dev := uuid.New()
	e := Entry{DeviceID: dev, Type: domain.CommandTicket, PayloadRef: "doc-1"}

	inTx(t, st, func(tx storage.Tx) {
		ok, err := q.EnqueueOffline(ctx, tx, e)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = q.EnqueueOffline(ctx, tx, e)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = q.EnqueueOnline(ctx, tx, e)
		require.NoError(t, err)
		assert.False(t, ok, "identity ignores lane")

		ok, err = q.EnqueueOffline(ctx, tx, Entry{DeviceID: dev, Type: domain.CommandCloseShift, PayloadRef: "doc-1"})
		require.NoError(t, err)
		assert.True(t, ok)

		stats, err := q.Stats(ctx, tx, dev)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Counts[domain.LaneOffline][domain.QueuePending])
	})
}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	q, st, _ := setup(t)
	err := st.WithTx(context.Background(), func(tx storage.Tx) error {
		_, err := q.EnqueueOnline(context.Background(), tx, Entry{DeviceID: uuid.New(), Type: "BOGUS", PayloadRef: "x"})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLeaseExclusivity(t *testing.T) {
	q, st, clk := setup(t)
	ctx := context.Background()
	dev := uuid.New()

	inTx(t, st, func(tx storage.Tx) {
		ok, err := q.TryAcquire(ctx, tx, dev, "node-a", clk.Now().Add(30*time.Second))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = q.TryAcquire(ctx, tx, dev, "node-b", clk.Now().Add(30*time.Second))
		require.NoError(t, err)
		assert.False(t, ok, "unexpired lease held by another owner")

		ok, err = q.Renew(ctx, tx, dev, "node-b", clk.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = q.Renew(ctx, tx, dev, "node-a", clk.Now().Add(40*time.Second))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	clk.Advance(41 * time.Second)
	inTx(t, st, func(tx storage.Tx) {
		ok, err := q.Renew(ctx, tx, dev, "node-a", clk.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "expired lease cannot be renewed")

		ok, err = q.TryAcquire(ctx, tx, dev, "node-b", clk.Now().Add(30*time.Second))
		require.NoError(t, err)
		assert.True(t, ok, "expired lease is stealable")

		require.NoError(t, q.Release(ctx, tx, dev, "node-a"))
		lease, err := tx.Leases().Get(ctx, dev)
		require.NoError(t, err)
		assert.Equal(t, "node-b", lease.OwnerID, "release by a former owner is ignored")

		require.NoError(t, q.Release(ctx, tx, dev, "node-b"))
		ok, err = q.TryAcquire(ctx, tx, dev, "node-a", clk.Now().Add(time.Second))
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestOfflineOrderAndHeadOfLine(t *testing.T) {
	q, st, clk := setup(t)
	ctx := context.Background()
	dev := uuid.New()

	inTx(t, st, func(tx storage.Tx) {
		for _, ref := range []string{"A", "B", "C"} {
			_, err := q.EnqueueOffline(ctx, tx, Entry{DeviceID: dev, Type: domain.CommandTicket, PayloadRef: ref})
			require.NoError(t, err)
		}
	})

	inTx(t, st, func(tx storage.Tx) {
		head, err := q.Next(ctx, tx, dev)
		require.NoError(t, err)
		require.NotNil(t, head)
		assert.Equal(t, "A", head.PayloadRef)
		assert.Equal(t, domain.QueueInProgress, head.Status)
		assert.Equal(t, 1, head.Attempt)
		require.NoError(t, q.Reschedule(ctx, tx, head, "no reply"))

		next, err := q.Next(ctx, tx, dev)
		require.NoError(t, err)
		assert.Nil(t, next, "B must not overtake A while A waits for backoff")
	})

	clk.Advance(10 * time.Second)
	inTx(t, st, func(tx storage.Tx) {
		head, err := q.Next(ctx, tx, dev)
		require.NoError(t, err)
		require.NotNil(t, head)
		assert.Equal(t, "A", head.PayloadRef)
		assert.Equal(t, 2, head.Attempt)
		require.NoError(t, q.MarkSent(ctx, tx, head))

		head, err = q.Next(ctx, tx, dev)
		require.NoError(t, err)
		assert.Equal(t, "B", head.PayloadRef)
		require.NoError(t, q.MarkFailed(ctx, tx, head, "result code 3"))

		head, err = q.Next(ctx, tx, dev)
		require.NoError(t, err)
		assert.Equal(t, "C", head.PayloadRef, "FAILED commands do not block the lane")
		require.NoError(t, q.MarkSent(ctx, tx, head))

		head, err = q.Next(ctx, tx, dev)
		require.NoError(t, err)
		assert.Nil(t, head)

		queued, err := q.HasQueuedCommands(ctx, tx, dev)
		require.NoError(t, err)
		assert.True(t, queued, "FAILED command still counts as unsent")
	})
}

func TestRetryFailed(t *testing.T) {
	q, st, clk := setup(t)
	ctx := context.Background()
	dev := uuid.New()

	inTx(t, st, func(tx storage.Tx) {
		_, err := q.EnqueueOnline(ctx, tx, Entry{DeviceID: dev, Type: domain.CommandMoneyPlacement, PayloadRef: "m1"})
		require.NoError(t, err)
		_, err = q.TryAcquire(ctx, tx, dev, "worker", clk.Now().Add(time.Hour))
		require.NoError(t, err)
		head, err := q.Next(ctx, tx, dev)
		require.NoError(t, err)
		require.NoError(t, q.MarkFailed(ctx, tx, head, "rejected"))
	})

	clk.Advance(time.Minute)
	inTx(t, st, func(tx storage.Tx) {
		n, err := q.RetryFailed(ctx, tx, dev)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		head, err := q.Next(ctx, tx, dev)
		require.NoError(t, err)
		require.NotNil(t, head)
		assert.Equal(t, 1, head.Attempt, "attempts reset")
		assert.Empty(t, head.LastError)

		lease, err := tx.Leases().Get(ctx, dev)
		require.NoError(t, err)
		assert.Equal(t, "worker", lease.OwnerID, "lease untouched")
	})
}

func TestHasQueuedCommands(t *testing.T) {
	q, st, _ := setup(t)
	ctx := context.Background()
	dev := uuid.New()

	inTx(t, st, func(tx storage.Tx) {
		queued, err := q.HasQueuedCommands(ctx, tx, dev)
		require.NoError(t, err)
		assert.False(t, queued)

		_, err = q.EnqueueOnline(ctx, tx, Entry{DeviceID: dev, Type: domain.CommandReportX, PayloadRef: "r"})
		require.NoError(t, err)
		queued, err = q.HasQueuedCommands(ctx, tx, dev)
		require.NoError(t, err)
		assert.True(t, queued)

		head, err := q.Next(ctx, tx, dev)
		require.NoError(t, err)
		require.NoError(t, q.MarkSent(ctx, tx, head))
		queued, err = q.HasQueuedCommands(ctx, tx, dev)
		require.NoError(t, err)
		assert.False(t, queued)
	})
}
