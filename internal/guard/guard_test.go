package guard

import (
	"context"
	"testing"
	"time"

	"fiscal/internal/domain"
	"fiscal/internal/storage"
	"fiscal/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queueState struct{ queued bool }

func (p *queueState) HasQueuedCommands(context.Context, storage.Tx, domain.DeviceID) (bool, error) {
	return p.queued, nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newDevice(t *testing.T, st storage.Storage) *domain.Device {
	t.Helper()
	dev := &domain.Device{SerialNumber: "KKT-" + t.Name(), State: domain.DeviceActive, Mode: domain.ModeOnline, OfdToken: "tok"}
	require.NoError(t, st.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.Devices().Create(context.Background(), dev)
	}))
	return dev
}

// enforce runs the guard the way callers do: the transaction commits even
// when the guard refuses.
func enforce(t *testing.T, st storage.Storage, g *AutonomousModeGuard, id domain.DeviceID) (*domain.Device, error) {
	t.Helper()
	var (
		dev      *domain.Device
		guardErr error
	)
	require.NoError(t, st.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		dev, err = tx.Devices().GetForUpdate(context.Background(), id)
		if err != nil {
			return err
		}
		guardErr = g.Enforce(context.Background(), tx, dev)
		return nil
	}))
	var stored *domain.Device
	require.NoError(t, st.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		stored, err = tx.Devices().Get(context.Background(), id)
		return err
	}))
	assert.Equal(t, dev.State, stored.State, "guard result persisted")
	return stored, guardErr
}

func TestAutonomousLifecycle(t *testing.T) {
	st := memstore.New()
	dev := newDevice(t, st)
	q := &queueState{queued: true}
	t0 := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock{t: t0}
	const max = 72 * time.Hour
	g := NewAutonomousModeGuard(q, max, clk.Now, nil)

	got, err := enforce(t, st, g, dev.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AutonomousSince)
	assert.Equal(t, t0, *got.AutonomousSince)
	assert.Equal(t, domain.ModeAutonomous, got.Mode)

	clk.t = t0.Add(max - time.Second)
	got, err = enforce(t, st, g, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceActive, got.State)
	assert.Equal(t, t0, *got.AutonomousSince, "since is not moved by repeated calls")

	clk.t = t0.Add(max + time.Second)
	got, err = enforce(t, st, g, dev.ID)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err, domain.ConflictAutonomousTooLong))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.DeviceBlocked, got.State)
	assert.Equal(t, domain.BlockAutonomous, got.BlockReason)

	_, err = enforce(t, st, g, dev.ID)
	assert.True(t, domain.IsConflict(err, domain.ConflictAutonomousTooLong), "still blocked while queued")

	q.queued = false
	got, err = enforce(t, st, g, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceActive, got.State)
	assert.Nil(t, got.AutonomousSince)
	assert.Equal(t, domain.ModeOnline, got.Mode)
	assert.Equal(t, domain.BlockNone, got.BlockReason)
}

func TestAutonomousClearsWhenQueueDrainsBeforeLimit(t *testing.T) {
	st := memstore.New()
	dev := newDevice(t, st)
	q := &queueState{queued: true}
	clk := &clock{t: time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)}
	g := NewAutonomousModeGuard(q, time.Hour, clk.Now, nil)

	_, err := enforce(t, st, g, dev.ID)
	require.NoError(t, err)

	q.queued = false
	clk.t = clk.t.Add(30 * time.Minute)
	got, err := enforce(t, st, g, dev.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AutonomousSince)
	assert.Equal(t, domain.DeviceActive, got.State)
}

func TestOfdSuspendedBlockIsNotLifted(t *testing.T) {
	st := memstore.New()
	dev := newDevice(t, st)
	require.NoError(t, st.WithTx(context.Background(), func(tx storage.Tx) error {
		dev.Block(domain.BlockOfdSuspended)
		return tx.Devices().Save(context.Background(), dev)
	}))
	g := NewAutonomousModeGuard(&queueState{}, time.Hour, time.Now, nil)

	got, err := enforce(t, st, g, dev.ID)
	assert.True(t, domain.IsConflict(err, domain.ConflictDeviceBlocked))
	assert.ErrorIs(t, err, domain.ErrDeviceBlocked)
	assert.Equal(t, domain.DeviceBlocked, got.State)
}

type closer struct {
	calls int
}

func (c *closer) AutoCloseShift(ctx context.Context, tx storage.Tx, dev *domain.Device, shift *domain.Shift) error {
	c.calls++
	now := time.Now().UTC()
	shift.Status = domain.ShiftClosed
	shift.ClosedAt = &now
	return tx.Shifts().Save(ctx, shift)
}

func openShift(t *testing.T, st storage.Storage, dev *domain.Device, at time.Time) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.Shifts().Create(context.Background(), &domain.Shift{DeviceID: dev.ID, Number: 1, Status: domain.ShiftOpen, OpenedAt: at})
	}))
}

func TestShiftDurationGuard(t *testing.T) {
	t0 := time.Date(2024, 2, 1, 7, 0, 0, 0, time.UTC)

	t.Run("no open shift", func(t *testing.T) {
		st := memstore.New()
		dev := newDevice(t, st)
		g := NewShiftDurationGuard(24*time.Hour, nil, func() time.Time { return t0 }, nil)
		err := st.WithTx(context.Background(), func(tx storage.Tx) error {
			closed, err := g.Enforce(context.Background(), tx, dev)
			assert.False(t, closed)
			return err
		})
		assert.NoError(t, err)
	})

	t.Run("within limit", func(t *testing.T) {
		st := memstore.New()
		dev := newDevice(t, st)
		openShift(t, st, dev, t0)
		g := NewShiftDurationGuard(24*time.Hour, nil, func() time.Time { return t0.Add(24 * time.Hour) }, nil)
		err := st.WithTx(context.Background(), func(tx storage.Tx) error {
			_, err := g.Enforce(context.Background(), tx, dev)
			return err
		})
		assert.NoError(t, err)
	})

	t.Run("too long without auto close", func(t *testing.T) {
		st := memstore.New()
		dev := newDevice(t, st)
		openShift(t, st, dev, t0)
		c := &closer{}
		g := NewShiftDurationGuard(24*time.Hour, c, func() time.Time { return t0.Add(25 * time.Hour) }, nil)
		err := st.WithTx(context.Background(), func(tx storage.Tx) error {
			_, err := g.Enforce(context.Background(), tx, dev)
			return err
		})
		assert.True(t, domain.IsConflict(err, domain.ConflictShiftTooLong))
		assert.ErrorIs(t, err, domain.ErrShiftTooLong)
		assert.Zero(t, c.calls)
	})

	t.Run("too long with auto close", func(t *testing.T) {
		st := memstore.New()
		dev := newDevice(t, st)
		dev.AutoCloseShift = true
		openShift(t, st, dev, t0)
		c := &closer{}
		g := NewShiftDurationGuard(24*time.Hour, c, func() time.Time { return t0.Add(25 * time.Hour) }, nil)
		require.NoError(t, st.WithTx(context.Background(), func(tx storage.Tx) error {
			closed, err := g.Enforce(context.Background(), tx, dev)
			assert.True(t, closed)
			return err
		}))
		assert.Equal(t, 1, c.calls)
		err := st.WithTx(context.Background(), func(tx storage.Tx) error {
			_, err := tx.Shifts().Current(context.Background(), dev.ID)
			return err
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
