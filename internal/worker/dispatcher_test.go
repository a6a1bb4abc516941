package worker

import (
	"context"
	"testing"
	"time"

	"fiscal/internal/delivery"
	"fiscal/internal/domain"
	"fiscal/internal/ofd"
	"fiscal/internal/queue"
	"fiscal/internal/sender"
	"fiscal/internal/storage"
	"fiscal/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type switchSender struct {
	online bool
	closed bool
	code   int
	sent   []ofd.Command
}

func (s *switchSender) Admit(domain.DeviceID) (sender.Result, bool) {
	return sender.NoReply("reconnect interval not elapsed"), !s.closed
}

func (s *switchSender) Send(_ context.Context, cmd ofd.Command) sender.Result {
	s.sent = append(s.sent, cmd)
	if !s.online {
		return sender.Result{Status: sender.StatusTimeout, ErrorMessage: "unreachable"}
	}
	code := s.code
	if code != ofd.ResultOK {
		return sender.Result{Status: sender.StatusFailed, ResultCode: &code, ErrorMessage: "rejected"}
	}
	return sender.Result{Status: sender.StatusOK, ResultCode: &code, FiscalSign: "FS"}
}

type env struct {
	st   storage.Storage
	q    *queue.Queue
	snd  *switchSender
	d    *delivery.Deliverer
	w    *Dispatcher
	dev  *domain.Device
	now  time.Time
	docs []*domain.FiscalDocument
}

func newEnv(t *testing.T, docs int) *env {
	t.Helper()
	e := &env{st: memstore.New(), snd: &switchSender{}, now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return e.now }
	e.q = queue.New(queue.FixedBackoff(time.Second), queue.WithClock(clock))
	e.d = delivery.New(e.q, e.snd, clock, nil)
	e.w = New(Config{OwnerID: "node-a", LeaseTTL: time.Minute}, e.st, e.q, e.d, clock, nil)
	e.dev = &domain.Device{SerialNumber: "KKT-" + t.Name(), State: domain.DeviceActive, Mode: domain.ModeOnline, OfdToken: "tok"}

	ctx := context.Background()
	require.NoError(t, e.st.WithTx(ctx, func(tx storage.Tx) error { return tx.Devices().Create(ctx, e.dev) }))
	for i := 0; i < docs; i++ {
		require.NoError(t, e.st.WithTx(ctx, func(tx storage.Tx) error {
			dev, err := tx.Devices().GetForUpdate(ctx, e.dev.ID)
			if err != nil {
				return err
			}
			doc := &domain.FiscalDocument{DeviceID: dev.ID, Type: domain.CommandTicket, OfdStatus: domain.OfdPending}
			if err := tx.Documents().Create(ctx, doc); err != nil {
				return err
			}
			e.docs = append(e.docs, doc)
			_, _, err = e.d.Deliver(ctx, tx, dev, doc)
			return err
		}))
	}
	e.snd.sent = nil
	return e
}

func (e *env) device(t *testing.T) *domain.Device {
	t.Helper()
	var dev *domain.Device
	require.NoError(t, e.st.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		dev, err = tx.Devices().Get(context.Background(), e.dev.ID)
		return err
	}))
	return dev
}

func TestRunOnceDrainsInOrder(t *testing.T) {
	e := newEnv(t, 3)
	e.snd.online = true

	n, err := e.w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, e.snd.sent, 3)
	for i, cmd := range e.snd.sent {
		assert.Equal(t, e.docs[i].ID, cmd.DocumentID, "offline order preserved")
	}

	dev := e.device(t)
	assert.Nil(t, dev.AutonomousSince)
	assert.Equal(t, domain.ModeOnline, dev.Mode)

	require.NoError(t, e.st.WithTx(context.Background(), func(tx storage.Tx) error {
		_, err := tx.Leases().Get(context.Background(), e.dev.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound, "lease released")
		queued, err := e.q.HasQueuedCommands(context.Background(), tx, e.dev.ID)
		assert.False(t, queued)
		return err
	}))
}

func TestProcessDeviceStopsOnNoReply(t *testing.T) {
	e := newEnv(t, 2)

	n, err := e.w.ProcessDevice(context.Background(), e.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, e.snd.sent, 1, "second command waits behind the first")
	assert.Equal(t, e.docs[0].ID, e.snd.sent[0].DocumentID)

	n, err = e.w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "head not due before its backoff")

	e.now = e.now.Add(time.Second)
	e.snd.online = true
	n, err = e.w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestProcessDeviceStopsWhenSuspended(t *testing.T) {
	e := newEnv(t, 2)
	e.snd.online = true
	e.snd.code = ofd.ResultBlocked

	n, err := e.w.ProcessDevice(context.Background(), e.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, e.snd.sent, 1, "nothing more is sent to a suspended device")

	dev := e.device(t)
	assert.Equal(t, domain.DeviceBlocked, dev.State)
	assert.Equal(t, domain.BlockOfdSuspended, dev.BlockReason)

	n, err = e.w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, e.snd.sent, 1)

	require.NoError(t, e.st.WithTx(context.Background(), func(tx storage.Tx) error {
		head, err := tx.Queue().Head(context.Background(), e.dev.ID)
		require.NoError(t, err)
		assert.Equal(t, e.docs[1].ID.String(), head.PayloadRef, "second command still waits")
		return nil
	}))
}

func TestProcessDeviceLeavesRefusedHeadUntouched(t *testing.T) {
	e := newEnv(t, 1)
	e.snd.online = true
	e.snd.closed = true
	before := e.device(t).ReqNum

	for i := 0; i < 3; i++ {
		n, err := e.w.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Empty(t, e.snd.sent)
	assert.Equal(t, before, e.device(t).ReqNum)

	require.NoError(t, e.st.WithTx(context.Background(), func(tx storage.Tx) error {
		head, err := tx.Queue().Head(context.Background(), e.dev.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.QueuePending, head.Status)
		assert.Zero(t, head.Attempt)
		return nil
	}))

	e.snd.closed = false
	n, err := e.w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, before+1, e.device(t).ReqNum)
}

func TestProcessDeviceSkipsForeignLease(t *testing.T) {
	e := newEnv(t, 1)
	e.snd.online = true
	ctx := context.Background()

	require.NoError(t, e.st.WithTx(ctx, func(tx storage.Tx) error {
		ok, err := e.q.TryAcquire(ctx, tx, e.dev.ID, "node-b", e.now.Add(time.Minute))
		require.True(t, ok)
		return err
	}))

	n, err := e.w.ProcessDevice(ctx, e.dev.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, e.snd.sent)

	e.now = e.now.Add(time.Minute)
	n, err = e.w.ProcessDevice(ctx, e.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "expired lease taken over")
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newEnv(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, e.w.Run(ctx))
}
