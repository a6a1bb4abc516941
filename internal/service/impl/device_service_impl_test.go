package impl

import (
	"context"
	"testing"

	"fiscal/internal/authz"
	"fiscal/internal/domain"
	"fiscal/internal/dto"
	"fiscal/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDevice(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, domain.DeviceIdle, h.dev.State)
	assert.Equal(t, domain.ModeOnline, h.dev.Mode)
	assert.Equal(t, 0, h.dev.ReqNum)

	_, err := h.devices.Register(h.ctx, dto.RegisterDeviceRequest{SerialNumber: h.dev.SerialNumber})
	assert.ErrorIs(t, err, domain.ErrDuplicateSerial)
	_, err = h.devices.Register(h.ctx, dto.RegisterDeviceRequest{SerialNumber: " "})
	assert.ErrorIs(t, err, domain.ErrValidation)

	bound := authz.WithPrincipal(context.Background(), authz.Principal{Subject: "till", Role: domain.RoleAdmin, DeviceID: &h.dev.ID})
	_, err = h.devices.Register(bound, dto.RegisterDeviceRequest{SerialNumber: "other"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.devices.Register(context.Background(), dto.RegisterDeviceRequest{SerialNumber: "other"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestProgrammingLifecycle(t *testing.T) {
	h := newHarness(t)
	tok := "tok-new"
	_, err := h.devices.UpdateSettings(h.ctx, h.dev.ID, dto.DeviceSettingsRequest{OfdToken: &tok})
	assert.ErrorIs(t, err, domain.ErrDeviceNotProgramming)

	resp, err := h.devices.EnterProgramming(h.ctx, h.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.DeviceProgramming), resp.State)

	empty := " "
	_, err = h.devices.UpdateSettings(h.ctx, h.dev.ID, dto.DeviceSettingsRequest{OfdToken: &empty})
	assert.ErrorIs(t, err, domain.ErrMissingToken)

	auto := true
	resp, err = h.devices.UpdateSettings(h.ctx, h.dev.ID, dto.DeviceSettingsRequest{OfdToken: &tok, AutoCloseShift: &auto})
	require.NoError(t, err)
	assert.True(t, resp.AutoCloseShift)
	assert.Equal(t, "tok-new", h.reload(t).OfdToken)

	resp, err = h.devices.ExitProgramming(h.ctx, h.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.DeviceIdle), resp.State)
	_, err = h.devices.ExitProgramming(h.ctx, h.dev.ID)
	assert.ErrorIs(t, err, domain.ErrDeviceNotProgramming)
}

func TestEnterProgrammingRefusals(t *testing.T) {
	h := newHarness(t, ok("a"))
	_, err := h.receipts.Create(h.ctx, h.dev.ID, "k1", sale("1.00"))
	require.NoError(t, err)

	_, err = h.devices.EnterProgramming(h.ctx, h.dev.ID)
	assert.ErrorIs(t, err, domain.ErrValidation, "shift is open")

	_, err = h.shifts.Close(h.ctx, h.dev.ID, "z1")
	require.NoError(t, err) // no reply: Z report queued
	_, err = h.devices.EnterProgramming(h.ctx, h.dev.ID)
	assert.ErrorIs(t, err, domain.ErrQueueNotEmpty)
	assert.Equal(t, domain.DeviceIdle, h.reload(t).State)
}

func TestUnblock(t *testing.T) {
	h := newHarness(t, rejected(15))
	_, err := h.receipts.Create(h.ctx, h.dev.ID, "k1", sale("1.00"))
	require.NoError(t, err)
	require.Equal(t, domain.DeviceBlocked, h.reload(t).State)

	resp, err := h.devices.Unblock(h.ctx, h.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.DeviceActive), resp.State, "shift still open")
	assert.Empty(t, resp.BlockReason)
}

func TestDeleteDevice(t *testing.T) {
	h := newHarness(t)
	_, err := h.receipts.Create(h.ctx, h.dev.ID, "k1", sale("1.00"))
	require.NoError(t, err)
	_, err = h.devices.AddCashier(h.ctx, h.dev.ID, dto.AddCashierRequest{Name: "Ann", Role: "cashier", Pin: "1234"})
	require.NoError(t, err)

	resp, err := h.devices.Delete(h.ctx, h.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"queue_commands":      1,
		"queue_leases":        0,
		"idempotency_records": 1,
		"shift_counters":      1,
		"fiscal_documents":    1,
		"shifts":              1,
		"cashiers":            1,
		"devices":             1,
	}, resp.Deleted)

	_, err = h.devices.Get(h.ctx, h.dev.ID)
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
	_, err = h.devices.Delete(h.ctx, h.dev.ID)
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
}

func TestCashierPinGuardsOperations(t *testing.T) {
	h := newHarness(t, ok("a"))
	c, err := h.devices.AddCashier(h.ctx, h.dev.ID, dto.AddCashierRequest{Name: "Ann", Role: "CASHIER", Pin: "1234"})
	require.NoError(t, err)
	cid := uuid.MustParse(c.ID)

	ctx := authz.WithPrincipal(context.Background(), authz.Principal{Subject: "ann", Role: domain.RoleCashier, DeviceID: &h.dev.ID, CashierID: &cid})
	_, err = h.receipts.Create(ctx, h.dev.ID, "k1", sale("1.00"))
	assert.ErrorIs(t, err, domain.ErrInvalidPin)

	resp, err := h.receipts.Create(authz.WithPIN(ctx, "1234"), h.dev.ID, "k1", sale("1.00"))
	require.NoError(t, err)
	assert.Equal(t, string(domain.OfdSent), resp.OfdStatus)

	_, err = h.shifts.Close(authz.WithPIN(ctx, "1234"), h.dev.ID, "z1")
	assert.ErrorIs(t, err, domain.ErrForbidden, "closing needs a senior cashier")

	_, err = h.devices.AddCashier(h.ctx, h.dev.ID, dto.AddCashierRequest{Name: "Bob", Role: "boss"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = h.devices.AddCashier(h.ctx, uuid.New(), dto.AddCashierRequest{Name: "Bob", Role: "ADMIN"})
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
}

func TestGetDescribesShift(t *testing.T) {
	h := newHarness(t)
	resp, err := h.devices.Get(h.ctx, h.dev.ID)
	require.NoError(t, err)
	assert.False(t, resp.ShiftOpen)
	assert.True(t, resp.HasToken)

	_, err = h.shifts.Open(h.ctx, h.dev.ID)
	require.NoError(t, err)
	resp, err = h.devices.Get(h.ctx, h.dev.ID)
	require.NoError(t, err)
	assert.True(t, resp.ShiftOpen)
	assert.Equal(t, 1, resp.ShiftNo)
	assert.Equal(t, string(domain.DeviceActive), resp.State)
}

type stubSyncer struct {
	calls int
}

func (s *stubSyncer) ProcessDevice(context.Context, domain.DeviceID) (int, error) {
	s.calls++
	return 0, nil
}

func TestQueueService(t *testing.T) {
	h := newHarness(t, rejected(3))
	syncer := &stubSyncer{}
	qs := NewQueueServiceImpl(h.st, authz.NewAuthorizer(nil), h.q, syncer, nil)

	_, err := h.receipts.Create(h.ctx, h.dev.ID, "k1", sale("1.00"))
	require.NoError(t, err)
	_, err = h.receipts.Create(h.ctx, h.dev.ID, "k2", sale("1.00"))
	require.NoError(t, err)

	st, err := qs.Status(h.ctx, h.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Unsent)
	assert.Equal(t, 1, st.Counts[string(domain.LaneOffline)][string(domain.QueuePending)])

	// Park the head as rejected, then requeue it.
	require.NoError(t, h.st.WithTx(context.Background(), func(tx storage.Tx) error {
		cmd, err := h.q.Next(context.Background(), tx, h.dev.ID)
		if err != nil {
			return err
		}
		return h.q.MarkFailed(context.Background(), tx, cmd, "rejected")
	}))
	retried, err := qs.RetryFailed(h.ctx, h.dev.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, retried.Reset)

	synced, err := qs.Sync(h.ctx, h.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, syncer.calls)
	assert.Equal(t, 1, synced.Queue.Unsent)

	_, err = qs.Sync(h.ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
	assert.Equal(t, 1, syncer.calls)
}
