package impl

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fiscal/internal/authz"
	"fiscal/internal/delivery"
	"fiscal/internal/domain"
	"fiscal/internal/dto"
	"fiscal/internal/events"
	"fiscal/internal/guard"
	"fiscal/internal/ofd"
	"fiscal/internal/queue"
	"fiscal/internal/sender"
	"fiscal/internal/service"
	"fiscal/internal/storage"
	"fiscal/internal/store"
	"fiscal/internal/store/memstore"
	"fiscal/pkg/db"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	results []sender.Result
	sent    []ofd.Command
	onSend  func()
}

func (s *stubSender) Send(_ context.Context, cmd ofd.Command) sender.Result {
	s.sent = append(s.sent, cmd)
	if s.onSend != nil {
		s.onSend()
	}
	if len(s.results) == 0 {
		return sender.Result{Status: sender.StatusTimeout, ErrorMessage: "connection refused"}
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r
}

func ok(token string) sender.Result {
	zero := 0
	return sender.Result{Status: sender.StatusOK, ResultCode: &zero, ResponseToken: token, FiscalSign: "FS-" + token}
}

func rejected(code int) sender.Result {
	return sender.Result{Status: sender.StatusFailed, ResultCode: &code, ErrorMessage: "rejected"}
}

type recorder struct {
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) { r.events = append(r.events, e) }

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

type harness struct {
	st       storage.Storage
	clock    *clock
	snd      *stubSender
	q        *queue.Queue
	pub      *recorder
	exec     *OperationExecutorImpl
	receipts *ReceiptServiceImpl
	cash     *CashServiceImpl
	shifts   *ShiftServiceImpl
	devices  *DeviceServiceImpl
	dev      *domain.Device
	ctx      context.Context
}

func newHarness(t *testing.T, results ...sender.Result) *harness {
	t.Helper()
	return newHarnessOn(t, memstore.New(), results...)
}

func newHarnessOn(t *testing.T, st storage.Storage, results ...sender.Result) *harness {
	t.Helper()
	h := &harness{
		st:    st,
		clock: &clock{t: time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)},
		snd:   &stubSender{results: results},
		pub:   &recorder{},
		ctx:   authz.WithPrincipal(context.Background(), authz.Principal{Subject: "ops", Role: domain.RoleAdmin}),
	}
	now := h.clock.Now
	h.q = queue.New(queue.FixedBackoff(time.Minute), queue.WithClock(now))
	d := delivery.New(h.q, h.snd, now, nil)
	az := authz.NewAuthorizer(nil)
	shiftGuard := guard.NewShiftDurationGuard(24*time.Hour, nil, now, nil)
	h.exec = NewOperationExecutorImpl(ExecutorDeps{
		Store:      h.st,
		Authorizer: az,
		Autonomous: guard.NewAutonomousModeGuard(h.q, 72*time.Hour, now, nil),
		Shifts:     shiftGuard,
		Delivery:   d,
		Hooks:      []service.DeliveryHook{NewCounterHook(now)},
		Publisher:  h.pub,
		Now:        now,
	})
	h.receipts = NewReceiptServiceImpl(h.exec)
	h.receipts.now = now
	h.cash = NewCashServiceImpl(h.exec)
	h.cash.now = now
	h.shifts = NewShiftServiceImpl(h.st, h.exec, az, guard.NewAutonomousModeGuard(h.q, 72*time.Hour, now, nil), d, h.pub, nil)
	h.shifts.now = now
	shiftGuard.SetCloser(h.shifts)
	h.devices = NewDeviceServiceImpl(h.st, az, h.q, authz.NewPinHasher(authz.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 16, SaltLen: 8}), h.pub, nil)
	h.devices.now = now

	resp, err := h.devices.Register(h.ctx, dto.RegisterDeviceRequest{SerialNumber: "KKT-" + t.Name(), OfdToken: "tok-0"})
	require.NoError(t, err)
	h.dev = h.device(t, resp.ID)
	return h
}

func (h *harness) device(t *testing.T, id string) *domain.Device {
	t.Helper()
	var dev *domain.Device
	require.NoError(t, h.st.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		dev, err = tx.Devices().Get(context.Background(), mustUUID(t, id))
		return err
	}))
	return dev
}

func (h *harness) reload(t *testing.T) *domain.Device {
	t.Helper()
	return h.device(t, h.dev.ID.String())
}

func (h *harness) update(t *testing.T, fn func(tx storage.Tx, dev *domain.Device) error) {
	t.Helper()
	require.NoError(t, h.st.WithTx(context.Background(), func(tx storage.Tx) error {
		dev, err := tx.Devices().GetForUpdate(context.Background(), h.dev.ID)
		if err != nil {
			return err
		}
		if err := fn(tx, dev); err != nil {
			return err
		}
		return tx.Devices().Save(context.Background(), dev)
	}))
}

func (h *harness) stats(t *testing.T) *domain.QueueStats {
	t.Helper()
	var s *domain.QueueStats
	require.NoError(t, h.st.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		s, err = h.q.Stats(context.Background(), tx, h.dev.ID)
		return err
	}))
	return s
}

func (h *harness) counter(t *testing.T, shiftNo int) *domain.ShiftCounter {
	t.Helper()
	var c *domain.ShiftCounter
	require.NoError(t, h.st.WithTx(context.Background(), func(tx storage.Tx) error {
		shift, err := tx.Shifts().Current(context.Background(), h.dev.ID)
		if err != nil {
			return err
		}
		require.Equal(t, shiftNo, shift.Number)
		c, err = tx.Counters().Get(context.Background(), shift.ID)
		return err
	}))
	return c
}

func openSQLite(t *testing.T) *store.Store {
	t.Helper()
	gdb, err := db.OpenGorm(db.Config{Driver: db.DriverSQLite, DSN: filepath.Join(t.TempDir(), "kkt.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	st := store.New(gdb)
	require.NoError(t, st.AutoMigrate(context.Background()))
	return st
}

func sale(prices ...string) dto.ReceiptRequest {
	req := dto.ReceiptRequest{Kind: "SELL"}
	for _, p := range prices {
		req.Items = append(req.Items, dto.ReceiptItemRequest{Name: "item", Price: decimal.RequireFromString(p), Quantity: decimal.NewFromInt(1)})
	}
	return req
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}
