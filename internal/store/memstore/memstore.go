// Package memstore is a single-process storage.Storage kept entirely in
// memory. A short store mutex guards map access; GetForUpdate takes a
// per-device lock held until the transaction ends, so transactions on
// different devices run concurrently. Rollback replays an undo log of the
// transaction's own writes.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"fiscal/internal/domain"
	"fiscal/internal/storage"

	"github.com/google/uuid"
)

type idemKey struct {
	device domain.DeviceID
	key    string
}

type queueIdentity struct {
	device     domain.DeviceID
	typ        domain.CommandType
	payloadRef string
}

type data struct {
	devices     map[domain.DeviceID]domain.Device
	shifts      map[domain.ShiftID]domain.Shift
	counters    map[domain.ShiftID]domain.ShiftCounter
	documents   map[domain.DocumentID]domain.FiscalDocument
	queue       map[uint64]domain.QueueCommand
	queueIdx    map[queueIdentity]uint64
	leases      map[domain.DeviceID]domain.Lease
	idempotency map[idemKey]domain.IdempotencyRecord
	cashiers    map[domain.CashierID]domain.Cashier
	seq         uint64
	recSeq      uint64
}

type Store struct {
	mu    sync.Mutex
	d     *data
	locks map[domain.DeviceID]chan struct{}
}

var _ storage.Storage = (*Store)(nil)

func New() *Store {
	return &Store{
		d: &data{
			devices:     map[domain.DeviceID]domain.Device{},
			shifts:      map[domain.ShiftID]domain.Shift{},
			counters:    map[domain.ShiftID]domain.ShiftCounter{},
			documents:   map[domain.DocumentID]domain.FiscalDocument{},
			queue:       map[uint64]domain.QueueCommand{},
			queueIdx:    map[queueIdentity]uint64{},
			leases:      map[domain.DeviceID]domain.Lease{},
			idempotency: map[idemKey]domain.IdempotencyRecord{},
			cashiers:    map[domain.CashierID]domain.Cashier{},
		},
		locks: map[domain.DeviceID]chan struct{}{},
	}
}

// WithTx returns fn's error unchanged after undoing every write fn made.
// Sequence numbers handed out by a rolled back transaction are not reused.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &memTx{s: s, d: s.d, held: map[domain.DeviceID]chan struct{}{}}
	defer t.release()
	defer func() {
		if p := recover(); p != nil {
			t.rollback()
			panic(p)
		}
	}()

	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

type memTx struct {
	s    *Store
	d    *data
	undo []func()
	held map[domain.DeviceID]chan struct{}
}

func (t *memTx) Devices() storage.DeviceRepository          { return deviceRepo{t} }
func (t *memTx) Shifts() storage.ShiftRepository            { return shiftRepo{t} }
func (t *memTx) Documents() storage.DocumentRepository      { return documentRepo{t} }
func (t *memTx) Queue() storage.QueueRepository             { return queueRepo{t} }
func (t *memTx) Leases() storage.LeaseRepository            { return leaseRepo{t} }
func (t *memTx) Idempotency() storage.IdempotencyRepository { return idempotencyRepo{t} }
func (t *memTx) Counters() storage.CounterRepository        { return counterRepo{t} }
func (t *memTx) Cashiers() storage.CashierRepository        { return cashierRepo{t} }

// lock waits for the device lock unless this transaction already holds it.
func (t *memTx) lock(ctx context.Context, id domain.DeviceID) error {
	if _, ok := t.held[id]; ok {
		return nil
	}
	t.s.mu.Lock()
	ch, ok := t.s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		t.s.locks[id] = ch
	}
	t.s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		t.held[id] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memTx) release() {
	for id, ch := range t.held {
		<-ch
		delete(t.held, id)
	}
}

func (t *memTx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) enter() func() {
	t.s.mu.Lock()
	return t.s.mu.Unlock
}

func set[K comparable, V any](t *memTx, m map[K]V, k K, v V) {
	old, had := m[k]
	t.undo = append(t.undo, func() {
		if had {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

func remove[K comparable, V any](t *memTx, m map[K]V, k K) bool {
	old, had := m[k]
	if !had {
		return false
	}
	t.undo = append(t.undo, func() { m[k] = old })
	delete(m, k)
	return true
}

func deleteWhere[K comparable, V any](t *memTx, m map[K]V, match func(V) bool) int64 {
	var n int64
	for k, v := range m {
		if match(v) {
			remove(t, m, k)
			n++
		}
	}
	return n
}

type deviceRepo struct{ t *memTx }

func (r deviceRepo) Create(_ context.Context, dev *domain.Device) error {
	defer r.t.enter()()
	d := r.t.d
	if dev.ID == uuid.Nil {
		dev.ID = uuid.New()
	}
	if _, ok := d.devices[dev.ID]; ok {
		return storage.ErrDuplicate
	}
	for _, other := range d.devices {
		if other.SerialNumber == dev.SerialNumber {
			return storage.ErrDuplicate
		}
	}
	now := time.Now().UTC()
	if dev.CreatedAt.IsZero() {
		dev.CreatedAt = now
	}
	dev.UpdatedAt = now
	set(r.t, d.devices, dev.ID, *dev)
	return nil
}

func (r deviceRepo) Get(_ context.Context, id domain.DeviceID) (*domain.Device, error) {
	defer r.t.enter()()
	dev, ok := r.t.d.devices[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &dev, nil
}

func (r deviceRepo) GetForUpdate(ctx context.Context, id domain.DeviceID) (*domain.Device, error) {
	if err := r.t.lock(ctx, id); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r deviceRepo) GetBySerial(_ context.Context, serial string) (*domain.Device, error) {
	defer r.t.enter()()
	for _, dev := range r.t.d.devices {
		if dev.SerialNumber == serial {
			return &dev, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r deviceRepo) Save(_ context.Context, dev *domain.Device) error {
	defer r.t.enter()()
	dev.UpdatedAt = time.Now().UTC()
	set(r.t, r.t.d.devices, dev.ID, *dev)
	return nil
}

func (r deviceRepo) Delete(_ context.Context, id domain.DeviceID) (int64, error) {
	defer r.t.enter()()
	if !remove(r.t, r.t.d.devices, id) {
		return 0, nil
	}
	return 1, nil
}

type shiftRepo struct{ t *memTx }

func (r shiftRepo) Create(_ context.Context, s *domain.Shift) error {
	defer r.t.enter()()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	set(r.t, r.t.d.shifts, s.ID, *s)
	return nil
}

func (r shiftRepo) Current(_ context.Context, deviceID domain.DeviceID) (*domain.Shift, error) {
	defer r.t.enter()()
	var cur *domain.Shift
	for _, s := range r.t.d.shifts {
		if s.DeviceID == deviceID && s.Status == domain.ShiftOpen {
			if cur == nil || s.Number > cur.Number {
				c := s
				cur = &c
			}
		}
	}
	if cur == nil {
		return nil, storage.ErrNotFound
	}
	return cur, nil
}

func (r shiftRepo) Save(_ context.Context, s *domain.Shift) error {
	defer r.t.enter()()
	set(r.t, r.t.d.shifts, s.ID, *s)
	return nil
}

func (r shiftRepo) DeleteByDevice(_ context.Context, deviceID domain.DeviceID) (int64, error) {
	defer r.t.enter()()
	return deleteWhere(r.t, r.t.d.shifts, func(s domain.Shift) bool { return s.DeviceID == deviceID }), nil
}

type documentRepo struct{ t *memTx }

func (r documentRepo) Create(_ context.Context, doc *domain.FiscalDocument) error {
	defer r.t.enter()()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	set(r.t, r.t.d.documents, doc.ID, *doc)
	return nil
}

func (r documentRepo) Get(_ context.Context, id domain.DocumentID) (*domain.FiscalDocument, error) {
	defer r.t.enter()()
	doc, ok := r.t.d.documents[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &doc, nil
}

func (r documentRepo) Save(_ context.Context, doc *domain.FiscalDocument) error {
	defer r.t.enter()()
	doc.UpdatedAt = time.Now().UTC()
	set(r.t, r.t.d.documents, doc.ID, *doc)
	return nil
}

func (r documentRepo) DeleteByDevice(_ context.Context, deviceID domain.DeviceID) (int64, error) {
	defer r.t.enter()()
	return deleteWhere(r.t, r.t.d.documents, func(d domain.FiscalDocument) bool { return d.DeviceID == deviceID }), nil
}

type queueRepo struct{ t *memTx }

func (r queueRepo) Insert(_ context.Context, cmd *domain.QueueCommand) (bool, error) {
	defer r.t.enter()()
	d := r.t.d
	id := queueIdentity{cmd.DeviceID, cmd.Type, cmd.PayloadRef}
	if _, ok := d.queueIdx[id]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = now
	}
	cmd.UpdatedAt = now
	if cmd.NextAttemptAt.IsZero() {
		cmd.NextAttemptAt = now
	}
	d.seq++
	cmd.Seq = d.seq
	set(r.t, d.queue, cmd.Seq, *cmd)
	set(r.t, d.queueIdx, id, cmd.Seq)
	return true, nil
}

func (r queueRepo) HasUnsent(_ context.Context, deviceID domain.DeviceID) (bool, error) {
	defer r.t.enter()()
	for _, c := range r.t.d.queue {
		if c.DeviceID == deviceID && c.Unsent() {
			return true, nil
		}
	}
	return false, nil
}

func active(c domain.QueueCommand) bool {
	return c.Status == domain.QueuePending || c.Status == domain.QueueInProgress
}

func head(d *data, deviceID domain.DeviceID) *domain.QueueCommand {
	var h *domain.QueueCommand
	for _, c := range d.queue {
		if c.DeviceID != deviceID || !active(c) {
			continue
		}
		if h == nil || c.Seq < h.Seq {
			cc := c
			h = &cc
		}
	}
	return h
}

func (r queueRepo) Head(_ context.Context, deviceID domain.DeviceID) (*domain.QueueCommand, error) {
	defer r.t.enter()()
	h := head(r.t.d, deviceID)
	if h == nil {
		return nil, storage.ErrNotFound
	}
	return h, nil
}

func (r queueRepo) Save(_ context.Context, cmd *domain.QueueCommand) error {
	defer r.t.enter()()
	if _, ok := r.t.d.queue[cmd.Seq]; !ok {
		return storage.ErrNotFound
	}
	cmd.UpdatedAt = time.Now().UTC()
	set(r.t, r.t.d.queue, cmd.Seq, *cmd)
	return nil
}

func (r queueRepo) ResetFailed(_ context.Context, deviceID domain.DeviceID, now time.Time) (int64, error) {
	defer r.t.enter()()
	var n int64
	for seq, c := range r.t.d.queue {
		if c.DeviceID != deviceID || c.Status != domain.QueueFailed {
			continue
		}
		c.Status = domain.QueuePending
		c.Attempt = 0
		c.NextAttemptAt = now.UTC()
		c.LastError = ""
		c.UpdatedAt = now.UTC()
		set(r.t, r.t.d.queue, seq, c)
		n++
	}
	return n, nil
}

func (r queueRepo) DevicesWithPending(_ context.Context, now time.Time, limit int) ([]domain.DeviceID, error) {
	defer r.t.enter()()
	first := map[domain.DeviceID]uint64{}
	for _, c := range r.t.d.queue {
		if !active(c) || c.NextAttemptAt.After(now) {
			continue
		}
		if s, ok := first[c.DeviceID]; !ok || c.Seq < s {
			first[c.DeviceID] = c.Seq
		}
	}
	ids := make([]domain.DeviceID, 0, len(first))
	for id := range first {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b domain.DeviceID) int {
		return cmp.Compare(first[a], first[b])
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r queueRepo) Stats(_ context.Context, deviceID domain.DeviceID) (*domain.QueueStats, error) {
	defer r.t.enter()()
	stats := &domain.QueueStats{DeviceID: deviceID, Counts: map[domain.Lane]map[domain.QueueStatus]int{}}
	for _, c := range r.t.d.queue {
		if c.DeviceID != deviceID {
			continue
		}
		if stats.Counts[c.Lane] == nil {
			stats.Counts[c.Lane] = map[domain.QueueStatus]int{}
		}
		stats.Counts[c.Lane][c.Status]++
	}
	stats.Head = head(r.t.d, deviceID)
	return stats, nil
}

func (r queueRepo) DeleteByDevice(_ context.Context, deviceID domain.DeviceID) (int64, error) {
	defer r.t.enter()()
	d := r.t.d
	n := deleteWhere(r.t, d.queue, func(c domain.QueueCommand) bool { return c.DeviceID == deviceID })
	deleteWhere(r.t, d.queueIdx, func(seq uint64) bool { _, ok := d.queue[seq]; return !ok })
	return n, nil
}

type leaseRepo struct{ t *memTx }

func (r leaseRepo) TryAcquire(_ context.Context, deviceID domain.DeviceID, owner string, until, now time.Time) (bool, error) {
	defer r.t.enter()()
	if cur, ok := r.t.d.leases[deviceID]; ok && cur.OwnerID != owner && !cur.Expired(now) {
		return false, nil
	}
	set(r.t, r.t.d.leases, deviceID, domain.Lease{DeviceID: deviceID, OwnerID: owner, LeaseUntil: until.UTC()})
	return true, nil
}

func (r leaseRepo) Renew(_ context.Context, deviceID domain.DeviceID, owner string, until, now time.Time) (bool, error) {
	defer r.t.enter()()
	cur, ok := r.t.d.leases[deviceID]
	if !ok || cur.OwnerID != owner || cur.Expired(now) {
		return false, nil
	}
	cur.LeaseUntil = until.UTC()
	set(r.t, r.t.d.leases, deviceID, cur)
	return true, nil
}

func (r leaseRepo) Release(_ context.Context, deviceID domain.DeviceID, owner string) error {
	defer r.t.enter()()
	if cur, ok := r.t.d.leases[deviceID]; ok && cur.OwnerID == owner {
		remove(r.t, r.t.d.leases, deviceID)
	}
	return nil
}

func (r leaseRepo) Get(_ context.Context, deviceID domain.DeviceID) (*domain.Lease, error) {
	defer r.t.enter()()
	l, ok := r.t.d.leases[deviceID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &l, nil
}

func (r leaseRepo) DeleteByDevice(_ context.Context, deviceID domain.DeviceID) (int64, error) {
	defer r.t.enter()()
	if !remove(r.t, r.t.d.leases, deviceID) {
		return 0, nil
	}
	return 1, nil
}

type idempotencyRepo struct{ t *memTx }

func (r idempotencyRepo) Get(_ context.Context, deviceID domain.DeviceID, key string) (*domain.IdempotencyRecord, error) {
	defer r.t.enter()()
	rec, ok := r.t.d.idempotency[idemKey{deviceID, key}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

func (r idempotencyRepo) Insert(_ context.Context, rec *domain.IdempotencyRecord) (bool, error) {
	defer r.t.enter()()
	d := r.t.d
	k := idemKey{rec.DeviceID, rec.Key}
	if _, ok := d.idempotency[k]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	d.recSeq++
	rec.ID = d.recSeq
	set(r.t, d.idempotency, k, *rec)
	return true, nil
}

func (r idempotencyRepo) Save(_ context.Context, rec *domain.IdempotencyRecord) error {
	defer r.t.enter()()
	rec.UpdatedAt = time.Now().UTC()
	set(r.t, r.t.d.idempotency, idemKey{rec.DeviceID, rec.Key}, *rec)
	return nil
}

func (r idempotencyRepo) DeleteByDevice(_ context.Context, deviceID domain.DeviceID) (int64, error) {
	defer r.t.enter()()
	return deleteWhere(r.t, r.t.d.idempotency, func(rec domain.IdempotencyRecord) bool { return rec.DeviceID == deviceID }), nil
}

type counterRepo struct{ t *memTx }

func (r counterRepo) Get(_ context.Context, shiftID domain.ShiftID) (*domain.ShiftCounter, error) {
	defer r.t.enter()()
	c, ok := r.t.d.counters[shiftID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

func (r counterRepo) Save(_ context.Context, c *domain.ShiftCounter) error {
	defer r.t.enter()()
	c.UpdatedAt = time.Now().UTC()
	set(r.t, r.t.d.counters, c.ShiftID, *c)
	return nil
}

func (r counterRepo) DeleteByDevice(_ context.Context, deviceID domain.DeviceID) (int64, error) {
	defer r.t.enter()()
	return deleteWhere(r.t, r.t.d.counters, func(c domain.ShiftCounter) bool { return c.DeviceID == deviceID }), nil
}

type cashierRepo struct{ t *memTx }

func (r cashierRepo) Create(_ context.Context, c *domain.Cashier) error {
	defer r.t.enter()()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	set(r.t, r.t.d.cashiers, c.ID, *c)
	return nil
}

func (r cashierRepo) Get(_ context.Context, id domain.CashierID) (*domain.Cashier, error) {
	defer r.t.enter()()
	c, ok := r.t.d.cashiers[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

func (r cashierRepo) DeleteByDevice(_ context.Context, deviceID domain.DeviceID) (int64, error) {
	defer r.t.enter()()
	return deleteWhere(r.t, r.t.d.cashiers, func(c domain.Cashier) bool { return c.DeviceID == deviceID }), nil
}
