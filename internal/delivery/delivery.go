// Package delivery sends fiscal documents to OFD and applies the reply to
// the document, the device and the queue. The request path and the
// background worker both go through it, so the result-code rules have a
// single call site.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"fiscal/internal/domain"
	"fiscal/internal/ofd"
	"fiscal/internal/queue"
	"fiscal/internal/reqnum"
	"fiscal/internal/sender"
	"fiscal/internal/storage"

	"github.com/google/uuid"
)

const backlogReason = "routed offline behind existing backlog"

type CommandSender interface {
	Send(ctx context.Context, cmd ofd.Command) sender.Result
}

// admitter is implemented by senders that can tell up front that a command
// would not reach OFD.
type admitter interface {
	Admit(deviceID domain.DeviceID) (sender.Result, bool)
}

type Deliverer struct {
	queue  *queue.Queue
	sender CommandSender
	now    func() time.Time
	log    *slog.Logger
}

func New(q *queue.Queue, s CommandSender, now func() time.Time, log *slog.Logger) *Deliverer {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Deliverer{queue: q, sender: s, now: now, log: log}
}

// Deliver attempts delivery of a newly created document. When the device
// already has unsent commands the document is treated as unanswered without
// contacting OFD, which appends it behind the backlog.
func (d *Deliverer) Deliver(ctx context.Context, tx storage.Tx, dev *domain.Device, doc *domain.FiscalDocument) (sender.Result, ofd.Outcome, error) {
	backlog, err := d.queue.HasQueuedCommands(ctx, tx, dev.ID)
	if err != nil {
		return sender.Result{}, ofd.Outcome{}, err
	}
	var res sender.Result
	if backlog {
		res = sender.NoReply(backlogReason)
	} else {
		res, err = d.send(ctx, tx, dev, doc)
		if err != nil {
			return sender.Result{}, ofd.Outcome{}, err
		}
	}
	outcome, err := d.Apply(ctx, tx, dev, doc, res)
	return res, outcome, err
}

// EnqueueRouted queues a document for the worker without sending it: OFFLINE
// behind an existing backlog, ONLINE otherwise.
func (d *Deliverer) EnqueueRouted(ctx context.Context, tx storage.Tx, dev *domain.Device, doc *domain.FiscalDocument) (domain.Lane, error) {
	backlog, err := d.queue.HasQueuedCommands(ctx, tx, dev.ID)
	if err != nil {
		return "", err
	}
	e := queue.Entry{DeviceID: dev.ID, Type: doc.Type, PayloadRef: doc.ID.String()}
	if backlog {
		_, err = d.queue.EnqueueOffline(ctx, tx, e)
		return domain.LaneOffline, err
	}
	_, err = d.queue.EnqueueOnline(ctx, tx, e)
	return domain.LaneOnline, err
}

// Redeliver sends a queued command and settles both the queue item and the
// document. It reports whether OFD replied.
func (d *Deliverer) Redeliver(ctx context.Context, tx storage.Tx, dev *domain.Device, cmd *domain.QueueCommand) (bool, error) {
	docID, err := uuid.Parse(cmd.PayloadRef)
	if err != nil {
		return true, d.queue.MarkFailed(ctx, tx, cmd, fmt.Sprintf("bad payload ref: %v", err))
	}
	doc, err := tx.Documents().Get(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		return true, d.queue.MarkFailed(ctx, tx, cmd, "document not found")
	}
	if err != nil {
		return false, err
	}
	if doc.OfdStatus == domain.OfdSent {
		return true, d.queue.MarkSent(ctx, tx, cmd)
	}

	res, err := d.send(ctx, tx, dev, doc)
	if err != nil {
		return false, err
	}
	outcome := ofd.Interpret(res.ResultCode)
	switch {
	case outcome.Delivered():
		err = d.queue.MarkSent(ctx, tx, cmd)
	case res.Replied():
		err = d.queue.MarkFailed(ctx, tx, cmd, res.ErrorMessage)
	default:
		err = d.queue.Reschedule(ctx, tx, cmd, res.ErrorMessage)
	}
	if err != nil {
		return false, err
	}
	if _, err := d.Apply(ctx, tx, dev, doc, res); err != nil {
		return false, err
	}
	return res.Replied(), nil
}

// Admit reports whether a command for dev would reach OFD now. When it would
// not, the Result is what sending would return.
func (d *Deliverer) Admit(dev *domain.Device) (sender.Result, bool) {
	if a, ok := d.sender.(admitter); ok {
		return a.Admit(dev.ID)
	}
	return sender.Result{}, true
}

func (d *Deliverer) send(ctx context.Context, tx storage.Tx, dev *domain.Device, doc *domain.FiscalDocument) (sender.Result, error) {
	if dev.OfdToken == "" {
		return sender.Result{}, domain.ErrMissingToken
	}
	// A request number is only spent on a command that goes on the wire.
	if res, admitted := d.Admit(dev); !admitted {
		return res, nil
	}
	n, err := reqnum.Next(ctx, tx, dev)
	if err != nil {
		return sender.Result{}, err
	}
	return d.sender.Send(ctx, ofd.Command{
		DeviceID:   dev.ID,
		DocumentID: doc.ID,
		Type:       doc.Type,
		Token:      dev.OfdToken,
		ReqNum:     n,
		Payload:    []byte(doc.Payload),
	}), nil
}

// Apply records the reply on the document and drives the device transition.
// Both records are saved.
func (d *Deliverer) Apply(ctx context.Context, tx storage.Tx, dev *domain.Device, doc *domain.FiscalDocument, res sender.Result) (ofd.Outcome, error) {
	now := d.now().UTC()
	outcome := ofd.Interpret(res.ResultCode)
	log := d.log.With("device_id", dev.ID, "doc_id", doc.ID, "command", doc.Type)

	if res.ResponseToken != "" {
		dev.OfdToken = res.ResponseToken
	}
	doc.ResultCode = res.ResultCode
	doc.OfdStatus = outcome.Document
	switch outcome.Document {
	case domain.OfdSent:
		doc.DeliveredAt = &now
		doc.FiscalSign = res.FiscalSign
	case domain.OfdPending:
		if doc.AutonomousSign == "" {
			doc.AutonomousSign = strconv.FormatInt(now.UnixMilli(), 10)
		}
	}

	if outcome.QueueOffline {
		if _, err := d.queue.EnqueueOffline(ctx, tx, queue.Entry{DeviceID: dev.ID, Type: doc.Type, PayloadRef: doc.ID.String()}); err != nil {
			return outcome, err
		}
	}

	switch outcome.Transition {
	case ofd.TransitionAutonomousStarted:
		if dev.EnterAutonomous(now) {
			log.Info("device entered autonomous mode", "reason", res.ErrorMessage)
		}
	case ofd.TransitionBlock:
		dev.Block(domain.BlockOfdSuspended)
		log.Warn("device blocked by OFD", "result_code", *res.ResultCode)
	case ofd.TransitionRestoreIfDrained:
		if err := d.restoreIfDrained(ctx, tx, dev); err != nil {
			return outcome, err
		}
	}
	if outcome.Document == domain.OfdFailed {
		log.Warn("document rejected by OFD", "result_code", *res.ResultCode, "err", res.ErrorMessage)
	}

	if err := tx.Documents().Save(ctx, doc); err != nil {
		return outcome, err
	}
	if err := tx.Devices().Save(ctx, dev); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// restoreIfDrained returns the device to normal operation once nothing is
// left unsent. Blocks imposed by OFD stay in place.
func (d *Deliverer) restoreIfDrained(ctx context.Context, tx storage.Tx, dev *domain.Device) error {
	queued, err := d.queue.HasQueuedCommands(ctx, tx, dev.ID)
	if err != nil || queued {
		return err
	}
	dev.LeaveAutonomous()
	if dev.Blocked() && dev.BlockReason != domain.BlockOfdSuspended {
		dev.State = domain.DeviceActive
		dev.BlockReason = domain.BlockNone
		d.log.Info("connectivity block lifted", "device_id", dev.ID)
	}
	return nil
}
