package ofd

import "fiscal/internal/domain"

const (
	ResultOK      = 0
	ResultBlocked = 15
)

// Transition is the device-level effect of an OFD reply.
type Transition int

const (
	TransitionNone Transition = iota
	// TransitionAutonomousStarted marks the device as operating without OFD confirmation.
	TransitionAutonomousStarted
	// TransitionRestoreIfDrained lifts a connectivity block once the queue is empty.
	TransitionRestoreIfDrained
	// TransitionBlock forces the device into BLOCKED.
	TransitionBlock
)

func (t Transition) String() string {
	switch t {
	case TransitionAutonomousStarted:
		return "autonomous_started"
	case TransitionRestoreIfDrained:
		return "restore_if_drained"
	case TransitionBlock:
		return "block"
	}
	return "none"
}

type Outcome struct {
	Document   domain.OfdStatus
	Transition Transition
	// QueueOffline is set when the command must be appended to the OFFLINE lane.
	QueueOffline bool
}

// Delivered reports whether OFD confirmed the document.
func (o Outcome) Delivered() bool { return o.Document == domain.OfdSent }

// Interpret maps a reply's result code to document and device effects. A nil
// code means no reply arrived.
func Interpret(code *int) Outcome {
	switch {
	case code == nil:
		return Outcome{Document: domain.OfdPending, Transition: TransitionAutonomousStarted, QueueOffline: true}
	case *code == ResultOK:
		return Outcome{Document: domain.OfdSent, Transition: TransitionRestoreIfDrained}
	case *code == ResultBlocked:
		return Outcome{Document: domain.OfdFailed, Transition: TransitionBlock}
	default:
		return Outcome{Document: domain.OfdFailed}
	}
}
