package ofd

import (
	"encoding/json"
	"errors"
	"fmt"

	"fiscal/internal/domain"
)

var ErrUnknownCommand = errors.New("ofd: unknown command type")

// Command is one delivery attempt for a fiscal document.
type Command struct {
	DeviceID   domain.DeviceID
	DocumentID domain.DocumentID
	Type       domain.CommandType
	Token      string
	ReqNum     int
	Payload    json.RawMessage
}

// Request is the protocol-level message sent to OFD.
type Request struct {
	Command   string          `json:"command"`
	ServiceID string          `json:"serviceId"`
	Token     string          `json:"token"`
	ReqNum    int             `json:"reqNum"`
	DocID     string          `json:"docId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

const (
	wireTicket         = "COMMAND_TICKET"
	wireMoneyPlacement = "COMMAND_MONEY_PLACEMENT"
	wireReport         = "COMMAND_REPORT"
	wireCloseShift     = "COMMAND_CLOSE_SHIFT"
)

// BuildRequest maps every known command type to its wire command. Types
// without a mapping are rejected rather than sent under a generic command.
func BuildRequest(serviceID string, cmd Command) (Request, error) {
	if cmd.Token == "" {
		return Request{}, domain.ErrMissingToken
	}
	var wire string
	switch cmd.Type {
	case domain.CommandTicket:
		wire = wireTicket
	case domain.CommandMoneyPlacement:
		wire = wireMoneyPlacement
	case domain.CommandReportX:
		wire = wireReport
	case domain.CommandCloseShift:
		wire = wireCloseShift
	default:
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return Request{
		Command:   wire,
		ServiceID: serviceID,
		Token:     cmd.Token,
		ReqNum:    cmd.ReqNum,
		DocID:     cmd.DocumentID.String(),
		Payload:   cmd.Payload,
	}, nil
}
