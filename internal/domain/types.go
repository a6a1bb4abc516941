package domain

import "github.com/google/uuid"

type DeviceID = uuid.UUID
type ShiftID = uuid.UUID
type DocumentID = uuid.UUID
type CashierID = uuid.UUID

// CommandType is the logical kind of an OFD-bound document. The same value
// identifies the document and the queued command that delivers it.
type CommandType string

const (
	CommandTicket         CommandType = "TICKET"
	CommandMoneyPlacement CommandType = "MONEY_PLACEMENT"
	CommandReportX        CommandType = "REPORT_X"
	CommandCloseShift     CommandType = "CLOSE_SHIFT"
)

func (c CommandType) Valid() bool {
	switch c {
	case CommandTicket, CommandMoneyPlacement, CommandReportX, CommandCloseShift:
		return true
	}
	return false
}
