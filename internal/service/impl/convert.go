package impl

import (
	"errors"

	"fiscal/internal/domain"
	"fiscal/internal/dto"
	"fiscal/internal/service"
	"fiscal/internal/storage"
)

func toOperationResponse(exec *service.Execution) *dto.OperationResponse {
	doc := exec.Document
	return &dto.OperationResponse{
		DocumentID:     doc.ID.String(),
		Type:           string(doc.Type),
		ShiftNo:        doc.ShiftNo,
		Total:          doc.Total,
		OfdStatus:      string(doc.OfdStatus),
		ResultCode:     doc.ResultCode,
		FiscalSign:     doc.FiscalSign,
		AutonomousSign: doc.AutonomousSign,
		CreatedAt:      doc.CreatedAt,
		Replayed:       exec.Replayed,
	}
}

func toShiftResponse(s *domain.Shift) *dto.ShiftResponse {
	return &dto.ShiftResponse{
		ID:       s.ID.String(),
		DeviceID: s.DeviceID.String(),
		Number:   s.Number,
		Status:   string(s.Status),
		OpenedAt: s.OpenedAt,
		ClosedAt: s.ClosedAt,
	}
}

func toDeviceResponse(d *domain.Device, shiftOpen bool) *dto.DeviceResponse {
	return &dto.DeviceResponse{
		ID:              d.ID.String(),
		SerialNumber:    d.SerialNumber,
		State:           string(d.State),
		Mode:            string(d.Mode),
		BlockReason:     string(d.BlockReason),
		AutonomousSince: d.AutonomousSince,
		ShiftNo:         d.LastShiftNo,
		ShiftOpen:       shiftOpen,
		ReqNum:          d.ReqNum,
		AutoCloseShift:  d.AutoCloseShift,
		HasToken:        d.OfdToken != "",
	}
}

func toCashierResponse(c *domain.Cashier) *dto.CashierResponse {
	return &dto.CashierResponse{
		ID:       c.ID.String(),
		DeviceID: c.DeviceID.String(),
		Name:     c.Name,
		Role:     string(c.Role),
		Active:   c.Active,
	}
}

func toQueueStatus(s *domain.QueueStats) *dto.QueueStatusResponse {
	out := &dto.QueueStatusResponse{
		DeviceID: s.DeviceID.String(),
		Counts:   make(map[string]map[string]int, len(s.Counts)),
	}
	for lane, byStatus := range s.Counts {
		m := make(map[string]int, len(byStatus))
		for status, n := range byStatus {
			m[string(status)] = n
			if status != domain.QueueSent {
				out.Unsent += n
			}
		}
		out.Counts[string(lane)] = m
	}
	if h := s.Head; h != nil {
		out.Head = &dto.QueueHead{
			Seq:           h.Seq,
			Type:          string(h.Type),
			Lane:          string(h.Lane),
			Status:        string(h.Status),
			Attempt:       h.Attempt,
			NextAttemptAt: h.NextAttemptAt,
			LastError:     h.LastError,
		}
	}
	return out
}

func notFoundAsDevice(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrDeviceNotFound
	}
	return err
}
