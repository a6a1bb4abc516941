package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"fiscal/internal/domain"
	"fiscal/internal/dto"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

type handler struct {
	Deps
}

func deviceID(w http.ResponseWriter, r *http.Request) (domain.DeviceID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		writeBadRequest(w, "invalid device id")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid request body")
		return false
	}
	return true
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
}

func (h *handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterDeviceRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Devices.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handler) getDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	res, err := h.Devices.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) deleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	res, err := h.Devices.Delete(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type programmingRequest struct {
	Action string `json:"action"` // enter | exit
}

func (h *handler) programming(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	var req programmingRequest
	if !decode(w, r, &req) {
		return
	}
	var (
		res *dto.DeviceResponse
		err error
	)
	switch strings.ToLower(req.Action) {
	case "enter":
		res, err = h.Devices.EnterProgramming(r.Context(), id)
	case "exit":
		res, err = h.Devices.ExitProgramming(r.Context(), id)
	default:
		err = domain.Invalid("action", "must be enter or exit")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	var req dto.DeviceSettingsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Devices.UpdateSettings(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) unblock(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	res, err := h.Devices.Unblock(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) addCashier(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	var req dto.AddCashierRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Devices.AddCashier(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handler) openShift(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	res, err := h.Shifts.Open(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handler) closeShift(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	res, err := h.Shifts.Close(r.Context(), id, idempotencyKey(r))
	writeOperation(w, r, res, err)
}

func (h *handler) reportX(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	res, err := h.Shifts.ReportX(r.Context(), id, idempotencyKey(r))
	writeOperation(w, r, res, err)
}

func (h *handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	var req dto.ReceiptRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Receipts.Create(r.Context(), id, idempotencyKey(r), req)
	writeOperation(w, r, res, err)
}

func (h *handler) moveCash(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	var req dto.CashRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Cash.Move(r.Context(), id, idempotencyKey(r), req)
	writeOperation(w, r, res, err)
}

// writeOperation answers 201 for a new document and 200 for a replay.
func writeOperation(w http.ResponseWriter, r *http.Request, res *dto.OperationResponse, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *handler) queueStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	res, err := h.Queue.Status(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) retryFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	res, err := h.Queue.RetryFailed(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) syncQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	res, err := h.Queue.Sync(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
