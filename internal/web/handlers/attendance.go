package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/attendance/internal/attendance"
	"github.com/kozaktomas/attendance/internal/logger"
	"github.com/kozaktomas/attendance/internal/store"
)

// AttendanceHandler serves the attendance ledger.
type AttendanceHandler struct {
	ledger *attendance.Ledger
	log    *logger.Logger
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(ledger *attendance.Ledger, log *logger.Logger) *AttendanceHandler {
	return &AttendanceHandler{ledger: ledger, log: log}
}

type markRequest struct {
	Roll string `json:"roll"`
}

type manualRequest struct {
	Roll      string `json:"roll"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type editRequest struct {
	Status    *string `json:"status"`
	Timestamp *string `json:"timestamp"`
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	ts, err := store.ParseTimestamp(s)
	if err != nil {
		return nil, err
	}
	return &ts.Time, nil
}

// Mark records an automatic "present" event.
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Roll == "" {
		respondError(w, http.StatusBadRequest, "roll is required")
		return
	}
	ev, err := h.ledger.MarkAutomatic(r.Context(), req.Roll)
	if err != nil {
		respondFailure(w, h.log, "marking attendance", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "record": ev})
}

// Manual records an event with an explicit status and optional timestamp.
func (h *AttendanceHandler) Manual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Roll == "" {
		respondError(w, http.StatusBadRequest, "roll is required")
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ts, err := parseOptionalTime(req.Timestamp)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := h.ledger.MarkManual(r.Context(), req.Roll, status, ts)
	if err != nil {
		respondFailure(w, h.log, "marking attendance", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "record": ev})
}

// List returns events newest first, optionally filtered by ?identity=.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		events []attendance.Event
		err    error
	)
	if id := r.URL.Query().Get("identity"); id != "" {
		events, err = h.ledger.ForIdentity(r.Context(), id)
	} else {
		events, err = h.ledger.List(r.Context())
	}
	if err != nil {
		respondFailure(w, h.log, "listing attendance", err)
		return
	}
	if events == nil {
		events = []attendance.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

// Edit changes status and/or timestamp of one event.
func (h *AttendanceHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var u attendance.Update
	if req.Status != nil {
		st, err := attendance.ParseStatus(*req.Status)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		u.Status = &st
	}
	if req.Timestamp != nil {
		ts, err := parseOptionalTime(*req.Timestamp)
		if err != nil || ts == nil {
			respondError(w, http.StatusBadRequest, "invalid timestamp")
			return
		}
		u.Timestamp = ts
	}

	ev, err := h.ledger.Edit(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		respondFailure(w, h.log, "editing attendance", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "record": ev})
}

// Delete removes one event.
func (h *AttendanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ledger.Delete(r.Context(), id); err != nil {
		respondFailure(w, h.log, "deleting attendance", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "record_id": id})
}

// DeleteAll removes every event.
func (h *AttendanceHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.ledger.DeleteAll(r.Context())
	if err != nil {
		respondFailure(w, h.log, "deleting attendance", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "deleted", "deleted": n})
}
