package handlers

import (
	"errors"
	"net/http"

	"github.com/kozaktomas/attendance/internal/attendance"
	"github.com/kozaktomas/attendance/internal/facematch"
	"github.com/kozaktomas/attendance/internal/logger"
	"github.com/kozaktomas/attendance/internal/recognition"
)

// RecognizeHandler matches faces and optionally marks attendance for them.
type RecognizeHandler struct {
	service *recognition.Service
	ledger  *attendance.Ledger
	log     *logger.Logger
}

// NewRecognizeHandler creates a new recognize handler.
func NewRecognizeHandler(svc *recognition.Service, ledger *attendance.Ledger, log *logger.Logger) *RecognizeHandler {
	return &RecognizeHandler{service: svc, ledger: ledger, log: log}
}

type recognizeRequest struct {
	Landmarks   facematch.Landmarks   `json:"landmarks"`
	Faces       []facematch.Landmarks `json:"faces"`
	ImageBase64 string                `json:"image_base64"`
	// Mark records an automatic attendance event for every recognized face.
	Mark bool `json:"mark"`
}

// markFailure reports a recognized face whose attendance could not be recorded.
type markFailure struct {
	IdentityID string `json:"roll"`
	Error      string `json:"error"`
}

type recognizeResponse struct {
	Results      []recognition.Result `json:"results"`
	Events       []attendance.Event   `json:"events,omitempty"`
	MarkFailures []markFailure        `json:"mark_failures,omitempty"`
}

// Recognize handles a single face, several faces, or an image.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	var req recognizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		results []recognition.Result
		err     error
	)
	switch {
	case req.ImageBase64 != "":
		img, decErr := decodeBase64Image(req.ImageBase64)
		if decErr != nil {
			respondError(w, http.StatusBadRequest, decErr.Error())
			return
		}
		results, err = h.service.RecognizeImage(r.Context(), img)
	case len(req.Faces) > 0:
		results, err = h.service.RecognizeMultiple(r.Context(), req.Faces)
	default:
		var res recognition.Result
		res, err = h.service.Recognize(r.Context(), req.Landmarks)
		results = []recognition.Result{res}
	}
	if err != nil {
		respondFailure(w, h.log, "recognition", err)
		return
	}

	resp := recognizeResponse{Results: results}
	if req.Mark {
		h.mark(r, &resp)
	}
	respondJSON(w, http.StatusOK, resp)
}

// mark records an event for every recognized face. Events are written one by
// one, so a failure is reported per face instead of failing the request after
// earlier events were already stored.
func (h *RecognizeHandler) mark(r *http.Request, resp *recognizeResponse) {
	for _, res := range resp.Results {
		if !res.Matched {
			continue
		}
		ev, err := h.ledger.MarkAutomatic(r.Context(), res.IdentityID)
		if err == nil {
			resp.Events = append(resp.Events, *ev)
			continue
		}

		msg := "failed to record attendance"
		if errors.Is(err, attendance.ErrUnknownIdentity) {
			msg = "identity no longer enrolled"
		}
		h.log.Error("marking attendance failed", "id", res.IdentityID, "error", err)
		resp.MarkFailures = append(resp.MarkFailures, markFailure{IdentityID: res.IdentityID, Error: msg})
	}
}
