package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kozaktomas/attendance/internal/attendance"
	"github.com/kozaktomas/attendance/internal/catalog"
	"github.com/kozaktomas/attendance/internal/facematch"
	"github.com/kozaktomas/attendance/internal/logger"
	"github.com/kozaktomas/attendance/internal/media"
	"github.com/kozaktomas/attendance/internal/recognition"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// maxBodyBytes caps request bodies; enrollment carries five base64 images.
const maxBodyBytes = 64 << 20

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, catalog.ErrInvalidImageCount),
		errors.Is(err, catalog.ErrInvalidName),
		errors.Is(err, facematch.ErrNoFaceDetected),
		errors.Is(err, facematch.ErrMalformedInput),
		errors.Is(err, facematch.ErrDegenerateInput),
		errors.Is(err, media.ErrUnsupportedImage),
		errors.Is(err, attendance.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, attendance.ErrUnknownIdentity),
		errors.Is(err, attendance.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrNoDetector),
		errors.Is(err, recognition.ErrNoDetector):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondFailure reports err with the status it maps to. Internal errors are
// logged and hidden from the client.
func respondFailure(w http.ResponseWriter, log *logger.Logger, op string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Error(op+" failed", "error", err)
		respondError(w, status, op+" failed")
		return
	}
	respondError(w, status, err.Error())
}

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

// decodeBase64Image accepts raw base64 or a data URL ("data:image/jpeg;base64,...").
func decodeBase64Image(s string) ([]byte, error) {
	if _, payload, ok := strings.Cut(s, ","); ok {
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", media.ErrUnsupportedImage, err)
	}
	return data, nil
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
