package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/attendance/internal/attendance"
	"github.com/kozaktomas/attendance/internal/catalog"
	"github.com/kozaktomas/attendance/internal/facematch"
	"github.com/kozaktomas/attendance/internal/logger"
	"github.com/kozaktomas/attendance/internal/media"
	"github.com/kozaktomas/attendance/internal/recognition"
	"github.com/kozaktomas/attendance/internal/store"
)

const testLandmarks = 6

func testLogger() *logger.Logger {
	return logger.Nop()
}

// testCore wires real components over a temporary data directory
type testCore struct {
	store       *store.Store
	catalog     *catalog.Catalog
	recognition *recognition.Service
	ledger      *attendance.Ledger
}

func newTestCore(t *testing.T) testCore {
	t.Helper()
	st, err := store.Open(t.TempDir(), store.WithRetry(3, time.Millisecond))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ms, err := media.New(st.Dir())
	if err != nil {
		t.Fatalf("failed to create media store: %v", err)
	}
	codec := facematch.NewCodec(testLandmarks)
	cat := catalog.New(st, ms, codec)
	return testCore{
		store:       st,
		catalog:     cat,
		recognition: recognition.New(cat, codec, 0.6),
		ledger:      attendance.New(st, cat),
	}
}

// face builds a deterministic landmark set
func face(seed float64) facematch.Landmarks {
	l := make(facematch.Landmarks, testLandmarks)
	for i := range l {
		f := float64(i + 1)
		l[i] = facematch.Point{X: seed * f, Y: seed + f, Z: math.Sin(seed * f)}
	}
	return l
}

func enrollTestIdentity(t *testing.T, core testCore, name string, seed float64) *catalog.Identity {
	t.Helper()
	captures := make([]catalog.Capture, facematch.SignaturesPerIdentity)
	for i := range captures {
		captures[i] = catalog.Capture{Landmarks: face(seed + float64(i)*0.01)}
	}
	ident, err := core.catalog.Enroll(context.Background(), name, captures)
	if err != nil {
		t.Fatalf("failed to enroll %s: %v", name, err)
	}
	return ident
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses the response body into the target
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
