package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusGone, "CASE_ID_EXPIRED", "case id has expired")

	if w.Code != http.StatusGone {
		t.Errorf("expected 410, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	var body ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "CASE_ID_EXPIRED" {
		t.Errorf("unexpected code %q", body.Code)
	}
}

func TestBinary(t *testing.T) {
	w := httptest.NewRecorder()
	Binary(w, http.StatusOK, []byte{1, 2, 3})

	if w.Header().Get("Content-Type") != "application/octet-stream" || w.Header().Get("Content-Length") != "3" {
		t.Errorf("unexpected headers: %v", w.Header())
	}
	if w.Body.Len() != 3 {
		t.Errorf("unexpected body length %d", w.Body.Len())
	}
}
