package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogKeepsFlusherReachable(t *testing.T) {
	var flushErr error
	handler := WithRequestLog("chat", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("data"))
		flushErr = http.NewResponseController(w).Flush()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connect", nil))

	if flushErr != nil {
		t.Fatalf("flush through request log wrapper: %v", flushErr)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if !rec.Flushed {
		t.Fatalf("expected recorder to be flushed")
	}
}
