package httpapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/storage"
)

func newLoggedServer(t *testing.T) (*Server, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := New(fleet.NewRegistry(storage.NewMemoryGateway()), matcher.NewService(pricing.Default()), dispatch.NewWSRegistry(), logger)
	return s, &buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		out = append(out, line)
	}
	return out
}

func TestRequestIDIsPropagated(t *testing.T) {
	s, _ := newLoggedServer(t)
	var seen string
	s.mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRequestLogCarriesDriverID(t *testing.T) {
	s, buf := newLoggedServer(t)
	registerDriver(t, s, "D9", 40.7128, -74.006)
	buf.Reset()

	rec := do(t, s, http.MethodGet, "/api/v1/drivers/D9", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	lines := logLines(t, buf)
	require.NotEmpty(t, lines)
	last := lines[len(lines)-1]
	assert.Equal(t, "http_request", last["msg"])
	assert.Equal(t, "D9", last["driver_id"])
	assert.Equal(t, "/api/v1/drivers/{id}", last["route"])
	assert.NotEmpty(t, last["request_id"])
}

func TestRecoverReturnsJSONError(t *testing.T) {
	s, buf := newLoggedServer(t)
	s.mux.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("dispatch loop") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "req-7")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error","request_id":"req-7"}`, rec.Body.String())
	assert.Contains(t, buf.String(), "panic recovered")
}
