package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tabs-api-go/logcolors"
	"tabs-api-go/stats"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestGetStatusColor(t *testing.T) {
	tests := []struct {
		statusCode int
		expected   string
	}{
		{http.StatusOK, logcolors.Green},
		{http.StatusNoContent, logcolors.Green},
		{http.StatusNotModified, logcolors.Cyan},
		{http.StatusUnprocessableEntity, logcolors.Yellow},
		{http.StatusTooManyRequests, logcolors.Yellow},
		{http.StatusBadGateway, logcolors.Red},
		{http.StatusServiceUnavailable, logcolors.Red},
		{100, logcolors.Reset},
	}

	for _, tt := range tests {
		if got := getStatusColor(tt.statusCode); got != tt.expected {
			t.Errorf("getStatusColor(%d) = %q, want %q", tt.statusCode, got, tt.expected)
		}
	}
}

func TestResponseRecorder(t *testing.T) {
	w := httptest.NewRecorder()
	rec := NewResponseRecorder(w)

	if rec.StatusCode != http.StatusOK {
		t.Errorf("Expected default status 200, got %d", rec.StatusCode)
	}

	rec.WriteHeader(http.StatusBadGateway)
	rec.Write([]byte(`{"error":`))
	rec.Write([]byte(`"Non existing id"}`))

	if rec.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", rec.StatusCode)
	}
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status to reach the underlying writer, got %d", w.Code)
	}
	if rec.BodySize != len(`{"error":"Non existing id"}`) {
		t.Errorf("Expected body size %d, got %d", len(`{"error":"Non existing id"}`), rec.BodySize)
	}
	if w.Body.String() != `{"error":"Non existing id"}` {
		t.Errorf("Unexpected body %q", w.Body.String())
	}
}

func TestLoggingMiddlewareRequestID(t *testing.T) {
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a generated X-Request-ID header")
	}

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("Expected incoming request ID to be echoed, got %q", got)
	}
}

func TestLoggingMiddlewareRecordsStats(t *testing.T) {
	s := stats.Get()
	tabsBefore := s.TabsRequests.Load()
	fourBefore := s.Status4xx.Load()
	totalBefore := s.TotalRequests.Load()

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Millisecond)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/tabs/search", nil))

	if got := s.TabsRequests.Load() - tabsBefore; got != 1 {
		t.Errorf("Expected 1 tabs request recorded, got %d", got)
	}
	if got := s.Status4xx.Load() - fourBefore; got != 1 {
		t.Errorf("Expected 1 4xx response recorded, got %d", got)
	}
	if got := s.TotalRequests.Load() - totalBefore; got != 1 {
		t.Errorf("Expected 1 request in the total, got %d", got)
	}
	if s.MaxResponseTime() <= 0 {
		t.Error("Expected a response time sample")
	}
}

func TestLoggingMiddlewareFields(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest("POST", "/cache/sweep?dry=1", nil)
	req.Header.Set("X-Request-ID", "req-42")
	req.RemoteAddr = "198.51.100.4:5000"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("Expected a log entry")
	}
	if entry.Level != log.InfoLevel {
		t.Errorf("Expected info level, got %v", entry.Level)
	}
	if entry.Data["request_id"] != "req-42" {
		t.Errorf("Expected request_id field, got %v", entry.Data["request_id"])
	}
	if entry.Data["remote"] != "198.51.100.4:5000" {
		t.Errorf("Expected remote field, got %v", entry.Data["remote"])
	}
	if entry.Data["bytes"] != 5 {
		t.Errorf("Expected bytes field 5, got %v", entry.Data["bytes"])
	}
}
