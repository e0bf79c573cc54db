package notifier

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (r *recordingNotifier) Send(subject, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subjects)
}

func TestNtfyNotifierSend(t *testing.T) {
	var gotPath, gotTitle, gotPriority, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer server.Close()

	n := &NtfyNotifier{Topic: "tabs-alerts", Server: server.URL + "/"}
	if err := n.Send("Circuit Breaker OPEN", "spotify is down"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if gotPath != "/tabs-alerts" {
		t.Errorf("Expected path /tabs-alerts, got %s", gotPath)
	}
	if gotTitle != "Circuit Breaker OPEN" {
		t.Errorf("Expected title header, got %q", gotTitle)
	}
	if gotPriority != "high" {
		t.Errorf("Expected default priority high, got %q", gotPriority)
	}
	if gotBody != "spotify is down" {
		t.Errorf("Expected message body, got %q", gotBody)
	}
}

func TestNtfyNotifierErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	n := &NtfyNotifier{Topic: "t", Server: server.URL}
	err := n.Send("s", "m")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("Expected status error, got %v", err)
	}
}

func TestTelegramNotifierSend(t *testing.T) {
	var payload map[string]interface{}
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer server.Close()

	n := &TelegramNotifier{BotToken: "123:abc", ChatID: "42", APIURL: server.URL}
	if err := n.Send("Subject", "Body"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if gotPath != "/bot123:abc/sendMessage" {
		t.Errorf("Unexpected path %s", gotPath)
	}
	if payload["chat_id"] != "42" {
		t.Errorf("Expected chat_id 42, got %v", payload["chat_id"])
	}
	if payload["text"] != "*Subject*\n\nBody" {
		t.Errorf("Unexpected text %q", payload["text"])
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		n    Notifier
		want string
	}{
		{&EmailNotifier{}, "email"},
		{&TelegramNotifier{}, "telegram"},
		{&NtfyNotifier{}, "ntfy"},
		{&recordingNotifier{}, "unknown"},
	}
	for _, tt := range tests {
		if got := TypeName(tt.n); got != tt.want {
			t.Errorf("TypeName(%T) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatAlert(t *testing.T) {
	events := []*Event{
		NewEvent(EventCircuitOpen, SeverityCritical, "").WithData("upstream", "spotify").WithData("cooldown", "1m0s"),
		NewEvent(EventCredentialFailed, SeverityCritical, "").WithData("upstream", "spotify").WithData("error", "invalid_client"),
		NewEvent(EventCacheUnreachable, SeverityCritical, "").WithData("backend", "redis").WithData("error", "refused"),
		NewEvent(EventCircuitRecovered, SeverityInfo, "").WithData("upstream", "youtube"),
		NewEvent(EventCacheRecovered, SeverityInfo, "").WithData("backend", "redis"),
		NewEvent(EventCachePurged, SeverityWarning, "").WithData("backend", "bolt"),
		NewEvent(EventServerStarted, SeverityInfo, "").WithData("port", "8000").WithData("backend", "memory"),
	}

	for _, e := range events {
		subject, message := formatAlert(e)
		if subject == "" || message == "" {
			t.Errorf("Expected alert text for %s", e.Type)
		}
	}

	subject, _ := formatAlert(events[0])
	if !strings.HasPrefix(subject, "🚨 ") || !strings.Contains(subject, "spotify") {
		t.Errorf("Unexpected circuit open subject %q", subject)
	}

	if subject, _ := formatAlert(NewEvent("unknown", SeverityInfo, "")); subject != "" {
		t.Errorf("Expected no alert for unknown event, got %q", subject)
	}
}

func TestCooldownIsPerUpstream(t *testing.T) {
	rec := &recordingNotifier{}
	h := NewAlertHandler(AlertConfig{Notifiers: []Notifier{rec}, CooldownDuration: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	open := func(upstream string) *Event {
		return NewEvent(EventCircuitOpen, SeverityCritical, "").WithData("upstream", upstream)
	}

	h.handleEvent(open("spotify"))
	h.handleEvent(open("spotify"))
	h.handleEvent(open("youtube"))
	if rec.count() != 2 {
		t.Fatalf("Expected 2 alerts within cooldown, got %d", rec.count())
	}

	now = now.Add(time.Minute)
	h.handleEvent(open("spotify"))
	if rec.count() != 3 {
		t.Errorf("Expected alert after cooldown, got %d", rec.count())
	}

	h.handleEvent(open("youtube"))
	h.ResetAllCooldowns()
	h.handleEvent(open("youtube"))
	if rec.count() != 5 {
		t.Errorf("Expected alert after reset, got %d", rec.count())
	}
}

func TestFailingNotifierDoesNotBlockOthers(t *testing.T) {
	bad := &recordingNotifier{err: errors.New("smtp down")}
	good := &recordingNotifier{}
	h := NewAlertHandler(AlertConfig{Notifiers: []Notifier{bad, good}})

	h.handleEvent(NewEvent(EventCacheUnreachable, SeverityCritical, "").
		WithData("backend", "redis").WithData("error", "refused"))

	if bad.count() != 1 || good.count() != 1 {
		t.Errorf("Expected both notifiers to be tried, got %d and %d", bad.count(), good.count())
	}
}

func TestEventBusDelivers(t *testing.T) {
	bus := NewEventBus()
	typed := make(chan *Event, 1)
	all := make(chan *Event, 2)

	bus.Subscribe(EventCachePurged, func(e *Event) { typed <- e })
	bus.SubscribeAll(func(e *Event) { all <- e })

	bus.Publish(NewEvent(EventCachePurged, SeverityWarning, "purged"))
	bus.Publish(NewEvent(EventServerStarted, SeverityInfo, "started"))

	select {
	case e := <-typed:
		if e.Type != EventCachePurged {
			t.Errorf("Expected cache purged event, got %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Typed handler was not called")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatalf("Catch-all handler received %d of 2 events", i)
		}
	}

	select {
	case e := <-typed:
		t.Errorf("Typed handler got unexpected %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
