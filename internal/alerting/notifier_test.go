package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"streamwatcher/internal/risk"
)

func testNote(sev risk.Severity) Notification {
	return Notification{
		AlertID:     "a-1",
		TriggeredAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		Alert: risk.Alert{
			StreamID:    "s-1",
			Type:        risk.TypeLowRunway,
			Severity:    sev,
			Title:       "Low runway warning",
			Description: "Stream for Ada has only 12 hours of funding remaining.",
			Metadata:    map[string]any{"runwayHours": 12.0, "hourlyRate": "10"},
		},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote(risk.SeverityHigh)); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.HasPrefix(received["text"], "[HIGH] Low runway warning") {
		t.Fatalf("text 格式不正确: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote(risk.SeverityHigh)); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessageSortsMetadata(t *testing.T) {
	msg := renderMessage(testNote(risk.SeverityCritical))
	hourly := strings.Index(msg, "hourlyRate")
	runway := strings.Index(msg, "runwayHours")
	if hourly < 0 || runway < 0 || hourly > runway {
		t.Fatalf("metadata not sorted: %q", msg)
	}
	if !strings.Contains(msg, "Triggered: 2025-03-10T12:00:00Z UTC") {
		t.Fatalf("missing trigger time: %q", msg)
	}
}

type recordingNotifier struct{ notes []Notification }

func (r *recordingNotifier) Notify(_ context.Context, note Notification) error {
	r.notes = append(r.notes, note)
	return nil
}

func TestSeverityFilter(t *testing.T) {
	rec := &recordingNotifier{}
	filter := SeverityFilter{Min: risk.SeverityHigh, Next: rec}

	for _, sev := range []risk.Severity{risk.SeverityMedium, risk.SeverityHigh, risk.SeverityCritical} {
		if err := filter.Notify(context.Background(), testNote(sev)); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if len(rec.notes) != 2 {
		t.Fatalf("forwarded %d notifications, want 2", len(rec.notes))
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
