package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cfm-engine/internal/config"
)

func TestDisabledTelegramIsInert(t *testing.T) {
	client := newTelegram(config.TelegramConfig{}, nil, "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected nil error when disabled, got %v", err)
	}
	client.Notify(context.Background(), PhaseEvent{Market: "m", Phase: "decided"})
	if len(client.queue) != 0 {
		t.Fatalf("disabled client queued an event")
	}
	var nilClient *Telegram
	if nilClient.Enabled() {
		t.Fatalf("nil client reports enabled")
	}
}

func TestSendRequiresCredentials(t *testing.T) {
	client := newTelegram(config.TelegramConfig{Enabled: true}, nil, "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for missing token/chat_id")
	}
}

func TestWorkerDeliversPhaseEvents(t *testing.T) {
	got := make(chan sendMessage, 2)
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var msg sendMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
		got <- msg
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := newTelegram(config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}, nil, server.URL, server.Client())
	client.Start(ctx)
	client.Notify(ctx, PhaseEvent{Market: "default", Phase: "decided", Account: "admin", Winner: "civichat"})
	client.Notify(ctx, PhaseEvent{Market: "default", Phase: "reset", Account: "admin"})

	wait := func() sendMessage {
		t.Helper()
		select {
		case msg := <-got:
			return msg
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery")
		}
		return sendMessage{}
	}
	first := wait()
	if gotPath != "/bottoken/sendMessage" || first.ChatID != "123" {
		t.Fatalf("unexpected request %s %+v", gotPath, first)
	}
	if !strings.Contains(first.Text, "[DECIDED] market default") || !strings.Contains(first.Text, "funded: civichat") {
		t.Fatalf("unexpected text %q", first.Text)
	}
	if first.DisableNotification {
		t.Fatalf("decide should notify loudly")
	}
	if second := wait(); !second.DisableNotification {
		t.Fatalf("reset should be silent, got %+v", second)
	}
}

func TestNotifyDropsWhenQueueFull(t *testing.T) {
	client := newTelegram(config.TelegramConfig{Enabled: true, Token: "t", ChatID: "c"}, nil, "http://unused", nil)
	for i := 0; i < queueSize+3; i++ {
		client.Notify(context.Background(), PhaseEvent{Market: "m", Phase: "decided"})
	}
	if client.Dropped() != 3 {
		t.Fatalf("expected 3 dropped events, got %d", client.Dropped())
	}
}

func TestSendReportsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	client := newTelegram(config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}, nil, server.URL, server.Client())
	err := client.Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestPhaseEventMessageSortsValues(t *testing.T) {
	msg := PhaseEvent{Market: "m", Phase: "resolved", Values: map[string]float64{"b": 1000, "a": 8000}}.Message()
	if !strings.HasSuffix(msg, "a = 8000\nb = 1000") {
		t.Fatalf("unexpected message %q", msg)
	}
}
