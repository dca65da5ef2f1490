// Package alerts tells operators about market phase changes over Telegram.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"cfm-engine/internal/config"

	"go.uber.org/zap"
)

const (
	telegramBaseURL = "https://api.telegram.org"
	queueSize       = 32
	sendTimeout     = 10 * time.Second
)

type sendMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

type apiResult struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Telegram delivers phase events from a background worker. Notify only
// enqueues, so commands never wait on the Telegram API; events are dropped
// when the queue is full.
type Telegram struct {
	enabled bool
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	log     *zap.Logger

	queue   chan PhaseEvent
	started atomic.Bool
	dropped atomic.Uint64
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	return newTelegram(cfg, log, telegramBaseURL, &http.Client{Timeout: sendTimeout})
}

func newTelegram(cfg config.TelegramConfig, log *zap.Logger, baseURL string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: sendTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{
		enabled: cfg.Enabled,
		token:   strings.TrimSpace(cfg.Token),
		chatID:  strings.TrimSpace(cfg.ChatID),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log.With(zap.String("component", "telegram")),
		queue:   make(chan PhaseEvent, queueSize),
	}
}

func (t *Telegram) Enabled() bool {
	return t != nil && t.enabled
}

// Start runs the delivery worker until ctx is done.
func (t *Telegram) Start(ctx context.Context) {
	if !t.Enabled() || !t.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-t.queue:
				if err := t.deliver(ctx, ev); err != nil {
					t.log.Warn("phase event not delivered",
						zap.String("market", ev.Market),
						zap.String("phase", ev.Phase),
						zap.Error(err),
					)
				}
			}
		}
	}()
}

func (t *Telegram) Notify(ctx context.Context, ev PhaseEvent) {
	_ = ctx
	if !t.Enabled() {
		return
	}
	select {
	case t.queue <- ev:
	default:
		if t.dropped.Add(1) == 1 {
			t.log.Warn("telegram queue full, dropping phase events")
		}
	}
}

func (t *Telegram) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *Telegram) deliver(ctx context.Context, ev PhaseEvent) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return t.post(ctx, sendMessage{
		ChatID:              t.chatID,
		Text:                ev.Message(),
		DisableNotification: ev.Phase == "reset",
	})
}

// Send posts a plain text message right away.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if !t.Enabled() {
		return nil
	}
	return t.post(ctx, sendMessage{ChatID: t.chatID, Text: text})
}

func (t *Telegram) post(ctx context.Context, msg sendMessage) error {
	if t.token == "" || msg.ChatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return errors.New("telegram message is empty")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	endpoint := t.baseURL + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var result apiResult
	decodeErr := json.Unmarshal(raw, &result)
	switch {
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("telegram: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	case decodeErr == nil && !result.OK:
		if result.Description == "" {
			result.Description = "request rejected"
		}
		return fmt.Errorf("telegram: %s", result.Description)
	}
	return nil
}
