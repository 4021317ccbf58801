// Package notify delivers new-listing alerts and cycle summaries.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"casawatch/internal/monitor"
)

const defaultBaseURL = "https://api.telegram.org"

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	Token  string
	ChatID string
	// BaseURL overrides the Bot API endpoint, mainly for tests.
	BaseURL string
	// AlertPacing is the minimum gap between consecutive messages, so a
	// burst of new listings does not trip Telegram's flood control.
	AlertPacing time.Duration
	MaxAttempts int
	Client      *http.Client
}

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	lastSend time.Time
}

// NewTelegram builds a Telegram notifier. Token and chat id are required;
// callers without credentials should use Noop instead.
func NewTelegram(cfg TelegramConfig, logger *zap.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" || strings.TrimSpace(cfg.ChatID) == "" {
		return nil, fmt.Errorf("telegram: token and chat id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.AlertPacing <= 0 {
		cfg.AlertPacing = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{cfg: cfg, client: client, logger: logger}, nil
}

// Alert implements monitor.Notifier.
func (t *Telegram) Alert(ctx context.Context, listing monitor.Listing) error {
	var b strings.Builder
	b.WriteString("🏠 <b>Novo imóvel</b>\n")
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(listing.Title))
	if listing.Location != "" {
		fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(listing.Location))
	}
	if listing.Price > 0 {
		fmt.Fprintf(&b, "💶 %d €\n", listing.Price)
	} else {
		b.WriteString("💶 preço sob consulta\n")
	}
	fmt.Fprintf(&b, "🌐 %s\n", html.EscapeString(listing.Site))
	if listing.URL != "" {
		fmt.Fprintf(&b, `<a href="%s">ver anúncio</a>`, html.EscapeString(listing.URL))
	}
	return t.send(ctx, b.String())
}

// Summary implements monitor.Notifier.
func (t *Telegram) Summary(ctx context.Context, report *monitor.CycleReport) error {
	var b strings.Builder
	b.WriteString("📊 <b>Ciclo concluído</b>\n")
	fmt.Fprintf(&b, "Alvos: %d | OK: %d | Falhas: %d\n", report.Total, report.Succeeded, report.Failed)
	fmt.Fprintf(&b, "Novos anúncios: %d\n", report.NewCount())
	fmt.Fprintf(&b, "Duração: %s", report.Elapsed.Round(time.Second))
	if len(report.ErrorsBy) > 0 {
		b.WriteString("\nErros:")
		for kind, n := range report.ErrorsBy {
			fmt.Fprintf(&b, " %s=%d", kind, n)
		}
	}
	return t.send(ctx, b.String())
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *Telegram) send(ctx context.Context, text string) error {
	if err := t.pace(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                t.cfg.ChatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal message: %w", err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.Token)

	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		retryIn, err := t.post(ctx, endpoint, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if retryIn < 0 {
			return err
		}
		if retryIn == 0 {
			retryIn = time.Duration(attempt) * time.Second
		}
		t.logger.Warn("telegram send failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", retryIn),
			zap.Error(err),
		)
		if attempt == t.cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(retryIn)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return fmt.Errorf("telegram: giving up after %d attempts: %w", t.cfg.MaxAttempts, lastErr)
}

// post performs one sendMessage call. The returned duration is how long
// to wait before retrying: negative means the failure is permanent.
func (t *Telegram) post(ctx context.Context, endpoint string, payload []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return -1, fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("telegram: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode == http.StatusOK {
		return 0, nil
	}

	var apiResp sendMessageResponse
	_ = json.Unmarshal(body, &apiResp)

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := time.Duration(apiResp.Parameters.RetryAfter) * time.Second
		if wait == 0 {
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		if wait == 0 {
			wait = 3 * time.Second
		}
		return wait, fmt.Errorf("telegram: rate limited: %s", apiResp.Description)
	}
	if resp.StatusCode >= 500 {
		return 0, fmt.Errorf("telegram: server error %d: %s", resp.StatusCode, apiResp.Description)
	}
	return -1, fmt.Errorf("telegram: rejected with %d: %s", resp.StatusCode, apiResp.Description)
}

// pace enforces the minimum gap between messages.
func (t *Telegram) pace(ctx context.Context) error {
	t.mu.Lock()
	now := time.Now()
	wait := t.lastSend.Add(t.cfg.AlertPacing).Sub(now)
	if wait < 0 {
		wait = 0
	}
	t.lastSend = now.Add(wait)
	t.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Noop is the notifier used when no credentials are configured.
type Noop struct{}

// Alert implements monitor.Notifier.
func (Noop) Alert(context.Context, monitor.Listing) error { return nil }

// Summary implements monitor.Notifier.
func (Noop) Summary(context.Context, *monitor.CycleReport) error { return nil }
