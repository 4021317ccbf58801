package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"casawatch/internal/monitor"
)

func newTestNotifier(t *testing.T, handler http.HandlerFunc) *Telegram {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	notifier, err := NewTelegram(TelegramConfig{
		Token:       "123:abc",
		ChatID:      "4242",
		BaseURL:     server.URL,
		AlertPacing: time.Millisecond,
		Client:      server.Client(),
	}, nil)
	require.NoError(t, err)
	return notifier
}

func TestTelegram_AlertSendsEscapedHTML(t *testing.T) {
	t.Parallel()

	var got sendMessageRequest
	notifier := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bot123:abc/sendMessage", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := notifier.Alert(context.Background(), monitor.Listing{
		Site:     "imovirtual.com",
		ID:       "iv-9",
		Title:    "T2 <renovado> & mobilado",
		URL:      "https://www.imovirtual.com/anuncio/iv-9",
		Location: "Lisboa",
		Price:    365_000,
	})
	require.NoError(t, err)
	require.Equal(t, "4242", got.ChatID)
	require.Equal(t, "HTML", got.ParseMode)
	require.True(t, got.DisableWebPagePreview)
	require.Contains(t, got.Text, "T2 &lt;renovado&gt; &amp; mobilado")
	require.Contains(t, got.Text, "365000 €")
	require.Contains(t, got.Text, "ver anúncio")
}

func TestTelegram_SummaryReportsCounters(t *testing.T) {
	t.Parallel()

	var got sendMessageRequest
	notifier := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	report := monitor.NewCycleReport("c1", time.Now())
	require.NoError(t, report.AddOutcome(monitor.TaskOutcome{Status: monitor.OutcomeSucceeded}))
	require.NoError(t, report.AddOutcome(monitor.TaskOutcome{
		Status:  monitor.OutcomeFailed,
		ErrKind: monitor.ErrKindTimeout,
	}))
	report.Finalize(time.Now().Add(3 * time.Second))

	require.NoError(t, notifier.Summary(context.Background(), report))
	require.Contains(t, got.Text, "Alvos: 2 | OK: 1 | Falhas: 1")
	require.Contains(t, got.Text, "timeout=1")
}

func TestTelegram_HonorsRateLimitRetryAfter(t *testing.T) {
	t.Parallel()

	var calls int32
	notifier := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"ok":false,"description":"Too Many Requests","parameters":{"retry_after":1}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	started := time.Now()
	err := notifier.Alert(context.Background(), monitor.Listing{Title: "T1", Price: 120_000})
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.GreaterOrEqual(t, time.Since(started), time.Second)
}

func TestTelegram_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls int32
	notifier := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, notifier.Alert(context.Background(), monitor.Listing{Title: "T3", Price: 500_000}))
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTelegram_BadRequestIsPermanent(t *testing.T) {
	t.Parallel()

	var calls int32
	notifier := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	})

	err := notifier.Alert(context.Background(), monitor.Listing{Title: "T4"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat not found")
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx responses are not retried")
}

func TestNewTelegram_RequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewTelegram(TelegramConfig{Token: "", ChatID: "4242"}, nil)
	require.Error(t, err)
	_, err = NewTelegram(TelegramConfig{Token: "123:abc", ChatID: "  "}, nil)
	require.Error(t, err)
}

func TestNoop(t *testing.T) {
	t.Parallel()

	var n Noop
	require.NoError(t, n.Alert(context.Background(), monitor.Listing{}))
	require.NoError(t, n.Summary(context.Background(), &monitor.CycleReport{}))
}
