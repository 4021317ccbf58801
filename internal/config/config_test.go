package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Monitor.Concurrency)
	require.Equal(t, 100000, cfg.Monitor.MinPrice)
	require.Equal(t, "links", cfg.Monitor.LinksFile)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 90, cfg.Fetch.TimeoutSeconds)
	require.True(t, cfg.Fetch.Headless.Enabled)
	require.Equal(t, "listings", cfg.DB.Table)
	require.Equal(t, "debug", cfg.Archive.Dir)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, time.Hour, cfg.Interval())
}

func TestLoad_FileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
monitor:
  concurrency: 4
  min_price: 250000
  links_file: /etc/casawatch/links
telegram:
  token: "123:abc"
  chat_id: "4242"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Monitor.Concurrency)
	require.Equal(t, 250000, cfg.Monitor.MinPrice)
	require.Equal(t, "/etc/casawatch/links", cfg.Monitor.LinksFile)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	// untouched keys keep their defaults
	require.Equal(t, 3600, cfg.Monitor.IntervalSeconds)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CASAWATCH_MONITOR_CONCURRENCY", "8")
	t.Setenv("CASAWATCH_DB_DSN", "postgres://watch:secret@db:5432/casawatch")
	t.Setenv("CASAWATCH_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("CASAWATCH_TELEGRAM_CHAT_ID", "4242")
	t.Setenv("CASAWATCH_SERVER_API_KEY", "sekret")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Monitor.Concurrency)
	// Secrets have no file defaults and must still arrive from env.
	require.Equal(t, "postgres://watch:secret@db:5432/casawatch", cfg.DB.DSN)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, "4242", cfg.Telegram.ChatID)
	require.Equal(t, "sekret", cfg.Server.APIKey)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"zero concurrency":  "monitor:\n  concurrency: 0\n",
		"inverted stagger":  "monitor:\n  stagger_min_ms: 2000\n  stagger_max_ms: 100\n",
		"blank links file":  "monitor:\n  links_file: \"\"\n",
		"half credentials":  "telegram:\n  token: \"123:abc\"\n",
		"zero fetch budget": "fetch:\n  timeout_seconds: 0\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestCycleDeadline(t *testing.T) {
	t.Parallel()

	cfg := Config{Monitor: MonitorConfig{IntervalSeconds: 3600, MaxCycleSeconds: 3300}}
	require.Equal(t, 3240*time.Second, cfg.CycleDeadline(), "nine tenths of the interval wins when smaller")

	cfg = Config{Monitor: MonitorConfig{IntervalSeconds: 7200, MaxCycleSeconds: 3300}}
	require.Equal(t, 3300*time.Second, cfg.CycleDeadline(), "cap wins for long intervals")
}
