// Package targets loads the configured search-result URLs.
package targets

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"casawatch/internal/monitor"
)

// Load reads targets from a links file: one URL per line, blank lines
// and #-comments skipped. Malformed lines are returned alongside the
// valid targets so the cycle can report them instead of silently
// dropping them.
func Load(path string) ([]monitor.Target, []error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open links file: %w", err)
	}
	defer file.Close()

	var (
		loaded  []monitor.Target
		badURLs []error
	)
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		target, err := Parse(raw)
		if err != nil {
			badURLs = append(badURLs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		loaded = append(loaded, target)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read links file: %w", err)
	}
	return loaded, badURLs, nil
}

// Parse builds a Target from a raw URL, deriving its domain key.
func Parse(raw string) (monitor.Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return monitor.Target{}, &monitor.FetchError{
			Kind: monitor.ErrKindBadTarget,
			URL:  raw,
			Err:  err,
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return monitor.Target{}, &monitor.FetchError{
			Kind: monitor.ErrKindBadTarget,
			URL:  raw,
			Err:  fmt.Errorf("unsupported scheme %q", u.Scheme),
		}
	}
	if u.Hostname() == "" {
		return monitor.Target{}, &monitor.FetchError{
			Kind: monitor.ErrKindBadTarget,
			URL:  raw,
			Err:  fmt.Errorf("missing host"),
		}
	}
	domain := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return monitor.Target{URL: raw, Domain: domain}, nil
}
