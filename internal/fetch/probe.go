// Package fetch implements the page-fetch port: a cheap HTTP probe, a
// chromedp renderer, and a composite client that promotes between them.
package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"casawatch/internal/monitor"
)

// ProbeConfig controls the plain HTTP fetcher.
type ProbeConfig struct {
	Timeout time.Duration
}

// Probe fetches a URL over plain HTTP using a Colly collector. It is the
// first attempt for every target; pages that need JavaScript get promoted
// to the headless renderer by the client.
type Probe struct {
	cfg           ProbeConfig
	baseCollector *colly.Collector
}

// NewProbe builds a Probe.
func NewProbe(cfg ProbeConfig) *Probe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Probe{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch implements monitor.Fetcher.
func (p *Probe) Fetch(ctx context.Context, request monitor.FetchRequest) (monitor.PageSnapshot, error) {
	collector := p.baseCollector.Clone()
	collector.UserAgent = request.Disguise.UserAgent
	collector.SetRequestTimeout(p.cfg.Timeout)

	var (
		snapshot   monitor.PageSnapshot
		statusCode int
		fetchErr   error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		for key, value := range request.Disguise.Headers {
			r.Headers.Set(key, value)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		snapshot = monitor.PageSnapshot{
			Body:      append([]byte(nil), r.Body...),
			FinalURL:  r.Request.URL.String(),
			FetchedAt: start,
			Duration:  time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.Target.URL)
	}()

	select {
	case <-ctx.Done():
		return monitor.PageSnapshot{}, &monitor.FetchError{
			Kind: monitor.ErrKindTimeout,
			URL:  request.Target.URL,
			Err:  ctx.Err(),
		}
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			return monitor.PageSnapshot{}, &monitor.FetchError{
				Kind: classifyProbeError(err, statusCode),
				URL:  request.Target.URL,
				Err:  err,
			}
		}
		return snapshot, nil
	}
}

func classifyProbeError(err error, statusCode int) monitor.ErrorKind {
	switch statusCode {
	case http.StatusTooManyRequests:
		return monitor.ErrKindRateLimited
	case http.StatusForbidden, http.StatusUnauthorized:
		return monitor.ErrKindBlocked
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return monitor.ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return monitor.ErrKindTimeout
	}
	return monitor.ErrKindNetwork
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
