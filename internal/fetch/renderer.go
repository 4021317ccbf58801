package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"casawatch/internal/monitor"
)

// RendererConfig controls the headless renderer.
type RendererConfig struct {
	MaxParallel       int
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the document is ready, so
	// late JavaScript can populate the listing grid.
	SettleDelay time.Duration
	// ScrollSteps triggers staged scrolling to fire lazy loaders.
	ScrollSteps int
	// ScrollPause is the wait between scroll steps.
	ScrollPause time.Duration
}

// Renderer fetches fully rendered DOM via chromedp and headless Chrome.
type Renderer struct {
	cfg         RendererConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewRenderer creates a headless renderer backed by chromedp.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 90 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if cfg.ScrollSteps <= 0 {
		cfg.ScrollSteps = 3
	}
	if cfg.ScrollPause <= 0 {
		cfg.ScrollPause = time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Fetch implements monitor.Fetcher with a fully rendered DOM.
func (r *Renderer) Fetch(ctx context.Context, request monitor.FetchRequest) (monitor.PageSnapshot, error) {
	if err := r.acquire(ctx); err != nil {
		return monitor.PageSnapshot{}, err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()

	// Cooperative cancellation: abandon the render when the cycle's
	// deadline fires even though the allocator context is detached.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	start := time.Now()
	html, finalURL, err := r.run(taskCtx, request)
	if err != nil {
		return monitor.PageSnapshot{}, &monitor.FetchError{
			Kind: classifyRenderError(ctx, err),
			URL:  request.Target.URL,
			Err:  err,
		}
	}
	if finalURL == "" {
		finalURL = request.Target.URL
	}

	return monitor.PageSnapshot{
		Body:      []byte(html),
		FinalURL:  finalURL,
		FetchedAt: start,
		Duration:  time.Since(start),
		Rendered:  true,
	}, nil
}

func (r *Renderer) run(ctx context.Context, request monitor.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.disguiseAction(request.Disguise),
		chromedp.Navigate(request.Target.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
	}
	// Staged scroll fires lazy-loaded listing cards before capture.
	for step := 1; step <= r.cfg.ScrollSteps; step++ {
		script := fmt.Sprintf(
			"window.scrollTo(0, document.body.scrollHeight * %d / %d)", step, r.cfg.ScrollSteps)
		actions = append(actions,
			chromedp.Evaluate(script, nil),
			chromedp.Sleep(r.cfg.ScrollPause),
		)
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) disguiseAction(disguise monitor.DisguiseProfile) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if disguise.UserAgent != "" {
			override := emulation.SetUserAgentOverride(disguise.UserAgent)
			if disguise.Locale != "" {
				override = override.WithAcceptLanguage(disguise.Locale)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if disguise.ViewportWidth > 0 && disguise.ViewportHeight > 0 {
			err := emulation.SetDeviceMetricsOverride(
				int64(disguise.ViewportWidth), int64(disguise.ViewportHeight), 1, false).Do(ctx)
			if err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		if len(disguise.Headers) > 0 {
			headers := make(network.Headers, len(disguise.Headers))
			for key, value := range disguise.Headers {
				headers[key] = value
			}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &monitor.FetchError{
			Kind: monitor.ErrKindTimeout,
			Err:  fmt.Errorf("headless slot wait canceled: %w", ctx.Err()),
		}
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func classifyRenderError(ctx context.Context, err error) monitor.ErrorKind {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return monitor.ErrKindTimeout
	}
	return monitor.ErrKindRender
}
