package fetch

import (
	"context"

	"go.uber.org/zap"

	"casawatch/internal/metrics"
	"casawatch/internal/monitor"
)

// Client is the fetch port handed to the scheduler. It waits out the
// per-domain limiter, probes the target over plain HTTP and promotes to
// the headless renderer when the probe body looks unrendered.
type Client struct {
	probe    monitor.Fetcher
	renderer monitor.Fetcher
	detector *Detector
	limiter  *DomainLimiter
	logger   *zap.Logger
}

// NewClient assembles the composite fetcher. renderer may be nil, which
// disables headless promotion (probe-only mode).
func NewClient(
	probe monitor.Fetcher,
	renderer monitor.Fetcher,
	detector *Detector,
	limiter *DomainLimiter,
	logger *zap.Logger,
) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if detector == nil {
		detector = NewDetector(0)
	}
	return &Client{
		probe:    probe,
		renderer: renderer,
		detector: detector,
		limiter:  limiter,
		logger:   logger,
	}
}

// Fetch implements monitor.Fetcher.
func (c *Client) Fetch(ctx context.Context, request monitor.FetchRequest) (monitor.PageSnapshot, error) {
	domain := request.Target.Domain
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, domain); err != nil {
			return monitor.PageSnapshot{}, &monitor.FetchError{
				Kind: monitor.ErrKindTimeout,
				URL:  request.Target.URL,
				Err:  err,
			}
		}
	}

	snapshot, probeErr := c.probe.Fetch(ctx, request)
	if probeErr == nil && !c.detector.NeedsRender(snapshot.Body) {
		metrics.ObserveFetch(domain, false, snapshot.Duration)
		return snapshot, nil
	}

	if c.renderer == nil {
		if probeErr != nil {
			return monitor.PageSnapshot{}, probeErr
		}
		// Probe body looks unrendered but there is nothing better to
		// offer; the extractor gets to decide whether it is usable.
		metrics.ObserveFetch(domain, false, snapshot.Duration)
		return snapshot, nil
	}

	if probeErr != nil {
		c.logger.Debug("probe failed, promoting to headless",
			zap.String("url", request.Target.URL),
			zap.Error(probeErr),
		)
	} else {
		c.logger.Debug("probe body looks unrendered, promoting to headless",
			zap.String("url", request.Target.URL),
			zap.Int("probe_bytes", len(snapshot.Body)),
		)
	}

	rendered, renderErr := c.renderer.Fetch(ctx, request)
	if renderErr != nil {
		return monitor.PageSnapshot{}, renderErr
	}
	metrics.ObserveFetch(domain, true, rendered.Duration)
	return rendered, nil
}
