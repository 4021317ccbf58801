// Package scheduler drives each target through the fetch, extract,
// filter and dedup pipeline under a concurrency bound.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"casawatch/internal/metrics"
	"casawatch/internal/monitor"
	"casawatch/internal/policy/retry"
)

// Resolver selects the extractor for a domain.
type Resolver interface {
	Resolve(domain string) monitor.Extractor
}

// Reconciler filters extracted records into new vs duplicate.
type Reconciler interface {
	Reconcile(ctx context.Context, records []monitor.Listing) ([]monitor.Listing, error)
}

// DisguisePicker hands out a fetch fingerprint per task.
type DisguisePicker interface {
	Pick() monitor.DisguiseProfile
}

// Config controls scheduling behavior.
type Config struct {
	// Concurrency bounds how many tasks may be inside the
	// fetch/extract/dedup critical path at once.
	Concurrency int
	// StaggerMin/StaggerMax bound the randomized delay drawn per task
	// before it requests a concurrency slot.
	StaggerMin time.Duration
	StaggerMax time.Duration
	// MinPrice drops extracted records before they reach dedup.
	MinPrice int
}

// Scheduler owns the per-target task pipeline for one cycle at a time.
type Scheduler struct {
	fetcher    monitor.Fetcher
	resolver   Resolver
	reconciler Reconciler
	policy     *retry.Policy
	disguises  DisguisePicker
	archive    monitor.PageArchive
	cfg        Config
	logger     *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New constructs a Scheduler.
func New(
	fetcher monitor.Fetcher,
	resolver Resolver,
	reconciler Reconciler,
	policy *retry.Policy,
	disguises DisguisePicker,
	archive monitor.PageArchive,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.StaggerMax < cfg.StaggerMin {
		cfg.StaggerMax = cfg.StaggerMin
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		fetcher:    fetcher,
		resolver:   resolver,
		reconciler: reconciler,
		policy:     policy,
		disguises:  disguises,
		archive:    archive,
		cfg:        cfg,
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RunCycle drives every target to exactly one terminal outcome. The
// returned slice is index-aligned with the input: no target is dropped
// or duplicated, and one task's failure never aborts its siblings.
func (s *Scheduler) RunCycle(ctx context.Context, targetList []monitor.Target) []monitor.TaskOutcome {
	outcomes := make([]monitor.TaskOutcome, len(targetList))
	slots := make(chan struct{}, s.cfg.Concurrency)

	var wg sync.WaitGroup
	for i, target := range targetList {
		wg.Add(1)
		go func(idx int, target monitor.Target) {
			defer wg.Done()
			outcomes[idx] = s.runTask(ctx, target, slots)
		}(i, target)
	}
	wg.Wait()

	for _, outcome := range outcomes {
		metrics.IncTask(string(outcome.Status), string(outcome.ErrKind))
	}
	return outcomes
}

// runTask walks one target through the pipeline stages and back through
// retry waits as the policy allows, always ending in exactly one
// terminal outcome.
func (s *Scheduler) runTask(ctx context.Context, target monitor.Target, slots chan struct{}) (outcome monitor.TaskOutcome) {
	outcome = monitor.TaskOutcome{Target: target}

	// A panic in any stage is this task's problem, not the cycle's.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked",
				zap.String("url", target.URL),
				zap.Any("panic", r),
			)
			outcome.Status = monitor.OutcomeFailed
			outcome.ErrKind = monitor.ErrKindInternal
			outcome.Err = fmt.Errorf("task panic: %v", r)
		}
	}()

	disguise := s.disguises.Pick()

	// The stagger runs before slot acquisition, so it never occupies a
	// concurrency slot.
	if !s.sleep(ctx, s.staggerDelay()) {
		return s.timeoutOutcome(outcome)
	}

	attempt := 0
	for {
		attempt++
		outcome.Attempts = attempt

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return s.timeoutOutcome(outcome)
		}

		metrics.TaskStarted()
		found, fresh, err := s.attempt(ctx, target, disguise)
		<-slots
		metrics.TaskFinished()

		// Listings persisted on a failed attempt stay classified new:
		// the retry will see them as duplicates, so this is the only
		// chance to report them.
		outcome.New = append(outcome.New, fresh...)

		if err == nil {
			outcome.Status = monitor.OutcomeSucceeded
			outcome.Found = found
			outcome.ErrKind = monitor.ErrKindNone
			outcome.Err = nil
			return outcome
		}
		if ctx.Err() != nil {
			return s.timeoutOutcome(outcome)
		}

		kind := monitor.Classify(err)
		outcome.ErrKind = kind
		outcome.Err = err

		decision := s.policy.Decide(kind, attempt)
		if !decision.Retry {
			outcome.Status = monitor.OutcomeFailed
			s.logger.Warn("task gave up",
				zap.String("url", target.URL),
				zap.String("error_kind", string(kind)),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return outcome
		}

		s.logger.Info("task retry scheduled",
			zap.String("url", target.URL),
			zap.String("error_kind", string(kind)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", decision.Delay),
		)
		if !s.sleep(ctx, decision.Delay) {
			return s.timeoutOutcome(outcome)
		}
	}
}

func (s *Scheduler) attempt(ctx context.Context, target monitor.Target, disguise monitor.DisguiseProfile) (int, []monitor.Listing, error) {
	snapshot, err := s.fetcher.Fetch(ctx, monitor.FetchRequest{Target: target, Disguise: disguise})
	if err != nil {
		return 0, nil, err
	}

	extractor := s.resolver.Resolve(target.Domain)
	records, err := extractor.Extract(snapshot)
	if err != nil {
		return 0, nil, err
	}

	if len(records) == 0 {
		if blockedContent(snapshot.Body) {
			return 0, nil, &monitor.FetchError{
				Kind: monitor.ErrKindBlocked,
				URL:  target.URL,
				Err:  fmt.Errorf("block or captcha interstitial detected"),
			}
		}
		s.archivePage(ctx, target, snapshot)
		return 0, nil, nil
	}

	valid := records[:0:0]
	for _, record := range records {
		if record.Price >= s.cfg.MinPrice {
			valid = append(valid, record)
		}
	}

	// Reconcile can fail mid-batch; whatever it classified new before
	// the failure is already persisted and must reach the caller.
	fresh, err := s.reconciler.Reconcile(ctx, valid)
	for _, listing := range fresh {
		metrics.AddNewListings(listing.Site, 1)
		s.logger.Info("new listing",
			zap.String("site", listing.Site),
			zap.String("id", listing.ID),
			zap.String("title", listing.Title),
			zap.Int("price", listing.Price),
		)
	}
	return len(records), fresh, err
}

// archivePage dumps the raw body for parser diagnosis. Best effort.
func (s *Scheduler) archivePage(ctx context.Context, target monitor.Target, snapshot monitor.PageSnapshot) {
	if s.archive == nil {
		return
	}
	path, err := s.archive.PutPage(ctx, target.Domain, snapshot.Body)
	if err != nil {
		s.logger.Warn("page archive failed", zap.String("url", target.URL), zap.Error(err))
		return
	}
	s.logger.Info("zero extractions, page archived",
		zap.String("url", target.URL),
		zap.String("dump", path),
	)
}

func (s *Scheduler) timeoutOutcome(outcome monitor.TaskOutcome) monitor.TaskOutcome {
	outcome.Status = monitor.OutcomeFailed
	// Abandoned tasks report the deadline, not whatever transient error
	// they happened to see last.
	outcome.ErrKind = monitor.ErrKindTimeout
	if outcome.Err == nil {
		outcome.Err = context.DeadlineExceeded
	}
	return outcome
}

func (s *Scheduler) staggerDelay() time.Duration {
	span := s.cfg.StaggerMax - s.cfg.StaggerMin
	if span <= 0 {
		return s.cfg.StaggerMin
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.cfg.StaggerMin + time.Duration(s.rng.Int63n(int64(span)))
}

// sleep waits for d or until the context ends; it reports false when the
// wait was cut short.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var blockMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("acesso negado"),
	[]byte("access denied"),
}

// blockedContent sniffs interstitial pages that explain an empty
// extraction: a block signal is permanent, an empty grid is not.
func blockedContent(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, marker := range blockMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
