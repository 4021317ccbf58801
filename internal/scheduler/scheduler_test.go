package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"casawatch/internal/archive"
	"casawatch/internal/monitor"
	"casawatch/internal/policy/retry"
)

type fakeFetcher struct {
	mu       sync.Mutex
	inFlight int32
	maxSeen  int32
	hold     time.Duration
	perURL   map[string]func(ctx context.Context) (monitor.PageSnapshot, error)
	fallback func(ctx context.Context) (monitor.PageSnapshot, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, req monitor.FetchRequest) (monitor.PageSnapshot, error) {
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if current <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, current) {
			break
		}
	}
	if f.hold > 0 {
		select {
		case <-time.After(f.hold):
		case <-ctx.Done():
			return monitor.PageSnapshot{}, ctx.Err()
		}
	}
	f.mu.Lock()
	fn := f.perURL[req.Target.URL]
	f.mu.Unlock()
	if fn == nil {
		fn = f.fallback
	}
	return fn(ctx)
}

func snapshotOf(body string) func(ctx context.Context) (monitor.PageSnapshot, error) {
	return func(context.Context) (monitor.PageSnapshot, error) {
		return monitor.PageSnapshot{Body: []byte(body), FetchedAt: time.Now()}, nil
	}
}

type staticExtractor struct {
	records []monitor.Listing
	err     error
	panics  bool
}

func (e staticExtractor) Extract(monitor.PageSnapshot) ([]monitor.Listing, error) {
	if e.panics {
		panic("extractor blew up")
	}
	return e.records, e.err
}

type staticResolver struct {
	byDomain map[string]monitor.Extractor
	fallback monitor.Extractor
}

func (r staticResolver) Resolve(domain string) monitor.Extractor {
	if e, ok := r.byDomain[domain]; ok {
		return e
	}
	return r.fallback
}

type recordingReconciler struct {
	mu   sync.Mutex
	seen []monitor.Listing
	err  error
}

func (r *recordingReconciler) Reconcile(_ context.Context, records []monitor.Listing) ([]monitor.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.seen = append(r.seen, records...)
	return records, nil
}

type fixedDisguise struct{}

func (fixedDisguise) Pick() monitor.DisguiseProfile {
	return monitor.DisguiseProfile{UserAgent: "test-agent"}
}

func listingsPage(n int) []monitor.Listing {
	out := make([]monitor.Listing, n)
	for i := range out {
		out[i] = monitor.Listing{
			Site:  "example.pt",
			ID:    fmt.Sprintf("lst-%d", i),
			Title: fmt.Sprintf("Apartamento T%d", i),
			Price: 150_000 + i,
		}
	}
	return out
}

func targetsOf(n int) []monitor.Target {
	out := make([]monitor.Target, n)
	for i := range out {
		out[i] = monitor.Target{
			URL:    fmt.Sprintf("https://example.pt/search/%d", i),
			Domain: "example.pt",
		}
	}
	return out
}

func newScheduler(fetcher monitor.Fetcher, resolver Resolver, reconciler Reconciler, cfg Config) *Scheduler {
	policy := retry.New(retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	})
	return New(fetcher, resolver, reconciler, policy, fixedDisguise{}, archive.NewMemory(), cfg, nil)
}

func TestRunCycle_MixedOutcomes(t *testing.T) {
	t.Parallel()

	targets := targetsOf(5)
	fetcher := &fakeFetcher{
		perURL: map[string]func(ctx context.Context) (monitor.PageSnapshot, error){
			targets[2].URL: func(context.Context) (monitor.PageSnapshot, error) {
				return monitor.PageSnapshot{}, &monitor.FetchError{
					Kind: monitor.ErrKindNetwork,
					URL:  targets[2].URL,
					Err:  fmt.Errorf("connection reset"),
				}
			},
		},
		fallback: snapshotOf("<html>ok</html>"),
	}
	resolver := staticResolver{fallback: staticExtractor{records: listingsPage(2)}}
	reconciler := &recordingReconciler{}

	s := newScheduler(fetcher, resolver, reconciler, Config{Concurrency: 2})
	outcomes := s.RunCycle(context.Background(), targets)
	require.Len(t, outcomes, len(targets))

	var succeeded, failed int
	for i, outcome := range outcomes {
		require.Equal(t, targets[i], outcome.Target)
		switch outcome.Status {
		case monitor.OutcomeSucceeded:
			succeeded++
			require.Equal(t, 2, outcome.Found)
		case monitor.OutcomeFailed:
			failed++
			require.Equal(t, monitor.ErrKindNetwork, outcome.ErrKind)
			require.Equal(t, 3, outcome.Attempts, "transient failure should exhaust the attempt budget")
		}
	}
	require.Equal(t, 4, succeeded)
	require.Equal(t, 1, failed)
}

func TestRunCycle_RespectsConcurrencyBound(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		hold:     20 * time.Millisecond,
		fallback: snapshotOf("<html>ok</html>"),
	}
	resolver := staticResolver{fallback: staticExtractor{records: listingsPage(1)}}

	s := newScheduler(fetcher, resolver, &recordingReconciler{}, Config{Concurrency: 2})
	outcomes := s.RunCycle(context.Background(), targetsOf(10))

	require.Len(t, outcomes, 10)
	require.LessOrEqual(t, atomic.LoadInt32(&fetcher.maxSeen), int32(2))
	for _, outcome := range outcomes {
		require.Equal(t, monitor.OutcomeSucceeded, outcome.Status)
	}
}

func TestRunCycle_DeadlineAbandonsPendingTasks(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		hold:     50 * time.Millisecond,
		fallback: snapshotOf("<html>ok</html>"),
	}
	resolver := staticResolver{fallback: staticExtractor{records: listingsPage(1)}}

	s := newScheduler(fetcher, resolver, &recordingReconciler{}, Config{Concurrency: 2})
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	outcomes := s.RunCycle(ctx, targetsOf(10))
	require.Len(t, outcomes, 10)

	var timedOut int
	for _, outcome := range outcomes {
		if outcome.Status == monitor.OutcomeFailed {
			require.Equal(t, monitor.ErrKindTimeout, outcome.ErrKind)
			timedOut++
		}
	}
	require.Positive(t, timedOut, "some tasks must be abandoned at the deadline")
}

func TestRunCycle_PanicIsolatedToOneTask(t *testing.T) {
	t.Parallel()

	targets := targetsOf(3)
	targets[1].Domain = "broken.example.pt"
	resolver := staticResolver{
		byDomain: map[string]monitor.Extractor{
			"broken.example.pt": staticExtractor{panics: true},
		},
		fallback: staticExtractor{records: listingsPage(1)},
	}
	fetcher := &fakeFetcher{fallback: snapshotOf("<html>ok</html>")}

	s := newScheduler(fetcher, resolver, &recordingReconciler{}, Config{Concurrency: 2})
	outcomes := s.RunCycle(context.Background(), targets)

	require.Equal(t, monitor.OutcomeSucceeded, outcomes[0].Status)
	require.Equal(t, monitor.OutcomeFailed, outcomes[1].Status)
	require.Equal(t, monitor.ErrKindInternal, outcomes[1].ErrKind)
	require.Equal(t, monitor.OutcomeSucceeded, outcomes[2].Status)
}

func TestRunCycle_BlockedPageFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		fallback: snapshotOf("<html><body>Acesso Negado - captcha required</body></html>"),
	}
	resolver := staticResolver{fallback: staticExtractor{}}

	s := newScheduler(fetcher, resolver, &recordingReconciler{}, Config{Concurrency: 1})
	outcomes := s.RunCycle(context.Background(), targetsOf(1))

	require.Equal(t, monitor.OutcomeFailed, outcomes[0].Status)
	require.Equal(t, monitor.ErrKindBlocked, outcomes[0].ErrKind)
	require.Equal(t, 1, outcomes[0].Attempts, "blocked is permanent: no retries")
}

func TestRunCycle_ZeroExtractionsArchivesPage(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		fallback: snapshotOf("<html><body>sem resultados</body></html>"),
	}
	resolver := staticResolver{fallback: staticExtractor{}}
	pages := archive.NewMemory()
	policy := retry.New(retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	s := New(fetcher, resolver, &recordingReconciler{}, policy, fixedDisguise{}, pages, Config{Concurrency: 1}, nil)
	outcomes := s.RunCycle(context.Background(), targetsOf(1))

	require.Equal(t, monitor.OutcomeSucceeded, outcomes[0].Status)
	require.Zero(t, outcomes[0].Found)
	require.Equal(t, 1, pages.Len())
}

func TestRunCycle_PriceFloorAppliedBeforeDedup(t *testing.T) {
	t.Parallel()

	records := []monitor.Listing{
		{Site: "example.pt", ID: "cheap", Price: 40_000},
		{Site: "example.pt", ID: "kept", Price: 250_000},
	}
	fetcher := &fakeFetcher{fallback: snapshotOf("<html>ok</html>")}
	resolver := staticResolver{fallback: staticExtractor{records: records}}
	reconciler := &recordingReconciler{}

	s := newScheduler(fetcher, resolver, reconciler, Config{Concurrency: 1, MinPrice: 100_000})
	outcomes := s.RunCycle(context.Background(), targetsOf(1))

	require.Equal(t, monitor.OutcomeSucceeded, outcomes[0].Status)
	require.Equal(t, 2, outcomes[0].Found, "Found counts pre-filter extractions")
	require.Len(t, reconciler.seen, 1)
	require.Equal(t, "kept", reconciler.seen[0].ID)
}

// partialReconciler persists what it can and fails partway through,
// like a store dropping its connection mid-batch.
type partialReconciler struct {
	mu        sync.Mutex
	persisted map[string]bool
	failOnce  bool
}

func (r *partialReconciler) Reconcile(_ context.Context, records []monitor.Listing) ([]monitor.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.persisted == nil {
		r.persisted = make(map[string]bool)
	}
	var fresh []monitor.Listing
	for i, record := range records {
		if r.persisted[record.ID] {
			continue
		}
		if r.failOnce && i > 0 {
			r.failOnce = false
			return fresh, &monitor.PersistenceError{Err: fmt.Errorf("connection reset mid-batch")}
		}
		r.persisted[record.ID] = true
		fresh = append(fresh, record)
	}
	return fresh, nil
}

func TestRunCycle_PartialPersistenceStillReported(t *testing.T) {
	t.Parallel()

	records := []monitor.Listing{
		{Site: "example.pt", ID: "A", Title: "T2 Areeiro", Price: 300_000},
		{Site: "example.pt", ID: "B", Title: "T3 Campo de Ourique", Price: 450_000},
	}
	fetcher := &fakeFetcher{fallback: snapshotOf("<html>ok</html>")}
	resolver := staticResolver{fallback: staticExtractor{records: records}}
	reconciler := &partialReconciler{failOnce: true}

	s := newScheduler(fetcher, resolver, reconciler, Config{Concurrency: 1})
	outcomes := s.RunCycle(context.Background(), targetsOf(1))

	require.Equal(t, monitor.OutcomeSucceeded, outcomes[0].Status)
	require.Equal(t, 2, outcomes[0].Attempts)
	ids := make([]string, 0, len(outcomes[0].New))
	for _, listing := range outcomes[0].New {
		ids = append(ids, listing.ID)
	}
	require.ElementsMatch(t, []string{"A", "B"}, ids,
		"listings persisted on the failed attempt must not vanish from the outcome")
}

// exhaustedReconciler persists one listing, then fails every call.
type exhaustedReconciler struct {
	mu    sync.Mutex
	calls int
}

func (r *exhaustedReconciler) Reconcile(_ context.Context, records []monitor.Listing) ([]monitor.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls == 1 && len(records) > 0 {
		return records[:1], &monitor.PersistenceError{Err: fmt.Errorf("pool shutting down")}
	}
	return nil, &monitor.PersistenceError{Err: fmt.Errorf("pool shutting down")}
}

func TestRunCycle_FailedTaskKeepsPersistedListings(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fallback: snapshotOf("<html>ok</html>")}
	resolver := staticResolver{fallback: staticExtractor{records: listingsPage(2)}}

	s := newScheduler(fetcher, resolver, &exhaustedReconciler{}, Config{Concurrency: 1})
	outcomes := s.RunCycle(context.Background(), targetsOf(1))

	require.Equal(t, monitor.OutcomeFailed, outcomes[0].Status)
	require.Equal(t, monitor.ErrKindPersistence, outcomes[0].ErrKind)
	require.Len(t, outcomes[0].New, 1,
		"the listing persisted before the failures is still reported")
}

func TestBlockedContent(t *testing.T) {
	t.Parallel()

	require.True(t, blockedContent([]byte("<div>Verifique o CAPTCHA</div>")))
	require.True(t, blockedContent([]byte("ACCESS DENIED")))
	require.False(t, blockedContent([]byte("<div>Apartamento T2, Lisboa</div>")))
}
