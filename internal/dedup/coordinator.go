// Package dedup distinguishes newly discovered listings from ones already
// recorded, atomically per listing under concurrent tasks.
package dedup

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"casawatch/internal/monitor"
)

// stripes bounds lock granularity; identifiers hash onto one of these.
const stripes = 64

// Coordinator is the single synchronization point between concurrent
// tasks and the listing store. Check-and-insert for any given canonical
// identifier runs under a stripe lock, so at most one task can classify
// a given (site, id) as new per cycle.
type Coordinator struct {
	store    monitor.ListingStore
	clock    monitor.Clock
	minPrice int
	locks    [stripes]sync.Mutex
	logger   *zap.Logger
}

// New builds a Coordinator over the given store.
func New(store monitor.ListingStore, clock monitor.Clock, minPrice int, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:    store,
		clock:    clock,
		minPrice: minPrice,
		logger:   logger,
	}
}

// Reconcile filters candidates into new vs duplicate and persists the new
// ones with their first-seen timestamp before returning. Records below
// the minimum price never reach the store. The returned slice holds only
// the listings classified new, in input order.
func (c *Coordinator) Reconcile(ctx context.Context, records []monitor.Listing) ([]monitor.Listing, error) {
	var fresh []monitor.Listing
	for _, record := range records {
		if record.Price < c.minPrice {
			continue
		}
		stamped, isNew, err := c.reconcileOne(ctx, record)
		if err != nil {
			return fresh, &monitor.PersistenceError{Err: err}
		}
		if isNew {
			fresh = append(fresh, stamped)
		}
	}
	return fresh, nil
}

// reconcileOne classifies one record under its stripe lock. The returned
// record carries the first-seen timestamp exactly as persisted, so the
// cycle reports the same instant the row holds.
func (c *Coordinator) reconcileOne(ctx context.Context, record monitor.Listing) (monitor.Listing, bool, error) {
	lock := &c.locks[stripeFor(record.ID)]
	lock.Lock()
	defer lock.Unlock()

	exists, err := c.store.Exists(ctx, record.Site, record.ID)
	if err != nil {
		return record, false, err
	}
	if exists {
		return record, false, nil
	}

	record.FirstSeen = c.clock.Now()
	if err := c.store.Insert(ctx, record); err != nil {
		if err == monitor.ErrConflict {
			// Lost the race against another writer; that writer owns
			// the "new" classification.
			c.logger.Debug("insert conflict treated as duplicate",
				zap.String("site", record.Site),
				zap.String("id", record.ID),
			)
			return record, false, nil
		}
		return record, false, err
	}
	return record, true, nil
}

// stripeFor hashes the canonical identifier alone: identifiers are
// globally canonical, so the same id on two portals still serializes
// onto the same lock.
func stripeFor(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % stripes)
}
