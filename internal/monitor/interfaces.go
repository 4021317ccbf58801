package monitor

import (
	"context"
	"time"
)

// Fetcher obtains rendered page content for a target.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (PageSnapshot, error)
}

// Extractor turns rendered page content into listing records. It returns
// zero records when the page holds no matching structures and a
// *ParseError only when the input is structurally unusable.
type Extractor interface {
	Extract(page PageSnapshot) ([]Listing, error)
}

// ListingStore persists first-seen listings. Canonical identifiers are
// globally unique (portal ids are namespaced by construction, derived
// ids are hashes); Insert returns ErrConflict when the id is already
// recorded. Site travels with the id for reporting.
type ListingStore interface {
	Exists(ctx context.Context, site, id string) (bool, error)
	Insert(ctx context.Context, listing Listing) error
}

// ListingBrowser serves read-only views for the dashboard.
type ListingBrowser interface {
	Recent(ctx context.Context, limit int) ([]Listing, error)
	CountBySite(ctx context.Context) (map[string]int, error)
}

// Notifier delivers new-listing alerts and cycle summaries.
type Notifier interface {
	Alert(ctx context.Context, listing Listing) error
	Summary(ctx context.Context, report *CycleReport) error
}

// PageArchive stores raw page bodies for offline diagnosis.
type PageArchive interface {
	PutPage(ctx context.Context, domain string, body []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
