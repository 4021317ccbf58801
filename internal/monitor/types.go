// Package monitor defines core types shared across subsystems.
package monitor

import (
	"time"
)

// Target is one configured search-result URL checked every cycle.
type Target struct {
	// URL is the full search-result URL as configured.
	URL string
	// Domain is the lookup key for extractor selection, lowercased
	// and stripped of a leading "www.".
	Domain string
}

// PageSnapshot holds the rendered content of a single fetch. It is owned
// by the task that fetched it and discarded after extraction.
type PageSnapshot struct {
	Body      []byte
	FinalURL  string
	FetchedAt time.Time
	Duration  time.Duration
	// Rendered reports whether the body came from the headless renderer
	// rather than the plain HTTP probe.
	Rendered bool
}

// Listing is one extracted property record.
type Listing struct {
	// Site is the source domain the listing was extracted from.
	Site string `json:"site"`
	// ID is the canonical identifier: the portal-assigned id, or a
	// derived stable hash when the portal exposes none. IDs are
	// globally unique and are the dedup key.
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Location string `json:"location,omitempty"`
	// Price is the normalized integer price in euros; zero when the
	// portal hides it ("sob consulta").
	Price int `json:"price"`
	// RawPrice preserves the price text as displayed on the portal.
	RawPrice string `json:"raw_price,omitempty"`
	// FirstSeen is assigned by the dedup coordinator when the listing
	// is classified new; zero until then.
	FirstSeen time.Time `json:"first_seen,omitempty"`
}

// OutcomeStatus is the terminal state of one target's pipeline run.
type OutcomeStatus string

// Terminal outcome states.
const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// TaskOutcome is the single terminal result a cycle records per target.
type TaskOutcome struct {
	Target   Target
	Status   OutcomeStatus
	Attempts int
	// Found counts listings extracted before price filtering.
	Found int
	// New holds the listings the dedup coordinator classified as new.
	New     []Listing
	ErrKind ErrorKind
	Err     error
}

// DisguiseProfile varies the fetch fingerprint across concurrent tasks.
type DisguiseProfile struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	Headers        map[string]string
}

// FetchRequest captures everything needed to fetch one target.
type FetchRequest struct {
	Target   Target
	Disguise DisguiseProfile
}
