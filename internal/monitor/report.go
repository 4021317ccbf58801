package monitor

import (
	"errors"
	"time"
)

// ErrReportFinalized is returned when outcomes arrive after finalization.
var ErrReportFinalized = errors.New("cycle report already finalized")

// CycleReport aggregates the outcomes of one full pass over the target
// set. It is owned exclusively by the cycle aggregator until Finalize,
// immutable afterwards.
type CycleReport struct {
	ID        string               `json:"id"`
	Started   time.Time            `json:"started"`
	Finished  time.Time            `json:"finished"`
	Elapsed   time.Duration        `json:"elapsed"`
	Total     int                  `json:"total"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	// NewListings lists every listing classified new this cycle, in
	// completion order.
	NewListings []Listing         `json:"new_listings"`
	ErrorsBy    map[ErrorKind]int `json:"errors_by_kind"`

	finalized bool
}

// NewCycleReport starts an empty running report.
func NewCycleReport(id string, started time.Time) *CycleReport {
	return &CycleReport{
		ID:       id,
		Started:  started,
		ErrorsBy: make(map[ErrorKind]int),
	}
}

// AddOutcome folds one terminal task outcome into the report.
func (r *CycleReport) AddOutcome(outcome TaskOutcome) error {
	if r.finalized {
		return ErrReportFinalized
	}
	r.Total++
	// Even a failed task may have persisted listings on an earlier
	// attempt; they are new and must be reported exactly once, here.
	r.NewListings = append(r.NewListings, outcome.New...)
	switch outcome.Status {
	case OutcomeSucceeded:
		r.Succeeded++
	case OutcomeFailed:
		r.Failed++
		r.ErrorsBy[outcome.ErrKind]++
	}
	return nil
}

// Finalize transitions the report from running to finalized. The
// transition happens at most once; later calls are no-ops.
func (r *CycleReport) Finalize(finished time.Time) {
	if r.finalized {
		return
	}
	r.Finished = finished
	r.Elapsed = finished.Sub(r.Started)
	r.finalized = true
}

// Finalized reports whether Finalize has run.
func (r *CycleReport) Finalized() bool { return r.finalized }

// NewCount returns the number of listings classified new this cycle.
func (r *CycleReport) NewCount() int { return len(r.NewListings) }
