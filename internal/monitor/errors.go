package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a task failure for retry decisions and reporting.
type ErrorKind string

// Failure kinds. Transient kinds are retried; permanent kinds are not.
const (
	ErrKindNone        ErrorKind = ""
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindNetwork     ErrorKind = "network"
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindRender      ErrorKind = "render"
	ErrKindParse       ErrorKind = "parse"
	ErrKindBlocked     ErrorKind = "blocked"
	ErrKindBadTarget   ErrorKind = "bad_target"
	ErrKindPersistence ErrorKind = "persistence"
	ErrKindInternal    ErrorKind = "internal"
)

// Transient reports whether failures of this kind are worth retrying.
// Parse failures count as transient: a page extracted as garbage is
// usually a page that had not finished rendering.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrKindTimeout, ErrKindNetwork, ErrKindRateLimited, ErrKindRender, ErrKindParse, ErrKindPersistence:
		return true
	default:
		return false
	}
}

// ErrConflict signals an insert that lost to an already-present row.
var ErrConflict = errors.New("listing already recorded")

// FetchError wraps a failed fetch with its classification.
type FetchError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError signals structurally unusable page content.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failure: %s", e.Reason)
}

// PersistenceError wraps a store failure encountered during reconciliation.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Classify maps an arbitrary task error onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrKindNone
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return ErrKindParse
	}
	var persistErr *PersistenceError
	if errors.As(err, &persistErr) {
		return ErrKindPersistence
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrKindTimeout
		}
		return ErrKindNetwork
	}
	return ErrKindInternal
}
