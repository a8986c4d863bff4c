package provider

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrRegionBlocked is returned when an upstream refuses the caller's region.
	ErrRegionBlocked = errors.New("region blocked")
	// ErrRateLimited is returned when an upstream keeps answering 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnexpectedStatus wraps any other non-2xx response.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// FetchError attributes a failure to one ticker on one source.
type FetchError struct {
	Source SourceID
	Ticker string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Ticker, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrorSink receives per-ticker failures from adapters.
type ErrorSink interface {
	Record(err error)
}

// Discard is an ErrorSink that drops everything.
var Discard ErrorSink = discard{}

type discard struct{}

func (discard) Record(error) {}

// LastError keeps only the most recent error it was given. The zero value is
// ready to use and safe for concurrent use.
type LastError struct {
	mu  sync.RWMutex
	err error
	at  time.Time
}

// Record replaces the stored error. Nil errors are ignored.
func (l *LastError) Record(err error) {
	if l == nil || err == nil {
		return
	}
	l.mu.Lock()
	l.err = err
	l.at = time.Now().UTC()
	l.mu.Unlock()
}

// Snapshot returns the stored error text and when it was recorded. The text
// is empty when nothing has been recorded.
func (l *LastError) Snapshot() (string, time.Time) {
	if l == nil {
		return "", time.Time{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.err == nil {
		return "", time.Time{}
	}
	return l.err.Error(), l.at
}
