package traffic

import (
	"sync"
	"time"
)

// retention bounds how long outcomes are kept. Windows longer than this undercount.
const retention = 15 * time.Minute

// Outcome classifies a finished weather request.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeDenied
)

// Counts is a snapshot of outcomes inside a window.
type Counts struct {
	Success int
	Errors  int
	Denied  int
}

// Total returns all outcomes, denials included.
func (c Counts) Total() int {
	return c.Success + c.Errors + c.Denied
}

// ErrorPct returns errors as a percentage of served requests (denials excluded).
// Zero when nothing was served.
func (c Counts) ErrorPct() float64 {
	served := c.Success + c.Errors
	if served == 0 {
		return 0
	}
	return float64(c.Errors) * 100 / float64(served)
}

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker keeps a sliding window of request outcomes. Safe for concurrent use.
// Health uses it for the degraded (error rate) and overloaded (denials) checks.
type Tracker struct {
	mu     sync.Mutex
	now    func() time.Time
	events []event
}

// NewTracker returns a Tracker. now defaults to time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Record appends one outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.RecordN(o, 1)
}

// RecordN appends n identical outcomes.
func (t *Tracker) RecordN(o Outcome, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for i := 0; i < n; i++ {
		t.events = append(t.events, event{at: now, outcome: o})
	}
	t.pruneLocked(now)
}

// Snapshot counts outcomes recorded within window of now.
func (t *Tracker) Snapshot(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.pruneLocked(now)
	cutoff := now.Add(-window)
	var c Counts
	for _, e := range t.events {
		if e.at.Before(cutoff) {
			continue
		}
		switch e.outcome {
		case OutcomeSuccess:
			c.Success++
		case OutcomeError:
			c.Errors++
		case OutcomeDenied:
			c.Denied++
		}
	}
	return c
}

// Reset drops all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// pruneLocked drops events older than retention. Events are appended in time order.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
