package tracker

import (
	"context"
	"time"

	"github.com/opencli/opencli/internal/stream"
)

// DefaultBatchTimeout bounds WaitBatch when the caller passes zero.
const DefaultBatchTimeout = 120 * time.Second

// Report summarizes a batch once every task resolved or the timeout hit.
type Report struct {
	Resolved       []Outcome
	Orphaned       []Outcome
	TimedOut       []stream.Submission
	Unattributable []stream.Envelope
}

// Complete reports whether every task in the batch has an outcome.
func (r Report) Complete() bool { return len(r.TimedOut) == 0 }

// Failed counts resolved tasks whose status is not completed.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Resolved {
		if o.Status != stream.StatusCompleted {
			n++
		}
	}
	return n
}

// WaitBatch blocks until every listed submission has an outcome or
// timeout elapses. Tasks still pending at the deadline are reported as
// timed out, not failed, and keep accepting late updates. A cancelled
// ctx returns the partial report with ctx.Err().
func (t *Tracker) WaitBatch(ctx context.Context, clientTaskIDs []string, timeout time.Duration) (Report, error) {
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}
	deadline := t.clock.After(timeout)
	for {
		wait := t.waitChan()
		if t.allResolved(clientTaskIDs) {
			return t.report(clientTaskIDs), nil
		}
		select {
		case <-wait:
		case <-deadline:
			r := t.report(clientTaskIDs)
			t.logger.Warn("batch timed out", "resolved", len(r.Resolved), "timed_out", len(r.TimedOut))
			return r, nil
		case <-ctx.Done():
			return t.report(clientTaskIDs), ctx.Err()
		}
	}
}

// Wait blocks until one submission has an outcome, the timeout elapses
// or ctx is done.
func (t *Tracker) Wait(ctx context.Context, clientTaskID string, timeout time.Duration) (Outcome, bool) {
	r, _ := t.WaitBatch(ctx, []string{clientTaskID}, timeout)
	if len(r.Resolved) > 0 {
		return r.Resolved[0], true
	}
	if len(r.Orphaned) > 0 {
		return r.Orphaned[0], true
	}
	return Outcome{}, false
}

func (t *Tracker) allResolved(ids []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if e, ok := t.entries[id]; ok && e.outcome == nil {
			return false
		}
	}
	return true
}

func (t *Tracker) report(ids []string) Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	var r Report
	for _, id := range ids {
		e, ok := t.entries[id]
		switch {
		case !ok:
		case e.outcome == nil:
			r.TimedOut = append(r.TimedOut, e.sub)
		case e.outcome.Status == stream.StatusOrphaned:
			r.Orphaned = append(r.Orphaned, *e.outcome)
		default:
			r.Resolved = append(r.Resolved, *e.outcome)
		}
	}
	r.Unattributable = append([]stream.Envelope(nil), t.unmatched...)
	return r
}
