// Package tracker correlates asynchronous task_update events with the
// submissions that caused them and records exactly one outcome per task.
//
// Updates are resolved in order of confidence: echoed client_task_id,
// known server task_id, synthesized id, and finally an inferred task
// type attributed to the oldest pending submission of that type. Updates
// that match nothing are kept for diagnostics only.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opencli/opencli/internal/clock"
	"github.com/opencli/opencli/internal/stream"
)

// Attribution says how an update was matched to a submission.
type Attribution int

const (
	ByClientID Attribution = iota
	ByServerID
	BySynthesizedID
	ByInferredType
	Unattributable
)

func (a Attribution) String() string {
	switch a {
	case ByClientID:
		return "client_task_id"
	case ByServerID:
		return "task_id"
	case BySynthesizedID:
		return "synthesized_id"
	case ByInferredType:
		return "inferred"
	default:
		return "unattributable"
	}
}

// Outcome is the recorded terminal result of one task.
type Outcome struct {
	ClientTaskID string
	TaskID       string
	TaskType     string
	Status       stream.Status
	Result       map[string]any
	Error        string
	Attribution  Attribution
	At           time.Time
}

// Observation describes what Observe did with an update.
type Observation struct {
	ClientTaskID string
	Attribution  Attribution
	Recorded     bool
	Duplicate    bool
}

// Journal persists tracker transitions. Implementations must make
// RecordOutcome first-wins.
type Journal interface {
	RecordSubmitted(ctx context.Context, sub stream.Submission) error
	RecordAck(ctx context.Context, clientTaskID, taskID string) error
	RecordOutcome(ctx context.Context, clientTaskID string, status stream.Status, result map[string]any, errText string, at time.Time) error
	MarkOrphaned(ctx context.Context, clientTaskIDs []string) error
}

// Options configures a Tracker.
type Options struct {
	Clock   clock.Clock
	Logger  *slog.Logger
	Journal Journal
}

type entry struct {
	sub        stream.Submission
	taskID     string
	status     stream.Status
	outcome    *Outcome
	duplicates int
}

// Tracker is safe for concurrent use.
type Tracker struct {
	clock   clock.Clock
	logger  *slog.Logger
	journal Journal

	mu        sync.Mutex
	entries   map[string]*entry
	order     []string
	byServer  map[string]string
	bySynth   map[string]string
	unmatched []stream.Envelope
	changed   chan struct{}
}

// New returns an empty tracker.
func New(opts Options) *Tracker {
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{
		clock:    c,
		logger:   logger,
		journal:  opts.Journal,
		entries:  make(map[string]*entry),
		byServer: make(map[string]string),
		bySynth:  make(map[string]string),
		changed:  make(chan struct{}),
	}
}

// Submitter sends a task without waiting for its outcome.
type Submitter interface {
	Submit(taskType string, data map[string]any, opts ...stream.SubmitOption) (stream.Submission, error)
}

// Submit sends a task through s and registers it. The tracker lock is
// held across the send so an update racing the return of s.Submit is
// never observed before its submission is known.
func (t *Tracker) Submit(s Submitter, taskType string, data map[string]any, opts ...stream.SubmitOption) (stream.Submission, error) {
	t.mu.Lock()
	sub, err := s.Submit(taskType, data, opts...)
	if err != nil {
		t.mu.Unlock()
		return stream.Submission{}, err
	}
	t.registerLocked(sub)
	t.mu.Unlock()

	t.journalSubmitted(sub)
	return sub, nil
}

// Register starts tracking a submission made elsewhere.
func (t *Tracker) Register(sub stream.Submission) {
	t.mu.Lock()
	added := t.registerLocked(sub)
	t.mu.Unlock()
	if added {
		t.journalSubmitted(sub)
	}
}

func (t *Tracker) registerLocked(sub stream.Submission) bool {
	if _, ok := t.entries[sub.ClientTaskID]; ok {
		return false
	}
	t.entries[sub.ClientTaskID] = &entry{sub: sub, status: stream.StatusSubmitted}
	t.order = append(t.order, sub.ClientTaskID)
	if sub.SynthesizedID != "" {
		t.bySynth[sub.SynthesizedID] = sub.ClientTaskID
	}
	return true
}

func (t *Tracker) journalSubmitted(sub stream.Submission) {
	if t.journal == nil {
		return
	}
	if err := t.journal.RecordSubmitted(context.Background(), sub); err != nil {
		t.logger.Warn("journal submit failed", "client_task_id", sub.ClientTaskID, "error", err)
	}
}

// Ack links a task_submitted message to its submission. Acks without a
// client_task_id, or for unknown submissions, are ignored.
func (t *Tracker) Ack(msg *stream.Envelope) {
	if msg.ClientTaskID == "" || msg.TaskID == "" {
		return
	}
	t.mu.Lock()
	e, ok := t.entries[msg.ClientTaskID]
	if ok {
		e.taskID = msg.TaskID
		t.byServer[msg.TaskID] = msg.ClientTaskID
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	if t.journal != nil {
		if err := t.journal.RecordAck(context.Background(), msg.ClientTaskID, msg.TaskID); err != nil {
			t.logger.Warn("journal ack failed", "client_task_id", msg.ClientTaskID, "error", err)
		}
	}
}

// Observe applies a task_update. The first terminal status recorded for
// a task wins; later terminal updates are counted as duplicates.
func (t *Tracker) Observe(msg *stream.Envelope) Observation {
	t.mu.Lock()
	id, attr := t.resolveLocked(msg)
	if attr == Unattributable {
		t.unmatched = append(t.unmatched, *msg)
		t.mu.Unlock()
		t.logger.Warn("unattributable task update", "task_id", msg.TaskID, "status", msg.Status)
		return Observation{Attribution: attr}
	}

	e := t.entries[id]
	obs := Observation{ClientTaskID: id, Attribution: attr}
	if msg.TaskID != "" && e.taskID == "" && attr != ByInferredType {
		e.taskID = msg.TaskID
		t.byServer[msg.TaskID] = id
	}
	switch {
	case e.outcome != nil:
		if msg.Status.Terminal() {
			e.duplicates++
			obs.Duplicate = true
		}
		t.mu.Unlock()
		return obs
	case !msg.Status.Terminal():
		if msg.Status != "" {
			e.status = msg.Status
		}
		t.mu.Unlock()
		return obs
	}

	out := &Outcome{
		ClientTaskID: id,
		TaskID:       e.taskID,
		TaskType:     e.sub.TaskType,
		Status:       msg.Status,
		Result:       msg.Result,
		Attribution:  attr,
		At:           t.clock.Now(),
	}
	if msg.Status != stream.StatusCompleted {
		out.Error = msg.ErrorText()
	}
	t.recordLocked(e, out)
	t.mu.Unlock()
	obs.Recorded = true

	t.logger.Debug("task resolved", "client_task_id", id, "task_id", out.TaskID, "status", out.Status, "attribution", attr)
	t.persist(out)
	return obs
}

// Expire records a local timed_out outcome for a still-pending task. It
// reports whether anything was recorded.
func (t *Tracker) Expire(clientTaskID string) bool {
	return t.resolveLocal(clientTaskID, stream.StatusTimedOut, "timed out waiting for task update")
}

// Fail records a local failed outcome, for submissions that never left
// the client.
func (t *Tracker) Fail(clientTaskID string, err error) bool {
	return t.resolveLocal(clientTaskID, stream.StatusFailed, err.Error())
}

func (t *Tracker) resolveLocal(id string, status stream.Status, text string) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok || e.outcome != nil {
		t.mu.Unlock()
		return false
	}
	out := &Outcome{
		ClientTaskID: id,
		TaskID:       e.taskID,
		TaskType:     e.sub.TaskType,
		Status:       status,
		Error:        text,
		At:           t.clock.Now(),
	}
	t.recordLocked(e, out)
	t.mu.Unlock()
	t.persist(out)
	return true
}

// Orphan closes out submissions lost with a dropped connection. Entries
// that already have an outcome are left alone.
func (t *Tracker) Orphan(subs []stream.Submission) []string {
	var ids []string
	t.mu.Lock()
	for _, sub := range subs {
		e, ok := t.entries[sub.ClientTaskID]
		if !ok || e.outcome != nil {
			continue
		}
		t.recordLocked(e, &Outcome{
			ClientTaskID: sub.ClientTaskID,
			TaskID:       e.taskID,
			TaskType:     e.sub.TaskType,
			Status:       stream.StatusOrphaned,
			Error:        "connection lost before task completed",
			At:           t.clock.Now(),
		})
		ids = append(ids, sub.ClientTaskID)
	}
	t.mu.Unlock()

	if len(ids) > 0 && t.journal != nil {
		if err := t.journal.MarkOrphaned(context.Background(), ids); err != nil {
			t.logger.Warn("journal orphan marking failed", "count", len(ids), "error", err)
		}
	}
	return ids
}

// Handle routes a session event to the matching tracker operation.
func (t *Tracker) Handle(ev stream.Event) {
	switch ev.Kind {
	case stream.EventTaskSubmitted:
		if ev.Message != nil {
			t.Ack(ev.Message)
		}
	case stream.EventTaskUpdate:
		if ev.Message != nil {
			t.Observe(ev.Message)
		}
	case stream.EventDisconnected:
		t.Orphan(ev.Orphaned)
	}
}

// Outcome returns the recorded outcome for a submission.
func (t *Tracker) Outcome(clientTaskID string) (Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[clientTaskID]
	if !ok || e.outcome == nil {
		return Outcome{}, false
	}
	return *e.outcome, true
}

// Status returns the latest known status for a submission.
func (t *Tracker) Status(clientTaskID string) (stream.Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[clientTaskID]
	if !ok {
		return "", false
	}
	return e.status, true
}

// Duplicates returns how many extra terminal updates were discarded.
func (t *Tracker) Duplicates(clientTaskID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[clientTaskID]; ok {
		return e.duplicates
	}
	return 0
}

// Pending lists submissions without an outcome, oldest first.
func (t *Tracker) Pending() []stream.Submission {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []stream.Submission
	for _, id := range t.order {
		if e := t.entries[id]; e.outcome == nil {
			out = append(out, e.sub)
		}
	}
	return out
}

// Unattributable returns the updates that matched no submission.
func (t *Tracker) Unattributable() []stream.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]stream.Envelope(nil), t.unmatched...)
}

func (t *Tracker) resolveLocked(msg *stream.Envelope) (string, Attribution) {
	if _, ok := t.entries[msg.ClientTaskID]; ok && msg.ClientTaskID != "" {
		return msg.ClientTaskID, ByClientID
	}
	if id, ok := t.byServer[msg.TaskID]; ok && msg.TaskID != "" {
		return id, ByServerID
	}
	if id, ok := t.bySynth[msg.TaskID]; ok && msg.TaskID != "" {
		return id, BySynthesizedID
	}
	if kind := inferredType(msg); kind != "" {
		for _, id := range t.order {
			e := t.entries[id]
			if e.outcome == nil && matchesType(e.sub, kind) {
				return id, ByInferredType
			}
		}
	}
	return "", Unattributable
}

// inferredType pulls a task category out of an update that carries no
// usable identifier.
func inferredType(msg *stream.Envelope) string {
	if msg.TaskType != "" {
		return msg.TaskType
	}
	for _, field := range []string{"task_type", "domain", "category"} {
		if s, ok := msg.Result[field].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func matchesType(sub stream.Submission, kind string) bool {
	if sub.TaskType == kind {
		return true
	}
	for _, field := range []string{"domain", "category"} {
		if s, ok := sub.TaskData[field].(string); ok && s == kind {
			return true
		}
	}
	return false
}

func (t *Tracker) recordLocked(e *entry, out *Outcome) {
	e.outcome = out
	e.status = out.Status
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *Tracker) persist(out *Outcome) {
	if t.journal == nil {
		return
	}
	if err := t.journal.RecordOutcome(context.Background(), out.ClientTaskID, out.Status, out.Result, out.Error, out.At); err != nil {
		t.logger.Warn("journal outcome failed", "client_task_id", out.ClientTaskID, "error", err)
	}
}

// waitChan returns a channel closed at the next recorded outcome.
func (t *Tracker) waitChan() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}
