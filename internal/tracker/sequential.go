package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/opencli/opencli/internal/stream"
)

// DefaultTaskTimeout is the per-task budget of a Sequential run.
const DefaultTaskTimeout = 30 * time.Second

// Task is one entry of a batch or sequential run.
type Task struct {
	Type     string         `json:"type" yaml:"type"`
	Data     map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	Priority *int           `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Options returns the submit options for t.
func (t Task) Options() []stream.SubmitOption {
	if t.Priority == nil {
		return nil
	}
	return []stream.SubmitOption{stream.WithPriority(*t.Priority)}
}

// Sequential submits tasks strictly one at a time. Each task gets its own
// timer; when it fires a local timed_out outcome is recorded and the run
// moves to the next task.
type Sequential struct {
	tracker   *Tracker
	submitter Submitter
	timeout   time.Duration
	logger    *slog.Logger
}

// NewSequential returns a runner using taskTimeout per task, or
// DefaultTaskTimeout when taskTimeout is zero.
func NewSequential(t *Tracker, s Submitter, taskTimeout time.Duration) *Sequential {
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}
	return &Sequential{tracker: t, submitter: s, timeout: taskTimeout, logger: t.logger}
}

// Run returns one outcome per task, in order. Tasks the submitter
// refuses get a local failed outcome without a client id.
func (s *Sequential) Run(ctx context.Context, tasks []Task) ([]Outcome, error) {
	timers := newDeadlines(s.tracker.clock, s.timeout, func(id string) {
		if s.tracker.Expire(id) {
			s.logger.Warn("task timed out", "client_task_id", id, "timeout", s.timeout)
		}
	})
	defer timers.Stop()

	outcomes := make([]Outcome, 0, len(tasks))
	for _, task := range tasks {
		sub, err := s.tracker.Submit(s.submitter, task.Type, task.Data, task.Options()...)
		if err != nil {
			s.logger.Warn("task submit failed", "task_type", task.Type, "error", err)
			outcomes = append(outcomes, Outcome{
				TaskType: task.Type,
				Status:   stream.StatusFailed,
				Error:    err.Error(),
				At:       s.tracker.clock.Now(),
			})
			continue
		}
		timers.Arm(sub.ClientTaskID)

		out, err := s.await(ctx, sub.ClientTaskID)
		timers.Disarm(sub.ClientTaskID)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (s *Sequential) await(ctx context.Context, id string) (Outcome, error) {
	for {
		wait := s.tracker.waitChan()
		if out, ok := s.tracker.Outcome(id); ok {
			return out, nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
}
