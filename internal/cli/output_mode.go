package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/opencli/opencli/internal/stream"
	"github.com/opencli/opencli/internal/tracker"
)

type outputMode int

const (
	outputModeText outputMode = iota
	outputModeJSON
)

func outputModeFor(jsonFlag bool) outputMode {
	if jsonFlag {
		return outputModeJSON
	}
	return outputModeText
}

func (m outputMode) isJSON() bool {
	return m == outputModeJSON
}

// outcomeJSON is the --json form of one task outcome.
type outcomeJSON struct {
	ClientTaskID string         `json:"client_task_id,omitempty"`
	TaskID       string         `json:"task_id,omitempty"`
	TaskType     string         `json:"task_type,omitempty"`
	Status       stream.Status  `json:"status"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	Attribution  string         `json:"attribution,omitempty"`
	At           *time.Time     `json:"at,omitempty"`
}

type reportJSON struct {
	Resolved       []outcomeJSON     `json:"resolved"`
	Orphaned       []outcomeJSON     `json:"orphaned"`
	TimedOut       []outcomeJSON     `json:"timed_out"`
	Unattributable []stream.Envelope `json:"unattributable"`
	Complete       bool              `json:"complete"`
	Failed         int               `json:"failed"`
}

func toOutcomeJSON(o tracker.Outcome) outcomeJSON {
	out := outcomeJSON{
		ClientTaskID: o.ClientTaskID,
		TaskID:       o.TaskID,
		TaskType:     o.TaskType,
		Status:       o.Status,
		Result:       o.Result,
		Error:        o.Error,
	}
	if o.ClientTaskID != "" {
		out.Attribution = o.Attribution.String()
	}
	if !o.At.IsZero() {
		at := o.At.UTC()
		out.At = &at
	}
	return out
}

func toReportJSON(r tracker.Report) reportJSON {
	out := reportJSON{
		Resolved:       make([]outcomeJSON, 0, len(r.Resolved)),
		Orphaned:       make([]outcomeJSON, 0, len(r.Orphaned)),
		TimedOut:       make([]outcomeJSON, 0, len(r.TimedOut)),
		Unattributable: r.Unattributable,
		Complete:       r.Complete(),
		Failed:         r.Failed(),
	}
	if out.Unattributable == nil {
		out.Unattributable = []stream.Envelope{}
	}
	for _, o := range r.Resolved {
		out.Resolved = append(out.Resolved, toOutcomeJSON(o))
	}
	for _, o := range r.Orphaned {
		out.Orphaned = append(out.Orphaned, toOutcomeJSON(o))
	}
	for _, sub := range r.TimedOut {
		out.TimedOut = append(out.TimedOut, outcomeJSON{
			ClientTaskID: sub.ClientTaskID,
			TaskType:     sub.TaskType,
			Status:       stream.StatusTimedOut,
		})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing json output: %w", err)
	}
	return nil
}
