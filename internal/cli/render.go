package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/opencli/opencli/internal/stream"
	"github.com/opencli/opencli/internal/tracker"
)

// outcomeRenderer writes human-readable task outcomes. Styling is only
// applied when the destination is a terminal.
type outcomeRenderer struct {
	styled bool

	okStyle      lipgloss.Style
	failStyle    lipgloss.Style
	timeoutStyle lipgloss.Style
	warnStyle    lipgloss.Style
	dimStyle     lipgloss.Style
}

func newOutcomeRenderer(w io.Writer) *outcomeRenderer {
	return &outcomeRenderer{
		styled:       isTTY(w),
		okStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		failStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		timeoutStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		warnStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
		dimStyle:     lipgloss.NewStyle().Faint(true),
	}
}

func (r *outcomeRenderer) render(style lipgloss.Style, s string) string {
	if !r.styled {
		return s
	}
	return style.Render(s)
}

func (r *outcomeRenderer) mark(status stream.Status) string {
	switch status {
	case stream.StatusCompleted:
		return r.render(r.okStyle, "✓")
	case stream.StatusTimedOut:
		return r.render(r.timeoutStyle, "⏱")
	case stream.StatusOrphaned:
		return r.render(r.warnStyle, "⚠")
	default:
		return r.render(r.failStyle, "✗")
	}
}

func (r *outcomeRenderer) writeOutcome(w io.Writer, o tracker.Outcome) {
	label := o.TaskType
	if o.ClientTaskID != "" {
		label += " " + r.render(r.dimStyle, o.ClientTaskID)
	}
	line := fmt.Sprintf("%s %s  %s", r.mark(o.Status), label, o.Status)
	if o.TaskID != "" {
		line += "  task_id=" + o.TaskID
	}
	if o.Error != "" {
		line += "  " + o.Error
	} else if summary := summarizeResult(o.Result); summary != "" {
		line += "  " + summary
	}
	fmt.Fprintln(w, line)
}

func (r *outcomeRenderer) writeReport(w io.Writer, rep tracker.Report) {
	for _, o := range rep.Resolved {
		r.writeOutcome(w, o)
	}
	for _, o := range rep.Orphaned {
		r.writeOutcome(w, o)
	}
	for _, sub := range rep.TimedOut {
		r.writeOutcome(w, tracker.Outcome{
			ClientTaskID: sub.ClientTaskID,
			TaskType:     sub.TaskType,
			Status:       stream.StatusTimedOut,
		})
	}
	if n := len(rep.Unattributable); n > 0 {
		fmt.Fprintf(w, "%s %d update(s) could not be matched to a submission\n", r.mark(stream.StatusOrphaned), n)
	}

	total := len(rep.Resolved) + len(rep.Orphaned) + len(rep.TimedOut)
	fmt.Fprintf(w, "%d task(s): %d completed, %d failed, %d orphaned, %d timed out\n",
		total, len(rep.Resolved)-rep.Failed(), rep.Failed(), len(rep.Orphaned), len(rep.TimedOut))
}

// summarizeResult renders a flat result map as sorted key=value pairs.
func summarizeResult(result map[string]any) string {
	if len(result) == 0 {
		return ""
	}
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, result[k]))
	}
	return strings.Join(parts, " ")
}
