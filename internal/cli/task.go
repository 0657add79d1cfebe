package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/opencli/opencli/internal/auth"
	"github.com/opencli/opencli/internal/catalog"
	"github.com/opencli/opencli/internal/config"
	"github.com/opencli/opencli/internal/journal"
	"github.com/opencli/opencli/internal/paths"
	"github.com/opencli/opencli/internal/stream"
	"github.com/opencli/opencli/internal/tracker"
)

var (
	rootStdin    io.Reader = os.Stdin
	stdinIsTTYFn           = func() bool { return readerIsTTY(rootStdin) }

	authWaitTimeout  = 10 * time.Second
	flushWaitTimeout = 2 * time.Second
)

func readerIsTTY(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && isTerminalFn(int(f.Fd()))
}

func runTaskCommand(args []string, cfg *config.Config, logger *slog.Logger) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printTaskHelp(rootStdout)
		if len(args) == 0 {
			return exitUsage
		}
		return exitOK
	}

	switch args[0] {
	case "submit":
		return runTaskSubmit(args[1:], cfg, logger)
	case "batch":
		return runTaskBatch(args[1:], cfg, logger)
	case "pending":
		return runTaskPending(args[1:], logger)
	case "cancel":
		return runTaskCancel(args[1:], cfg, logger)
	default:
		fmt.Fprintf(rootStderr, "Error: unknown task command %q\n", args[0])
		printTaskHelp(rootStderr)
		return exitUsage
	}
}

func printTaskHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  opencli task submit <type> [key=value ...|'{json}'] [--priority N] [--wait] [--timeout D] [--json]")
	fmt.Fprintln(out, "  opencli task batch <manifest> [--sequential] [--timeout D] [--task-timeout D] [--json]")
	fmt.Fprintln(out, "  opencli task pending [--json]")
	fmt.Fprintln(out, "  opencli task cancel <task_id>")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Task data is read from stdin when no arguments are given and stdin is not a terminal.")
}

// taskEnv is one authenticated stream session wired to a tracker.
type taskEnv struct {
	session *stream.Session
	tracker *tracker.Tracker
	journal *journal.Store
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// startTaskEnv connects and authenticates, failing after authWaitTimeout
// or on the first rejected authentication.
func startTaskEnv(cfg *config.Config, logger *slog.Logger) (*taskEnv, error) {
	if cfg.Stream.Secret == "" {
		return nil, fmt.Errorf("no stream secret configured (set %s or stream.secret)", config.EnvSecret)
	}
	cat, err := catalog.New(cfg.Tasks)
	if err != nil {
		return nil, err
	}

	env := &taskEnv{logger: logger, done: make(chan struct{})}
	var j tracker.Journal
	if store, err := openJournal(logger); err != nil {
		logger.Warn("task journal unavailable", "path", paths.JournalPath(), "error", err)
	} else {
		env.journal = store
		j = store
	}

	env.tracker = tracker.New(tracker.Options{Logger: logger, Journal: j})
	env.session = stream.NewSession(stream.Options{
		URL: cfg.Stream.URL,
		Signer: auth.Signer{
			DeviceID: cfg.Stream.DeviceID,
			Secret:   cfg.Stream.Secret,
			Window:   cfg.Stream.TokenWindowDuration(),
		},
		DeviceName:        cfg.Stream.DeviceName,
		Platform:          cfg.Stream.Platform,
		ReconnectDelay:    cfg.Stream.ReconnectDelayDuration(),
		HeartbeatInterval: cfg.Stream.HeartbeatIntervalDuration(),
		HeartbeatTimeout:  cfg.Stream.HeartbeatTimeoutDuration(),
		Logger:            logger,
		Validator:         cat,
	})

	ctx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel
	dedup := tracker.NewDedupStore(nil, cfg.Tracker.DedupTTLDuration())

	authed := make(chan error, 1)
	notify := func(err error) {
		select {
		case authed <- err:
		default:
		}
	}
	observe := func(ev stream.Event) {
		switch {
		case ev.Kind == stream.EventStateChanged && ev.State == stream.StateAuthenticated:
			notify(nil)
		case ev.Kind == stream.EventAuthFailed:
			notify(ev.Err)
		case ev.Kind == stream.EventHeartbeatMissed:
			logger.Warn("server stopped acknowledging heartbeats")
		case ev.Kind == stream.EventServerError && ev.Message != nil:
			logger.Warn("server error", "message", ev.Message.ErrorText())
		}
	}

	go func() {
		defer close(env.done)
		_ = env.session.Run(ctx)
	}()
	go dedup.RunSweeper(ctx, 0)
	go env.tracker.Consume(ctx, env.session.Events(), dedup, observe)

	select {
	case err := <-authed:
		if err != nil {
			env.Close()
			return nil, err
		}
	case <-time.After(authWaitTimeout):
		env.Close()
		return nil, fmt.Errorf("timed out after %s waiting to authenticate with %s", authWaitTimeout, cfg.Stream.URL)
	}
	return env, nil
}

func openJournal(logger *slog.Logger) (*journal.Store, error) {
	store, err := journal.Open(paths.JournalPath())
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if n, err := store.OrphanStale(ctx); err != nil {
		logger.Warn("marking stale journal rows failed", "error", err)
	} else if n > 0 {
		logger.Info("journal rows from finished sessions marked orphaned", "count", n)
	}
	return store, nil
}

// Close writes out queued messages, stops the session and releases the
// journal.
func (e *taskEnv) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), flushWaitTimeout)
	if err := e.session.Flush(ctx); err != nil && !errors.Is(err, stream.ErrNotAuthenticated) {
		e.logger.Warn("unsent stream messages dropped", "error", err)
	}
	cancel()
	e.cancel()
	<-e.done
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			e.logger.Warn("closing task journal", "error", err)
		}
	}
}

func newTaskFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func runTaskSubmit(args []string, cfg *config.Config, logger *slog.Logger) int {
	fs := newTaskFlagSet("task submit")
	priority := fs.Int("priority", 0, "task priority")
	wait := fs.Bool("wait", false, "wait for the task outcome")
	timeout := fs.Duration("timeout", cfg.Tracker.TaskTimeoutDuration(), "how long --wait waits")
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(rootStderr, "Error: %v\n", err)
		return exitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 || strings.TrimSpace(rest[0]) == "" {
		fmt.Fprintln(rootStderr, "Error: task submit requires a task type")
		return exitUsage
	}
	taskType := rest[0]

	data, err := parseTaskData(rest[1:], rootStdin, stdinIsTTYFn())
	if err != nil {
		fmt.Fprintf(rootStderr, "Error: %v\n", err)
		return exitUsage
	}
	var opts []stream.SubmitOption
	if fs.Changed("priority") {
		opts = append(opts, stream.WithPriority(*priority))
	}

	env, err := startTaskEnv(cfg, logger)
	if err != nil {
		reportError(rootStderr, err, cfg.Verbose)
		return exitFailure
	}
	defer env.Close()

	sub, err := env.tracker.Submit(env.session, taskType, data, opts...)
	if err != nil {
		reportError(rootStderr, err, cfg.Verbose)
		return exitFailure
	}

	mode := outputModeFor(*jsonOut)
	if !*wait {
		if mode.isJSON() {
			_ = writeJSON(rootStdout, outcomeJSON{ClientTaskID: sub.ClientTaskID, TaskType: taskType, Status: stream.StatusSubmitted})
		} else {
			fmt.Fprintln(rootStdout, sub.ClientTaskID)
		}
		return exitOK
	}

	out, ok := env.tracker.Wait(context.Background(), sub.ClientTaskID, *timeout)
	if !ok {
		out = tracker.Outcome{ClientTaskID: sub.ClientTaskID, TaskType: taskType, Status: stream.StatusTimedOut}
	}
	if mode.isJSON() {
		_ = writeJSON(rootStdout, toOutcomeJSON(out))
	} else {
		newOutcomeRenderer(rootStdout).writeOutcome(rootStdout, out)
	}
	if out.Status != stream.StatusCompleted {
		return exitFailure
	}
	return exitOK
}

func runTaskBatch(args []string, cfg *config.Config, logger *slog.Logger) int {
	fs := newTaskFlagSet("task batch")
	sequential := fs.Bool("sequential", false, "submit one task at a time")
	timeout := fs.Duration("timeout", cfg.Tracker.BatchTimeoutDuration(), "overall batch timeout")
	taskTimeout := fs.Duration("task-timeout", cfg.Tracker.TaskTimeoutDuration(), "per-task timeout with --sequential")
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(rootStderr, "Error: %v\n", err)
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(rootStderr, "Error: task batch requires exactly one manifest file")
		return exitUsage
	}
	tasks, err := loadManifest(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(rootStderr, "Error: %v\n", err)
		return exitUsage
	}

	env, err := startTaskEnv(cfg, logger)
	if err != nil {
		reportError(rootStderr, err, cfg.Verbose)
		return exitFailure
	}
	defer env.Close()

	var rep tracker.Report
	if *sequential {
		rep, err = runSequentialBatch(env, tasks, *taskTimeout)
	} else {
		rep, err = runConcurrentBatch(env, tasks, *timeout)
	}
	if err != nil {
		reportError(rootStderr, err, cfg.Verbose)
		return exitFailure
	}

	if outputModeFor(*jsonOut).isJSON() {
		_ = writeJSON(rootStdout, toReportJSON(rep))
	} else {
		newOutcomeRenderer(rootStdout).writeReport(rootStdout, rep)
	}
	if !rep.Complete() || rep.Failed() > 0 || len(rep.Orphaned) > 0 {
		return exitFailure
	}
	return exitOK
}

func runConcurrentBatch(env *taskEnv, tasks []tracker.Task, timeout time.Duration) (tracker.Report, error) {
	ids := make([]string, 0, len(tasks))
	var refused []tracker.Outcome
	for _, task := range tasks {
		sub, err := env.tracker.Submit(env.session, task.Type, task.Data, task.Options()...)
		if err != nil {
			env.logger.Warn("task not submitted", "task_type", task.Type, "error", err)
			refused = append(refused, tracker.Outcome{TaskType: task.Type, Status: stream.StatusFailed, Error: err.Error()})
			continue
		}
		ids = append(ids, sub.ClientTaskID)
	}
	rep, err := env.tracker.WaitBatch(context.Background(), ids, timeout)
	rep.Resolved = append(rep.Resolved, refused...)
	return rep, err
}

func runSequentialBatch(env *taskEnv, tasks []tracker.Task, taskTimeout time.Duration) (tracker.Report, error) {
	outcomes, err := tracker.NewSequential(env.tracker, env.session, taskTimeout).Run(context.Background(), tasks)
	if err != nil && !errors.Is(err, context.Canceled) {
		return tracker.Report{}, err
	}
	var rep tracker.Report
	for _, o := range outcomes {
		switch o.Status {
		case stream.StatusTimedOut:
			rep.TimedOut = append(rep.TimedOut, stream.Submission{ClientTaskID: o.ClientTaskID, TaskType: o.TaskType})
		case stream.StatusOrphaned:
			rep.Orphaned = append(rep.Orphaned, o)
		default:
			rep.Resolved = append(rep.Resolved, o)
		}
	}
	rep.Unattributable = env.tracker.Unattributable()
	return rep, nil
}

func runTaskPending(args []string, logger *slog.Logger) int {
	fs := newTaskFlagSet("task pending")
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(rootStderr, "Error: %v\n", err)
		return exitUsage
	}

	store, err := openJournal(logger)
	if err != nil {
		fmt.Fprintf(rootStderr, "Error: opening task journal: %v\n", err)
		return exitFailure
	}
	defer store.Close()

	rows, err := store.Pending(context.Background())
	if err != nil {
		fmt.Fprintf(rootStderr, "Error: reading task journal: %v\n", err)
		return exitFailure
	}

	if outputModeFor(*jsonOut).isJSON() {
		out := make([]outcomeJSON, 0, len(rows))
		for _, r := range rows {
			submitted := r.SubmittedAt.UTC()
			out = append(out, outcomeJSON{
				ClientTaskID: r.ClientTaskID,
				TaskID:       r.TaskID,
				TaskType:     r.TaskType,
				Status:       r.Status,
				At:           &submitted,
			})
		}
		_ = writeJSON(rootStdout, out)
		return exitOK
	}

	if len(rows) == 0 {
		fmt.Fprintln(rootStdout, "No pending tasks.")
		return exitOK
	}
	render := newOutcomeRenderer(rootStdout)
	for _, r := range rows {
		render.writeOutcome(rootStdout, tracker.Outcome{
			ClientTaskID: r.ClientTaskID,
			TaskID:       r.TaskID,
			TaskType:     r.TaskType,
			Status:       r.Status,
		})
	}
	return exitOK
}

func runTaskCancel(args []string, cfg *config.Config, logger *slog.Logger) int {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		fmt.Fprintln(rootStderr, "Error: task cancel requires a server task id")
		return exitUsage
	}
	env, err := startTaskEnv(cfg, logger)
	if err != nil {
		reportError(rootStderr, err, cfg.Verbose)
		return exitFailure
	}
	defer env.Close()

	if err := env.session.Cancel(args[0]); err != nil {
		reportError(rootStderr, err, cfg.Verbose)
		return exitFailure
	}
	return exitOK
}
