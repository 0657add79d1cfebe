package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

var isTerminalFn = term.IsTerminal

// newLogger builds the process logger. Verbose mode logs at Debug,
// otherwise only warnings and errors are shown. A terminal gets text
// output; pipes get JSON.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	if isTTY(w) {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isTerminalFn(int(f.Fd()))
}
