package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/opencli/opencli/internal/config"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var loadConfigFn = config.Load

// Run is the main CLI entry point. Returns an exit code.
func Run(args []string) int {
	if handled, code := handleRootFlags(args); handled {
		return code
	}

	var g globalFlags
	fs := newGlobalFlagSet(&g)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printRootHelp(rootStdout)
			return exitOK
		}
		fmt.Fprintf(rootStderr, "Error: %v\n", err)
		return exitUsage
	}
	if g.help {
		printRootHelp(rootStdout)
		return exitOK
	}
	if g.version {
		fmt.Fprintf(rootStdout, "opencli %s\n", buildVersion)
		return exitOK
	}

	cfg, err := loadConfigFn()
	if err != nil {
		reportError(rootStderr, err, g.verbose)
		return exitFailure
	}
	if err := g.apply(cfg); err != nil {
		fmt.Fprintf(rootStderr, "Error: %v\n", err)
		return exitUsage
	}
	if verr := config.Validate(cfg); verr != nil {
		fmt.Fprintf(rootStderr, "Error: invalid config: %v\n", verr)
		return exitUsage
	}

	logger := newLogger(rootStderr, cfg.Verbose)
	rest := fs.Args()
	if len(rest) == 0 {
		printRootHelp(rootStderr)
		return exitUsage
	}

	if handled, code := maybeHandleSubcommand(rest, cfg, logger); handled {
		return code
	}
	return runCall(cfg, logger, rest[0], rest[1:])
}

func maybeHandleSubcommand(args []string, cfg *config.Config, logger *slog.Logger) (bool, int) {
	switch args[0] {
	case "task":
		return true, runTaskCommand(args[1:], cfg, logger)
	case "mcp":
		return true, runMCPCommand(args[1:], cfg, logger)
	case "config":
		return true, runConfigCommand(args[1:], cfg)
	case "completion":
		return true, runCompletionCommand(args[1:], rootStdout, rootStderr)
	case "__complete":
		return true, runInternalCompletion(args[1:], cfg, rootStdout, rootStderr)
	default:
		return false, 0
	}
}
