package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/opencli/opencli/internal/config"
)

func runCompletionCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "opencli: usage: opencli completion <bash|zsh|fish>")
		return exitUsage
	}

	script, ok := completionScripts[strings.ToLower(args[0])]
	if !ok {
		fmt.Fprintf(stderr, "opencli: unknown shell for completion: %s\n", args[0])
		return exitUsage
	}

	_, _ = io.WriteString(stdout, script)
	return exitOK
}

func runInternalCompletion(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "opencli: usage: opencli __complete <task-types|task-flags> ...")
		return exitUsage
	}

	switch args[0] {
	case "task-types":
		if len(args) != 1 {
			fmt.Fprintln(stderr, "opencli: usage: opencli __complete task-types")
			return exitUsage
		}
		return completeTaskTypes(cfg, stdout)
	case "task-flags":
		if len(args) != 3 {
			fmt.Fprintln(stderr, "opencli: usage: opencli __complete task-flags <submit|batch|pending> <type>")
			return exitUsage
		}
		return completeTaskFlags(cfg, args[1], args[2], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "opencli: unknown completion query: %s\n", args[0])
		return exitUsage
	}
}
