package cli

import (
	"fmt"
	"log/slog"

	"github.com/opencli/opencli/internal/config"
	"github.com/opencli/opencli/internal/mcpbridge"
	"github.com/opencli/opencli/internal/tracker"
)

var serveMCPFn = func(b *mcpbridge.Bridge, version string) error {
	return b.ServeStdio(version)
}

// runMCPCommand serves the RPC surface, and task submission when a
// stream secret is configured, as an MCP server on stdio.
func runMCPCommand(args []string, cfg *config.Config, logger *slog.Logger) int {
	if len(args) > 0 {
		if args[0] == "--help" || args[0] == "-h" {
			fmt.Fprintln(rootStdout, "Usage: opencli mcp")
			fmt.Fprintln(rootStdout, "Serves opencli as an MCP server over stdio.")
			return exitOK
		}
		fmt.Fprintf(rootStderr, "Error: unexpected argument %q\n", args[0])
		return exitUsage
	}

	client := dialDaemon(cfg, logger)

	var (
		t   *tracker.Tracker
		sub tracker.Submitter
	)
	if cfg.Stream.Secret != "" {
		env, err := startTaskEnv(cfg, logger)
		if err != nil {
			logger.Warn("task tools disabled", "error", err)
		} else {
			defer env.Close()
			t, sub = env.tracker, env.session
		}
	}

	if err := serveMCPFn(mcpbridge.New(client, t, sub, logger), buildVersion); err != nil {
		reportError(rootStderr, err, cfg.Verbose)
		return exitFailure
	}
	return exitOK
}
