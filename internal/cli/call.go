package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/opencli/opencli/internal/config"
	"github.com/opencli/opencli/internal/daemon"
	"github.com/opencli/opencli/internal/rpc"
)

var ensureDaemonFn = daemon.EnsureRunning

// dialDaemon returns an RPC client, starting the daemon first when it is
// not running and auto-spawn is enabled.
func dialDaemon(cfg *config.Config, logger *slog.Logger) *rpc.Client {
	client := rpc.NewClient(cfg.RPC.Socket,
		rpc.WithLogger(logger),
		rpc.WithDefaultTimeout(cfg.RPC.Timeout()),
	)

	if cfg.Daemon.AutoSpawnEnabled() {
		spawned, err := ensureDaemonFn(client, cfg.Daemon.Path, logger)
		switch {
		case err != nil:
			logger.Warn("daemon auto-spawn failed", "error", err)
		case spawned:
			logger.Info("daemon was not running; started it in the background")
		}
	}
	return client
}

// runCall performs one unary RPC and prints its result.
func runCall(cfg *config.Config, logger *slog.Logger, method string, params []string) int {
	client := dialDaemon(cfg, logger)
	resp, err := client.Call(method, params, 0)
	if err != nil {
		reportError(rootStderr, err, cfg.Verbose)
		return exitFailure
	}
	logger.Debug("call complete", "method", method, "duration_us", resp.DurationUS, "cached", resp.Cached)

	out := resp.Result
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	fmt.Fprint(rootStdout, out)
	return exitOK
}
