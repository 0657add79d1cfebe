package cli

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/opencli/opencli/internal/config"
	"github.com/opencli/opencli/internal/rpc"
	"github.com/opencli/opencli/internal/rpc/rpctest"
)

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	oldOut, oldErr := rootStdout, rootStderr
	var out, errOut bytes.Buffer
	rootStdout, rootStderr = &out, &errOut
	t.Cleanup(func() {
		rootStdout, rootStderr = oldOut, oldErr
	})
	return &out, &errOut
}

// useConfig makes Run load cfg instead of the user's config file.
func useConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	old := loadConfigFn
	loadConfigFn = func() (*config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfigFn = old })
}

func noAutoSpawn(cfg *config.Config) *config.Config {
	off := false
	cfg.Daemon.AutoSpawn = &off
	return cfg
}

func TestHandleRootFlagsVersion(t *testing.T) {
	oldVersion := buildVersion
	defer func() { buildVersion = oldVersion }()
	out, errOut := captureOutput(t)

	buildVersion = "1.2.3"
	handled, code := handleRootFlags([]string{"--version"})
	if !handled {
		t.Fatal("handled = false, want true")
	}
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if out.String() != "opencli 1.2.3\n" {
		t.Fatalf("output = %q, want %q", out.String(), "opencli 1.2.3\n")
	}
	if errOut.Len() != 0 {
		t.Fatalf("stderr = %q, want empty", errOut.String())
	}
}

func TestHandleRootFlagsIgnoresNonGlobal(t *testing.T) {
	handled, _ := handleRootFlags([]string{"system.health"})
	if handled {
		t.Fatal("handled = true, want false")
	}
}

func TestHandleRootFlagsHelp(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	out, _ := captureOutput(t)

	handled, code := handleRootFlags([]string{"--help"})
	if !handled || code != 0 {
		t.Fatalf("handleRootFlags(--help) = %v, %d; want true, 0", handled, code)
	}
	for _, want := range []string{"opencli task submit", config.EnvSecret, "config.toml"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("help output missing %q: %q", want, out.String())
		}
	}
}

func TestResolveBuildVersionHonorsInjectedValue(t *testing.T) {
	if got := resolveBuildVersion("9.9.9"); got != "9.9.9" {
		t.Fatalf("resolveBuildVersion() = %q, want %q", got, "9.9.9")
	}
}

func TestRunWithoutMethodPrintsUsage(t *testing.T) {
	_, errOut := captureOutput(t)
	useConfig(t, noAutoSpawn(config.Default()))

	if code := Run(nil); code != exitUsage {
		t.Fatalf("Run() = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(errOut.String(), "Usage:") {
		t.Fatalf("stderr = %q, want usage", errOut.String())
	}
}

func TestRunRejectsNegativeTimeout(t *testing.T) {
	_, errOut := captureOutput(t)
	useConfig(t, noAutoSpawn(config.Default()))

	if code := Run([]string{"--timeout", "-5", "system.health"}); code != exitUsage {
		t.Fatalf("Run() = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(errOut.String(), "--timeout must be > 0") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestRunCallPrintsResult(t *testing.T) {
	srv, err := rpctest.NewServer(func(_ context.Context, req *rpc.Request) *rpc.Response {
		return &rpc.Response{Success: true, Result: req.Method + ":" + strings.Join(req.Params, ","), RequestID: req.RequestID}
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer srv.Close()
	out, _ := captureOutput(t)
	useConfig(t, noAutoSpawn(config.Default()))

	code := Run([]string{"--socket", srv.SocketPath, "fs.read", "a", "b c"})
	if code != exitOK {
		t.Fatalf("Run() = %d, want %d", code, exitOK)
	}
	if out.String() != "fs.read:a,b c\n" {
		t.Fatalf("stdout = %q, want %q", out.String(), "fs.read:a,b c\n")
	}
}

func TestRunCallReportsDaemonError(t *testing.T) {
	srv, err := rpctest.NewServer(func(_ context.Context, req *rpc.Request) *rpc.Response {
		return &rpc.Response{Success: false, Error: "no such method", RequestID: req.RequestID}
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer srv.Close()
	out, errOut := captureOutput(t)
	useConfig(t, noAutoSpawn(config.Default()))

	if code := Run([]string{"--socket", srv.SocketPath, "nope"}); code != exitFailure {
		t.Fatalf("Run() = %d, want %d", code, exitFailure)
	}
	if out.Len() != 0 {
		t.Fatalf("stdout = %q, want empty", out.String())
	}
	if !strings.HasPrefix(errOut.String(), "Error: no such method\n") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestRunCallWithoutDaemonPrintsHint(t *testing.T) {
	_, errOut := captureOutput(t)
	useConfig(t, noAutoSpawn(config.Default()))

	code := Run([]string{"--socket", t.TempDir() + "/missing.sock", "system.health"})
	if code != exitFailure {
		t.Fatalf("Run() = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(errOut.String(), "Is the opencli daemon running?") {
		t.Fatalf("stderr = %q, want daemon hint", errOut.String())
	}
}

func TestRunCallAttemptsAutoSpawn(t *testing.T) {
	srv, err := rpctest.NewServer(func(_ context.Context, req *rpc.Request) *rpc.Response {
		return &rpc.Response{Success: true, Result: "ok", RequestID: req.RequestID}
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer srv.Close()
	captureOutput(t)
	cfg := config.Default()
	cfg.Daemon.Path = "/opt/opencli/daemon"
	useConfig(t, cfg)

	old := ensureDaemonFn
	defer func() { ensureDaemonFn = old }()
	var gotPath string
	ensureDaemonFn = func(client *rpc.Client, daemonPath string, _ *slog.Logger) (bool, error) {
		gotPath = daemonPath
		if client.SocketPath() != srv.SocketPath {
			t.Fatalf("client socket = %q, want %q", client.SocketPath(), srv.SocketPath)
		}
		return false, nil
	}

	if code := Run([]string{"--socket", srv.SocketPath, "system.health"}); code != exitOK {
		t.Fatalf("Run() = %d, want %d", code, exitOK)
	}
	if gotPath != "/opt/opencli/daemon" {
		t.Fatalf("ensureDaemon path = %q, want %q", gotPath, "/opt/opencli/daemon")
	}
}

func TestRunUnknownSubcommandFallsThroughToCall(t *testing.T) {
	handled, _ := maybeHandleSubcommand([]string{"system.health"}, config.Default(), slog.New(slog.DiscardHandler))
	if handled {
		t.Fatal("handled = true, want false")
	}
}
