package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/opencli/opencli/internal/config"
	"github.com/opencli/opencli/internal/mcpbridge"
	"github.com/opencli/opencli/internal/stream/streamtest"
)

func stubServeMCP(t *testing.T, err error) *int {
	t.Helper()
	old := serveMCPFn
	tools := new(int)
	serveMCPFn = func(b *mcpbridge.Bridge, version string) error {
		*tools = len(b.Server(version).ListTools())
		return err
	}
	t.Cleanup(func() { serveMCPFn = old })
	return tools
}

func TestMCPWithoutSecretOffersCallOnly(t *testing.T) {
	captureOutput(t)
	useConfig(t, noAutoSpawn(config.Default()))
	tools := stubServeMCP(t, nil)

	if code := Run([]string{"mcp"}); code != exitOK {
		t.Fatalf("Run(mcp) = %d, want %d", code, exitOK)
	}
	if *tools != 1 {
		t.Fatalf("tools = %d, want 1", *tools)
	}
}

func TestMCPWithSessionOffersTaskTool(t *testing.T) {
	srv := streamtest.NewServer(taskSecret)
	defer srv.Close()
	captureOutput(t)
	useConfig(t, taskConfig(t, srv))
	tools := stubServeMCP(t, nil)

	if code := Run([]string{"mcp"}); code != exitOK {
		t.Fatalf("Run(mcp) = %d, want %d", code, exitOK)
	}
	if *tools != 2 {
		t.Fatalf("tools = %d, want 2", *tools)
	}
}

func TestMCPServeErrorExitsNonZero(t *testing.T) {
	_, errOut := captureOutput(t)
	useConfig(t, noAutoSpawn(config.Default()))
	stubServeMCP(t, errors.New("stdin closed"))

	if code := Run([]string{"mcp"}); code != exitFailure {
		t.Fatalf("Run(mcp) = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(errOut.String(), "stdin closed") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestMCPRejectsArguments(t *testing.T) {
	captureOutput(t)
	useConfig(t, noAutoSpawn(config.Default()))
	if code := Run([]string{"mcp", "extra"}); code != exitUsage {
		t.Fatalf("Run(mcp extra) = %d, want %d", code, exitUsage)
	}
}
