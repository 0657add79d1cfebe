// Package dispatch picks the transport for a CLI invocation: a
// co-located native executable when one is installed, the framed RPC
// fallback otherwise.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"
)

// EnvNative overrides the native executable path.
const EnvNative = "OPENCLI_NATIVE"

var (
	executableFn  = os.Executable
	execCommandFn = exec.Command
)

// NativeName returns the platform-specific native binary name.
func NativeName(goos, goarch string) string {
	name := fmt.Sprintf("opencli-native-%s-%s", goos, goarch)
	if goos == "windows" {
		name += ".exe"
	}
	return name
}

// NativeNameForHost returns NativeName for the running platform.
func NativeNameForHost() string {
	return NativeName(runtime.GOOS, runtime.GOARCH)
}

// FindNative returns the native executable for this platform, or "" when
// none is usable. OPENCLI_NATIVE takes precedence over the binary next to
// the running executable.
func FindNative() string {
	if p := os.Getenv(EnvNative); p != "" {
		if isExecutable(p) {
			return p
		}
		return ""
	}
	self, err := executableFn()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(self); err == nil {
		self = resolved
	}
	candidate := filepath.Join(filepath.Dir(self), NativeNameForHost())
	if isExecutable(candidate) {
		return candidate
	}
	return ""
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}

// RunNative executes path with args and the caller's stdio and returns
// the child's exit code. A child killed by a signal yields 1.
func RunNative(path string, args []string, logger *slog.Logger) int {
	cmd := execCommandFn(path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return 1
	}
	if logger != nil {
		logger.Error("native executable failed to start", "path", path, "error", err)
	}
	fmt.Fprintf(os.Stderr, "Error: running %s: %v\n", path, err)
	return 1
}

// Main runs the native executable when available and otherwise calls
// fallback with the same arguments.
func Main(args []string, fallback func([]string) int) int {
	if native := FindNative(); native != "" {
		return RunNative(native, args, nil)
	}
	return fallback(args)
}
