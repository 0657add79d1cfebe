package dispatch

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestNativeName(t *testing.T) {
	tests := []struct {
		goos, goarch, want string
	}{
		{"linux", "amd64", "opencli-native-linux-amd64"},
		{"darwin", "arm64", "opencli-native-darwin-arm64"},
		{"windows", "amd64", "opencli-native-windows-amd64.exe"},
	}
	for _, tt := range tests {
		if got := NativeName(tt.goos, tt.goarch); got != tt.want {
			t.Fatalf("NativeName(%q, %q) = %q, want %q", tt.goos, tt.goarch, got, tt.want)
		}
	}
}

func withExecutable(t *testing.T, path string) {
	t.Helper()
	old := executableFn
	executableFn = func() (string, error) { return path, nil }
	t.Cleanup(func() { executableFn = old })
}

func writeScript(t *testing.T, path, body string, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), mode); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestMainFallsBackWithoutNative(t *testing.T) {
	t.Setenv(EnvNative, "")
	dir := t.TempDir()
	withExecutable(t, filepath.Join(dir, "opencli"))

	oldExec := execCommandFn
	execCommandFn = func(name string, args ...string) *exec.Cmd {
		t.Fatalf("exec attempted for %q with no native binary present", name)
		return nil
	}
	defer func() { execCommandFn = oldExec }()

	var got []string
	code := Main([]string{"system.health"}, func(args []string) int {
		got = args
		return 7
	})
	if code != 7 {
		t.Fatalf("Main() = %d, want fallback exit 7", code)
	}
	if len(got) != 1 || got[0] != "system.health" {
		t.Fatalf("fallback args = %v, want [system.health]", got)
	}
}

func TestFindNativeIgnoresNonExecutable(t *testing.T) {
	t.Setenv(EnvNative, "")
	dir := t.TempDir()
	withExecutable(t, filepath.Join(dir, "opencli"))
	writeScript(t, filepath.Join(dir, NativeNameForHost()), "exit 0", 0o600)

	if got := FindNative(); got != "" {
		t.Fatalf("FindNative() = %q, want empty for non-executable file", got)
	}
}

func TestMainPropagatesNativeExitCode(t *testing.T) {
	t.Setenv(EnvNative, "")
	dir := t.TempDir()
	withExecutable(t, filepath.Join(dir, "opencli"))
	native := filepath.Join(dir, NativeNameForHost())
	writeScript(t, native, `[ "$1" = "ping" ] || exit 9
exit 42`, 0o755)

	if got := FindNative(); got != native {
		t.Fatalf("FindNative() = %q, want %q", got, native)
	}
	code := Main([]string{"ping"}, func([]string) int {
		t.Fatal("fallback used while native binary is present")
		return 0
	})
	if code != 42 {
		t.Fatalf("Main() = %d, want 42", code)
	}
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	withExecutable(t, filepath.Join(dir, "opencli"))
	custom := filepath.Join(dir, "custom-native")
	writeScript(t, custom, "exit 0", 0o755)

	t.Setenv(EnvNative, custom)
	if got := FindNative(); got != custom {
		t.Fatalf("FindNative() = %q, want %q", got, custom)
	}

	t.Setenv(EnvNative, filepath.Join(dir, "missing"))
	if got := FindNative(); got != "" {
		t.Fatalf("FindNative() with missing override = %q, want empty", got)
	}
}
