// Package daemon probes the local RPC daemon and, when nothing is
// listening, starts it detached. It never waits for the new daemon to
// become ready; callers retry on their own schedule.
package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/opencli/opencli/internal/paths"
	"github.com/opencli/opencli/internal/rpc"
)

const (
	// HealthMethod is the RPC used to probe liveness.
	HealthMethod = "system.health"
	// HealthTimeout bounds the probe.
	HealthTimeout = time.Second

	// spawnCooldown suppresses repeat spawns while a freshly started
	// daemon is still binding its socket.
	spawnCooldown = 5 * time.Second
)

var (
	probeFn            = probe
	spawnDaemonFn      = spawnDaemon
	acquireSpawnLockFn = acquireSpawnLock
	execCommandFn      = exec.Command
	nowFn              = time.Now
)

// ErrBinaryMissing is returned when the configured daemon path is not an
// executable file.
var ErrBinaryMissing = errors.New("daemon binary not found")

// Health calls system.health with a short timeout.
func Health(client *rpc.Client) error {
	return probeFn(client)
}

func probe(client *rpc.Client) error {
	_, err := client.Call(HealthMethod, nil, HealthTimeout)
	return err
}

// EnsureRunning probes the daemon behind client and spawns daemonPath
// when the probe reports rpc.ErrDaemonNotRunning. Other probe failures
// mean something is listening and are left to the real call. It reports
// whether a spawn happened.
func EnsureRunning(client *rpc.Client, daemonPath string, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	err := probeFn(client)
	if err == nil || !errors.Is(err, rpc.ErrDaemonNotRunning) {
		return false, nil
	}

	if err := paths.EnsureDir(paths.RuntimeDir()); err != nil {
		return false, fmt.Errorf("creating runtime dir: %w", err)
	}
	releaseLock, err := acquireSpawnLockFn(paths.LockPath())
	if err != nil {
		return false, fmt.Errorf("acquiring daemon lock: %w", err)
	}
	defer releaseLock() //nolint:errcheck

	// Another process may have spawned while we waited for the lock.
	if err := probeFn(client); err == nil || !errors.Is(err, rpc.ErrDaemonNotRunning) {
		return false, nil
	}
	if last, ok := lastSpawn(); ok && nowFn().Sub(last) < spawnCooldown {
		logger.Debug("daemon spawn already in progress", "since", last)
		return false, nil
	}

	if err := spawnDaemonFn(daemonPath, client.SocketPath()); err != nil {
		return false, err
	}
	recordSpawn()
	logger.Info("spawned daemon", "path", daemonPath, "socket", client.SocketPath())
	return true, nil
}

func stampPath() string {
	return filepath.Join(paths.RuntimeDir(), "spawn.stamp")
}

func lastSpawn() (time.Time, bool) {
	data, err := os.ReadFile(stampPath())
	if err != nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func recordSpawn() {
	_ = os.WriteFile(stampPath(), []byte(strconv.FormatInt(nowFn().UnixMilli(), 10)+"\n"), 0o600)
}

func acquireSpawnLock(path string) (func() error, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	return func() error {
		unlockErr := unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		closeErr := lockFile.Close()
		if unlockErr != nil {
			return unlockErr
		}
		return closeErr
	}, nil
}

func spawnDaemon(daemonPath, socketPath string) error {
	if err := checkExecutable(daemonPath); err != nil {
		return err
	}

	cmd, cleanup, err := newDaemonCommand(daemonPath, socketPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning daemon: %w", err)
	}

	// Detach: don't wait for the daemon process
	go cmd.Wait() //nolint: errcheck
	return nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w at %s", ErrBinaryMissing, path)
	}
	if err := unix.Access(path, unix.X_OK); err != nil {
		return fmt.Errorf("%w at %s: not executable", ErrBinaryMissing, path)
	}
	return nil
}

func newDaemonCommand(daemonPath, socketPath string) (*exec.Cmd, func(), error) {
	cmd := execCommandFn(daemonPath)
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", os.DevNull, err)
	}

	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Env = append(os.Environ(), "OPENCLI_SOCKET="+socketPath)
	// New session: the daemon survives the invoking terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd, func() {
		_ = devNull.Close()
	}, nil
}
