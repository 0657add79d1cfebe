//go:build darwin

package rpctest

import (
	"errors"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// peerUIDMatchesCurrentUser rejects harness clients owned by another user,
// mirroring the daemon's socket policy.
func peerUIDMatchesCurrentUser(conn net.Conn) (bool, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return false, errors.New("peer credentials: not a unix socket")
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return false, err
	}

	var cred *unix.Xucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
	}); err != nil {
		return false, err
	}
	if credErr != nil {
		return false, credErr
	}
	return cred.Uid == uint32(os.Getuid()), nil
}
