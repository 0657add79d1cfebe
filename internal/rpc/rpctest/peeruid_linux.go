//go:build linux

package rpctest

import (
	"errors"
	"net"
	"os"
	"syscall"
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

	var cred *syscall.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = syscall.GetsockoptUcred(int(fd), syscall.SOL_SOCKET, syscall.SO_PEERCRED)
	}); err != nil {
		return false, err
	}
	if credErr != nil {
		return false, credErr
	}
	return cred.Uid == uint32(os.Getuid()), nil
}
