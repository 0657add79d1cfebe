package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/opencli/opencli/internal/codec"
	"github.com/opencli/opencli/internal/config"
	"github.com/opencli/opencli/internal/rpc"
)

const maxPayloadDump = 64

// reportError prints "Error: <message>". Verbose mode adds every wrapped
// cause and, for protocol errors, the offending payload.
func reportError(w io.Writer, err error, verbose bool) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if errors.Is(err, rpc.ErrDaemonNotRunning) {
		fmt.Fprintf(w, "Is the opencli daemon running? Start it or point %s at its socket.\n", config.EnvSocket)
	}
	if !verbose {
		return
	}

	walkCauses(err, 1, func(depth int, cause error) {
		fmt.Fprintf(w, "%*scaused by: %v\n", depth*2, "", cause)
	})

	var protoErr *rpc.ProtocolError
	if errors.As(err, &protoErr) && len(protoErr.Payload) > 0 {
		if diag, derr := codec.Diagnose(protoErr.Payload); derr == nil {
			fmt.Fprintf(w, "  payload: %s\n", diag)
			return
		}
		dump := protoErr.Payload
		if len(dump) > maxPayloadDump {
			dump = dump[:maxPayloadDump]
		}
		fmt.Fprintf(w, "  payload (%d bytes): %x\n", len(protoErr.Payload), dump)
	}
}

func walkCauses(err error, depth int, fn func(int, error)) {
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		if next := u.Unwrap(); next != nil {
			fn(depth, next)
			walkCauses(next, depth+1, fn)
		}
	case interface{ Unwrap() []error }:
		for _, next := range u.Unwrap() {
			fn(depth, next)
			walkCauses(next, depth+1, fn)
		}
	}
}
