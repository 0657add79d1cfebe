// Package codec provides the compact binary map encoding used for unary
// RPC bodies.
//
// Bodies are CBOR maps keyed by field name. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2) so the same logical request
// always produces identical bytes; field order on the wire carries no
// meaning and the decoder accepts any order.
//
// Types that travel over the socket carry `cbor` struct tags. Streaming
// control messages are JSON and never pass through this package.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

// decMode decodes untyped maps as map[string]any so request context
// values stay usable with encoding/json.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose returns the CBOR diagnostic notation of data, used in
// verbose protocol error reports.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
