package stream

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newClientTaskID returns a time-ordered idempotency key for a submission.
func newClientTaskID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// SynthesizeTaskID builds the fallback identifier used when the server
// never assigns one: device id plus submission time in milliseconds.
func SynthesizeTaskID(deviceID string, submittedAt time.Time) string {
	return fmt.Sprintf("%s-%d", deviceID, submittedAt.UnixMilli())
}
