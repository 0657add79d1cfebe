// Package auth derives the challenge token a device presents when it
// opens a streaming session.
//
//	token = hex(SHA256(device_id + ":" + timestamp + ":" + secret))
//
// The timestamp is milliseconds since the epoch, either raw or bucketed
// to a fixed window. Both sides must use the same convention; Signer
// carries the choice and can produce the opposite one for a retry.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/opencli/opencli/internal/clock"
)

// Token returns the hex-encoded digest for the three inputs.
func Token(deviceID string, timestamp int64, secret string) string {
	sum := sha256.Sum256([]byte(deviceID + ":" + strconv.FormatInt(timestamp, 10) + ":" + secret))
	return hex.EncodeToString(sum[:])
}

// Stamp converts now to the timestamp that is hashed and sent. A zero
// window yields raw milliseconds; otherwise the value is floored to the
// start of its window.
func Stamp(now time.Time, window time.Duration) int64 {
	ms := now.UnixMilli()
	w := window.Milliseconds()
	if w <= 0 {
		return ms
	}
	return ms - ms%w
}

// DefaultBucket is the window tried when the raw convention is rejected.
const DefaultBucket = 30 * time.Second

// Signer produces credentials for one device.
type Signer struct {
	DeviceID string
	Secret   string
	Window   time.Duration
	Clock    clock.Clock
}

// Credentials is what goes into an auth message.
type Credentials struct {
	Token     string
	Timestamp int64
}

// Sign stamps the current time and derives the token for it.
func (s Signer) Sign() Credentials {
	c := s.Clock
	if c == nil {
		c = clock.Real()
	}
	ts := Stamp(c.Now(), s.Window)
	return Credentials{Token: Token(s.DeviceID, ts, s.Secret), Timestamp: ts}
}

// Alternate returns a signer using the other timestamp convention:
// bucketed when s is raw, raw when s is bucketed.
func (s Signer) Alternate() Signer {
	alt := s
	if s.Window > 0 {
		alt.Window = 0
	} else {
		alt.Window = DefaultBucket
	}
	return alt
}

// Verify recomputes the token for the presented fields. Servers and test
// harnesses use it; clients never need to.
func Verify(deviceID string, timestamp int64, secret, token string) bool {
	want := Token(deviceID, timestamp, secret)
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}
