package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opencli/opencli/internal/clock"
)

func TestTokenMatchesDigestDefinition(t *testing.T) {
	sum := sha256.Sum256([]byte("laptop:1700000000000:s3cret"))
	assert.Equal(t, hex.EncodeToString(sum[:]), Token("laptop", 1700000000000, "s3cret"))
}

func TestTokenIsDeterministic(t *testing.T) {
	a := Token("dev", 42, "secret")
	for i := 0; i < 10; i++ {
		assert.Equal(t, a, Token("dev", 42, "secret"))
	}
	assert.Len(t, a, 64)
}

func TestTokenChangesWithEachInput(t *testing.T) {
	base := Token("dev", 42, "secret")
	assert.NotEqual(t, base, Token("dev2", 42, "secret"))
	assert.NotEqual(t, base, Token("dev", 43, "secret"))
	assert.NotEqual(t, base, Token("dev", 42, "secret2"))
}

func TestStampRawAndBucketed(t *testing.T) {
	now := time.UnixMilli(1_700_000_012_345)
	assert.EqualValues(t, 1_700_000_012_345, Stamp(now, 0))
	assert.EqualValues(t, 1_700_000_010_000, Stamp(now, 30*time.Second))
	assert.EqualValues(t, 1_700_000_012_000, Stamp(now, time.Second))
}

func TestSignerUsesClockAndWindow(t *testing.T) {
	fake := clock.Fake(time.UnixMilli(1_700_000_012_345))
	s := Signer{DeviceID: "dev", Secret: "k", Clock: fake}

	raw := s.Sign()
	assert.EqualValues(t, 1_700_000_012_345, raw.Timestamp)
	assert.True(t, Verify("dev", raw.Timestamp, "k", raw.Token))

	alt := s.Alternate()
	assert.Equal(t, DefaultBucket, alt.Window)
	bucketed := alt.Sign()
	assert.EqualValues(t, 1_700_000_010_000, bucketed.Timestamp)
	assert.Zero(t, alt.Alternate().Window)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok := Token("dev", 1, "right")
	assert.False(t, Verify("dev", 1, "wrong", tok))
	assert.False(t, Verify("dev", 1, "right", tok[:10]))
}
