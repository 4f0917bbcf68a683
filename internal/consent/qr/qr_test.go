package qr

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "ehrconsent/pkg/domain-errors"
)

var testKey = []byte(strings.Repeat("q", 32))

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec(testKey)

	payload, err := codec.Encode("consent-123", time.Now().Add(time.Hour))
	require.NoError(t, err)

	got, err := codec.Decode(payload.Value)
	require.NoError(t, err)
	assert.Equal(t, "consent-123", got)
}

func TestCodec_PayloadExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	codec := NewCodec(testKey, WithTTL(5*time.Minute), WithClock(clock))

	t.Run("capped by configured ttl", func(t *testing.T) {
		payload, err := codec.Encode("c-1", now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, now.Add(5*time.Minute), payload.ExpiresAt)
	})

	t.Run("never outlives the consent", func(t *testing.T) {
		payload, err := codec.Encode("c-1", now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, now.Add(time.Minute), payload.ExpiresAt)
	})

	t.Run("expired consent cannot be encoded", func(t *testing.T) {
		_, err := codec.Encode("c-1", now.Add(-time.Minute))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeExpired))
	})

	t.Run("expired payload fails decode", func(t *testing.T) {
		payload, err := codec.Encode("c-1", now.Add(time.Hour))
		require.NoError(t, err)

		later := NewCodec(testKey, WithClock(func() time.Time { return now.Add(10 * time.Minute) }))
		_, err = later.Decode(payload.Value)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidPayload))
	})
}

func TestCodec_RejectsTampering(t *testing.T) {
	codec := NewCodec(testKey)
	payload, err := codec.Encode("consent-123", time.Time{})
	require.NoError(t, err)

	parts := strings.Split(payload.Value, ".")
	require.Len(t, parts, 3)

	tampered := []string{
		parts[0] + "." + parts[1] + "x." + parts[2],
		parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2])),
		"garbage",
	}
	for _, p := range tampered {
		_, err := codec.Decode(p)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidPayload))
	}

	t.Run("payload signed with another key is rejected", func(t *testing.T) {
		other := NewCodec([]byte(strings.Repeat("z", 32)))
		foreign, err := other.Encode("consent-123", time.Time{})
		require.NoError(t, err)
		_, err = codec.Decode(foreign.Value)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidPayload))
	})
}
