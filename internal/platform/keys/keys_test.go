package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	master := []byte(strings.Repeat("s", MinSecretLength))

	t.Run("rejects short secrets", func(t *testing.T) {
		_, err := Derive([]byte("short"), PurposeConsentToken)
		require.Error(t, err)
	})

	t.Run("is deterministic per purpose", func(t *testing.T) {
		a, err := Derive(master, PurposeConsentToken)
		require.NoError(t, err)
		b, err := Derive(master, PurposeConsentToken)
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, 32)
	})

	t.Run("separates purposes", func(t *testing.T) {
		a, err := Derive(master, PurposeConsentToken)
		require.NoError(t, err)
		b, err := Derive(master, PurposeQRPayload)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}
