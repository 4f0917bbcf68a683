// Package keys derives independent signing keys from the single configured
// consent secret, so a QR payload can never verify as a consent token and
// vice versa.
package keys

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Purposes used as HKDF info strings. Changing one invalidates every credential
// signed under it.
const (
	PurposeConsentToken = "ehrconsent/consent-token/v1"
	PurposeQRPayload    = "ehrconsent/qr-payload/v1"
)

// MinSecretLength is the shortest master secret accepted.
const MinSecretLength = 32

// Derive expands master into a 32-byte key bound to purpose.
func Derive(master []byte, purpose string) ([]byte, error) {
	if len(master) < MinSecretLength {
		return nil, fmt.Errorf("master secret must be at least %d bytes", MinSecretLength)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return key, nil
}
