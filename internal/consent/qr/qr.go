// Package qr encodes consent references into short signed payloads for QR codes
// and decodes scanned payloads back into consent IDs.
//
// A payload is a compact HS256 JWT: {"typ":"consent-qr","cid":...,"iat":...,"exp":...}.
// It is signed with a key derived separately from the consent-token key, so a
// payload can never be presented as a consent token. Rendering the QR image is
// left to clients.
package qr

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "ehrconsent/pkg/domain-errors"
)

const payloadType = "consent-qr"

// DefaultTTL bounds how long a displayed QR code stays scannable.
const DefaultTTL = 5 * time.Minute

type qrClaims struct {
	Type      string `json:"typ"`
	ConsentID string `json:"cid"`
	jwt.RegisteredClaims
}

// Payload is an encoded QR payload with its own expiry.
type Payload struct {
	Value     string
	ExpiresAt time.Time
}

// Codec signs and verifies QR payloads.
type Codec struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

// Option configures the Codec.
type Option func(*Codec)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock sets the clock used for issuing and checking expiry.
func WithClock(clock func() time.Time) Option {
	return func(c *Codec) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func NewCodec(key []byte, opts ...Option) *Codec {
	c := &Codec{key: key, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode wraps consentID in a signed payload. The payload never outlives the
// consent it references.
func (c *Codec) Encode(consentID string, consentExpiresAt time.Time) (*Payload, error) {
	if consentID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "consentId is required")
	}
	now := c.clock().Truncate(time.Second)
	expiresAt := now.Add(c.ttl)
	if !consentExpiresAt.IsZero() && consentExpiresAt.Before(expiresAt) {
		expiresAt = consentExpiresAt
	}
	if !expiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeExpired, "consent has expired")
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, qrClaims{
		Type:      payloadType,
		ConsentID: consentID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := tok.SignedString(c.key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSigningError, "failed to sign qr payload")
	}
	return &Payload{Value: signed, ExpiresAt: expiresAt}, nil
}

// Decode verifies a scanned payload's signature and its own expiry and returns
// the embedded consent ID. Any failure is CodeInvalidPayload.
func (c *Codec) Decode(payload string) (string, error) {
	if payload == "" {
		return "", dErrors.New(dErrors.CodeInvalidPayload, "qr payload is empty")
	}
	parsed, err := jwt.ParseWithClaims(payload, &qrClaims{}, func(t *jwt.Token) (interface{}, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", dErrors.Wrap(err, dErrors.CodeInvalidPayload, "qr payload has expired")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInvalidPayload, "qr payload is invalid")
	}
	claims, ok := parsed.Claims.(*qrClaims)
	if !ok || !parsed.Valid || claims.Type != payloadType || claims.ConsentID == "" {
		return "", dErrors.New(dErrors.CodeInvalidPayload, "qr payload is invalid")
	}
	return claims.ConsentID, nil
}
