// Package token signs and verifies consent tokens: compact HS256 JWTs binding a
// patient (sub), a recipient (aud), a scope set and a consent ID (jti).
//
// A verified token is never sufficient on its own; it must be cross-checked
// against the live ConsentRecord to honor revocation.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ehrconsent/internal/consent/models"
	dErrors "ehrconsent/pkg/domain-errors"
)

// ConsentClaims is the domain view of a consent token.
type ConsentClaims struct {
	ConsentID   string
	PatientID   string
	RecipientID string
	Scope       models.ScopeSet
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// jwtClaims is the wire format.
type jwtClaims struct {
	Scope []string `json:"scope"`
	jwt.RegisteredClaims
}

// Codec signs and verifies consent tokens with a server-held key.
type Codec struct {
	signingKey []byte
	issuer     string
}

func NewCodec(signingKey []byte, issuer string) *Codec {
	return &Codec{signingKey: signingKey, issuer: issuer}
}

// Sign produces a compact URL-safe token. Incomplete claims fail with
// CodeSigningError.
func (c *Codec) Sign(claims ConsentClaims) (string, error) {
	switch {
	case claims.ConsentID == "":
		return "", dErrors.New(dErrors.CodeSigningError, "claims missing jti")
	case claims.PatientID == "":
		return "", dErrors.New(dErrors.CodeSigningError, "claims missing subject")
	case claims.RecipientID == "":
		return "", dErrors.New(dErrors.CodeSigningError, "claims missing audience")
	case len(claims.Scope) == 0:
		return "", dErrors.New(dErrors.CodeSigningError, "claims missing scope")
	case claims.ExpiresAt.IsZero():
		return "", dErrors.New(dErrors.CodeSigningError, "claims missing expiry")
	}

	issuedAt := claims.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		Scope: claims.Scope.Strings(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   claims.PatientID,
			Audience:  jwt.ClaimStrings{claims.RecipientID},
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ID:        claims.ConsentID,
		},
	})

	signed, err := tok.SignedString(c.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeSigningError, "failed to sign consent token")
	}
	return signed, nil
}

// Verify checks structure and signature only. Expiry is left to the caller so
// "valid but expired" stays distinguishable from "never valid".
func (c *Codec) Verify(tokenString string) (*ConsentClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(t *jwt.Token) (interface{}, error) {
		return c.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed consent token")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidToken, "invalid consent token signature")
	}

	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeBadRequest, "malformed consent token claims")
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "consent token issuer mismatch")
	}
	if claims.ID == "" || claims.Subject == "" || len(claims.Audience) != 1 || claims.ExpiresAt == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "consent token is missing required claims")
	}
	scope, err := models.ParseScopes(claims.Scope)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "consent token carries an invalid scope")
	}

	out := &ConsentClaims{
		ConsentID:   claims.ID,
		PatientID:   claims.Subject,
		RecipientID: claims.Audience[0],
		Scope:       scope,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}
