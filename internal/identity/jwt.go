// Package identity validates caller identity tokens minted by the external
// authentication system. The consent core trusts the subject of these tokens as
// patientId / recipientId; it never verifies a person's identity itself.
package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "ehrconsent/pkg/domain-errors"
	authmw "ehrconsent/pkg/platform/middleware/auth"
)

// Roles carried in identity tokens.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleStaff   = "staff"
)

// Claims represents the identity token claims.
type Claims struct {
	HospitalID string `json:"hospital_id,omitempty"`
	Role       string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTService validates (and, for development tooling, issues) identity tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
}

func NewJWTService(signingKey string, issuer string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// Issue mints an identity token. Production identities come from the external
// auth system; this exists for local development and tests.
func (s *JWTService) Issue(subject, hospitalID, role string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		HospitalID: hospitalID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Validate parses and validates an identity token, including its expiry.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "identity token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid identity token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid identity token claims")
	}
	if claims.Subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "identity token has no subject")
	}
	return claims, nil
}

// ValidateToken adapts Validate to the auth middleware.
func (s *JWTService) ValidateToken(tokenString string) (*authmw.Identity, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.Identity{
		CallerID:   claims.Subject,
		HospitalID: claims.HospitalID,
		Role:       claims.Role,
	}, nil
}
