package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "ehrconsent/pkg/domain-errors"
)

var jwtService = NewJWTService(strings.Repeat("s", 32), "test-issuer")

const (
	subject    = "doctor-1"
	hospitalID = "hospital-1"
	expiresIn  = time.Hour
)

func Test_Issue(t *testing.T) {
	token, err := jwtService.Issue(subject, hospitalID, RoleDoctor, expiresIn)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtService.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, subject, claims.Subject)
	assert.Equal(t, hospitalID, claims.HospitalID)
	assert.Equal(t, RoleDoctor, claims.Role)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(expiresIn), claims.ExpiresAt.Time, time.Minute)
}

func Test_ValidateToken_Identity(t *testing.T) {
	token, err := jwtService.Issue("patient-1", "", RolePatient, expiresIn)
	require.NoError(t, err)

	identity, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "patient-1", identity.CallerID)
	assert.Empty(t, identity.HospitalID)
	assert.Equal(t, RolePatient, identity.Role)
}

func Test_Validate_InvalidToken(t *testing.T) {
	_, err := jwtService.Validate("invalid-token-string")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Validate_ExpiredToken(t *testing.T) {
	token, err := jwtService.Issue(subject, hospitalID, RoleDoctor, -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.Validate(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Contains(t, err.Error(), "expired")
}

func Test_Validate_WrongKey(t *testing.T) {
	other := NewJWTService(strings.Repeat("x", 32), "test-issuer")
	token, err := other.Issue(subject, hospitalID, RoleDoctor, expiresIn)
	require.NoError(t, err)

	_, err = jwtService.Validate(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Validate_WrongIssuer(t *testing.T) {
	other := NewJWTService(strings.Repeat("s", 32), "someone-else")
	token, err := other.Issue(subject, hospitalID, RoleDoctor, expiresIn)
	require.NoError(t, err)

	_, err = jwtService.Validate(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Validate_MissingSubject(t *testing.T) {
	token, err := jwtService.Issue("", hospitalID, RoleDoctor, expiresIn)
	require.NoError(t, err)

	_, err = jwtService.Validate(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Validate_RejectsOtherAlgorithms(t *testing.T) {
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = jwtService.Validate(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
