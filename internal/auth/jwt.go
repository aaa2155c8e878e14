package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is set on every token this service signs.
const Issuer = "torque-notifications"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
	// ErrSubjectMismatch means a token issued for one user was presented for
	// another user's resource.
	ErrSubjectMismatch = errors.New("token subject does not match user")
)

// Claims is the payload of a webhook token. Subject carries the user id the
// task was issued for; operator tokens may leave it empty.
type Claims struct {
	jwt.RegisteredClaims
}

// Sign returns an HS256 token for subject valid for ttl from now.
func Sign(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses an HS256 token and checks its signature and expiry.
func Verify(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Allows reports whether claims may act on userID. Tokens without a subject
// are operator tokens and may act on any user; nil claims mean auth is off.
func Allows(claims *Claims, userID string) error {
	if claims == nil || claims.Subject == "" || claims.Subject == userID {
		return nil
	}
	return ErrSubjectMismatch
}

// FromHeader extracts the token from an "Authorization: Bearer ..." value.
func FromHeader(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	tok, found := strings.CutPrefix(header, "Bearer ")
	if !found || tok == "" {
		return "", ErrInvalidToken
	}
	return tok, nil
}
