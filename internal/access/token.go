package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "warden"

var ErrInvalidToken = errors.New("invalid session token")

// TokenClaims are carried by session tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
}

func signSession(secret []byte, s Session) (string, error) {
	claims := TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   s.Username,
		ID:        s.ID,
		IssuedAt:  jwt.NewNumericDate(s.AuthenticatedAt),
		ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func parseSession(secret []byte, raw string, now func() time.Time) (TokenClaims, error) {
	var claims TokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
