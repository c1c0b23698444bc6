// Package auth validates the JWT carried by websocket clients. Tokens are
// issued by the external account service; this package only verifies the
// HMAC signature and extracts the user id claim.
package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAnonymous is returned when the request carries no token at all.
var ErrAnonymous = errors.New("auth: no token provided")

// Claims is the payload of an access token. The account service sets
// user_id on every token it issues.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier checks access tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token string and returns the user id.
func (v *Verifier) Verify(tokenString string) (int64, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("auth: parse token: %w", err)
	}
	if !token.Valid || claims.UserID == 0 {
		return 0, errors.New("auth: invalid token claims")
	}
	return claims.UserID, nil
}

// FromRequest authenticates a websocket upgrade request. The token travels
// in the "token" query parameter (browsers cannot set headers on websocket
// handshakes). Returns ErrAnonymous when the parameter is absent.
func (v *Verifier) FromRequest(r *http.Request) (int64, error) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		return 0, ErrAnonymous
	}
	return v.Verify(tokenString)
}
