package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for authentication.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// JWTAuthenticator verifies HMAC-signed bearer tokens. Claims carry the
// subject and a "roles" list which Dispatch intersects with a route's
// allowed roles.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator creates a JWTAuthenticator with the shared secret.
func NewJWTAuthenticator(secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret}
}

// Authenticate extracts and verifies the Authorization header.
func (a *JWTAuthenticator) Authenticate(req *Request) (*Identity, error) {
	header := req.Headers["Authorization"]
	if header == "" {
		header = req.Headers["authorization"]
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	identity := &Identity{}
	if sub, err := claims.GetSubject(); err == nil {
		identity.Subject = sub
	}
	if rawRoles, ok := claims["roles"].([]any); ok {
		for _, r := range rawRoles {
			if role, ok := r.(string); ok {
				identity.Roles = append(identity.Roles, role)
			}
		}
	}
	return identity, nil
}
