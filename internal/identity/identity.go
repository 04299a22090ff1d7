// Package identity resolves the caller principal for API requests.
//
// Callers present an HS256 bearer token whose subject is their address.
// Role checks (owner, governor, backend, session user) stay inside the
// engine; this layer only authenticates who is calling.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DevAddressHeader carries the caller address when no JWT secret is
// configured. Development only.
const DevAddressHeader = "X-Caller-Address"

type contextKey int

const addressKey contextKey = iota

// Claims is the JWT payload issued to principals by the deployment's token
// service.
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// AddressFromContext extracts the authenticated caller address, empty when
// the request was anonymous.
func AddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(addressKey).(string); ok {
		return v
	}
	return ""
}

// WithAddress returns a context carrying the caller address. Used by tests
// and internal callers.
func WithAddress(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, addressKey, address)
}

// IssueToken signs a bearer token for an address. Exposed for tooling and
// tests.
func IssueToken(secret []byte, address string, ttl time.Duration) (string, error) {
	claims := &Claims{
		Address: address,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func parseToken(secret []byte, raw string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	address := claims.Address
	if address == "" {
		address = claims.Subject
	}
	if address == "" {
		return "", fmt.Errorf("token carries no address")
	}
	return address, nil
}

// Middleware authenticates the caller and injects the address into the
// request context. With an empty secret (development) the address is taken
// from the DevAddressHeader instead.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var address string

			if len(secret) == 0 {
				address = strings.TrimSpace(r.Header.Get(DevAddressHeader))
			} else if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				parsed, err := parseToken(secret, strings.TrimPrefix(auth, "Bearer "))
				if err != nil {
					http.Error(w, `{"error":"invalid bearer token"}`, http.StatusUnauthorized)
					return
				}
				address = parsed
			}

			next.ServeHTTP(w, r.WithContext(WithAddress(r.Context(), address)))
		})
	}
}
