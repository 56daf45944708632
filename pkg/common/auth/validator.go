// Package auth issues and validates the HS256 bearer tokens that guard the
// proxy's admin API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default auth configuration
const (
	DefaultAuthHeader = "Authorization"
	DefaultAuthScheme = "Bearer"
	Issuer            = "fogproxy"
)

// Errors
var (
	ErrNoAuthHeader      = errors.New("no authorization header")
	ErrInvalidScheme     = errors.New("invalid authorization scheme")
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenRevoked      = errors.New("token has been revoked")
	ErrMissingJTI        = errors.New("token missing jti claim")
	ErrMissingPermission = errors.New("missing required permission")
	ErrMissingIssuedAt   = errors.New("token missing iat claim")
	ErrLifetimeTooLong   = errors.New("token lifetime exceeds the maximum")
)

type contextKey struct{}

// Authenticator defines the interface for authentication middleware
type Authenticator interface {
	Middleware(next http.Handler) http.Handler
}

// JWTValidator checks bearer tokens signed with a shared secret.
type JWTValidator struct {
	Header      string
	Scheme      string
	Secret      []byte
	Revocations *RevocationList
	Permissions []Permission
	// MaxLifetime rejects tokens whose exp lies further than this after
	// their iat. Zero disables the check.
	MaxLifetime time.Duration
}

var _ Authenticator = (*JWTValidator)(nil)

// NewJWTValidator creates a validator that requires every permission given.
// revocations may be nil. With a revocation list, tokens may not live longer
// than the list keeps revocations.
func NewJWTValidator(secret []byte, revocations *RevocationList, permissions ...Permission) *JWTValidator {
	v := &JWTValidator{
		Header:      DefaultAuthHeader,
		Scheme:      DefaultAuthScheme,
		Secret:      secret,
		Revocations: revocations,
		Permissions: permissions,
	}
	if revocations != nil {
		v.MaxLifetime = revocations.MaxLifetime()
	}
	return v
}

// Require returns a copy of v that additionally requires permissions.
func (v *JWTValidator) Require(permissions ...Permission) *JWTValidator {
	clone := *v
	clone.Permissions = append(append([]Permission(nil), v.Permissions...), permissions...)
	return &clone
}

// ExtractToken extracts the token from the request
func (v *JWTValidator) ExtractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get(v.Header)
	if authHeader == "" {
		return "", ErrNoAuthHeader
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, v.Scheme) || strings.TrimSpace(token) == "" {
		return "", ErrInvalidScheme
	}
	return strings.TrimSpace(token), nil
}

// ValidateToken verifies signature, issuer, expiry and lifetime of
// tokenStr, then checks revocation and the required permissions.
func (v *JWTValidator) ValidateToken(tokenStr string) (*jwt.Token, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return v.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	jti, ok := claims["jti"].(string)
	if !ok || jti == "" {
		return nil, ErrMissingJTI
	}
	if err := v.checkLifetime(claims); err != nil {
		return nil, err
	}
	if v.Revocations != nil {
		if err := v.Revocations.Check(jti); err != nil {
			return nil, err
		}
	}
	for _, perm := range v.Permissions {
		if !perm.Check(claims) {
			return nil, fmt.Errorf("%w: %s", ErrMissingPermission, perm)
		}
	}
	return token, nil
}

// checkLifetime bounds exp - iat so that a revocation, which is kept for
// at most MaxLifetime, always outlives the token it revokes.
func (v *JWTValidator) checkLifetime(claims jwt.MapClaims) error {
	if v.MaxLifetime <= 0 {
		return nil
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return ErrMissingIssuedAt
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return ErrInvalidToken
	}
	if lifetime := exp.Sub(iat.Time); lifetime > v.MaxLifetime {
		return fmt.Errorf("%w: %v > %v", ErrLifetimeTooLong, lifetime, v.MaxLifetime)
	}
	return nil
}

// Middleware rejects requests without a valid token with 401, or 403 when
// the token is valid but lacks a permission. 503 means revocations could
// not be checked.
func (v *JWTValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, err := v.ExtractToken(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", v.Scheme)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		token, err := v.ValidateToken(tokenStr)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrMissingPermission) {
				status = http.StatusForbidden
			} else if errors.Is(err, ErrRevocationCheck) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromContext returns the token the middleware accepted, if any.
func TokenFromContext(ctx context.Context) (*jwt.Token, bool) {
	token, ok := ctx.Value(contextKey{}).(*jwt.Token)
	return token, ok
}
