package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrEmptySecret = errors.New("signing secret is empty")

// IssuedToken is a freshly minted admin token.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// IssueToken signs an HS256 token granting permissions for ttl.
func IssueToken(secret []byte, subject string, ttl time.Duration, permissions ...Permission) (*IssuedToken, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	jti, err := newJTI()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := jwt.MapClaims{
		"iss": Issuer,
		"sub": subject,
		"jti": jti,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	for _, p := range permissions {
		claims[string(p)] = true
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &IssuedToken{Token: signed, JTI: jti, ExpiresAt: time.Unix(expiresAt.Unix(), 0)}, nil
}

func newJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
