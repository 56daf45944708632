package auth

import "github.com/golang-jwt/jwt/v5"

// Permission names a boolean claim a token must carry.
type Permission string

const (
	PERMISSION_STATS_READ    Permission = "stats-read"
	PERMISSION_TOKENS_REVOKE Permission = "tokens-revoke"
)

// AllPermissions lists every permission the admin API knows about.
var AllPermissions = []Permission{PERMISSION_STATS_READ, PERMISSION_TOKENS_REVOKE}

// Check reports whether claims grant p. Both true and "true" count.
func (p Permission) Check(claims jwt.MapClaims) bool {
	if claims == nil {
		return false
	}
	switch val := claims[string(p)].(type) {
	case bool:
		return val
	case string:
		return val == "true"
	}
	return false
}

// ParsePermission maps a permission name to a known Permission.
func ParsePermission(name string) (Permission, bool) {
	for _, p := range AllPermissions {
		if string(p) == name {
			return p, true
		}
	}
	return "", false
}
