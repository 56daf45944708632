package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultMaxTokenLifetime bounds how long a token may be valid for, and so
// how long a revoked jti has to be kept when the token's own expiry is
// unknown.
const DefaultMaxTokenLifetime = 24 * time.Hour

// ErrRevocationCheck is returned when the shared revocation store cannot be
// consulted. Tokens are rejected in that case.
var ErrRevocationCheck = errors.New("revocation state unavailable")

// storeTimeout bounds every round trip to the shared store.
const storeTimeout = time.Second

// RevocationStore shares revoked token IDs between processes.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Revoked(ctx context.Context) ([]string, error)
}

// RevocationList remembers revoked token IDs until the tokens would have
// expired anyway. Without a store the list is local to the process; with
// one, every process sharing the store sees the same revocations and the
// local cache only saves round trips.
type RevocationList struct {
	revoked     *cache.Cache
	maxLifetime time.Duration
	store       RevocationStore
}

// NewRevocationList creates a process-local list whose entries live for
// maxLifetime unless revoked with an explicit expiry.
func NewRevocationList(maxLifetime time.Duration) *RevocationList {
	return NewSharedRevocationList(maxLifetime, nil)
}

// NewSharedRevocationList creates a list backed by store. A nil store gives
// a process-local list.
func NewSharedRevocationList(maxLifetime time.Duration, store RevocationStore) *RevocationList {
	if maxLifetime <= 0 {
		maxLifetime = DefaultMaxTokenLifetime
	}
	return &RevocationList{
		revoked:     cache.New(maxLifetime, maxLifetime/4),
		maxLifetime: maxLifetime,
		store:       store,
	}
}

// MaxLifetime is the longest token lifetime the list can outlast. Validators
// using the list reject tokens issued for longer.
func (l *RevocationList) MaxLifetime() time.Duration {
	return l.maxLifetime
}

// Revoke adds jti for the maximum token lifetime.
func (l *RevocationList) Revoke(jti string) error {
	return l.revoke(jti, l.maxLifetime)
}

// RevokeUntil adds jti until expiresAt, capped at the maximum token
// lifetime. Tokens that already expired are not recorded.
func (l *RevocationList) RevokeUntil(jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if ttl > l.maxLifetime {
		ttl = l.maxLifetime
	}
	return l.revoke(jti, ttl)
}

func (l *RevocationList) revoke(jti string, ttl time.Duration) error {
	l.revoked.Set(jti, struct{}{}, ttl)
	if l.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := l.store.Revoke(ctx, jti, ttl); err != nil {
		return fmt.Errorf("failed to share revocation of %s: %w", jti, err)
	}
	return nil
}

// Check returns ErrTokenRevoked for a revoked jti, and an error wrapping
// ErrRevocationCheck when the shared store cannot answer.
func (l *RevocationList) Check(jti string) error {
	if _, found := l.revoked.Get(jti); found {
		return ErrTokenRevoked
	}
	if l.store == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	revoked, err := l.store.IsRevoked(ctx, jti)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRevocationCheck, err)
	}
	if revoked {
		l.revoked.SetDefault(jti, struct{}{})
		return ErrTokenRevoked
	}
	return nil
}

// IsRevoked reports whether jti may not be used. It is true when the shared
// store cannot be reached.
func (l *RevocationList) IsRevoked(jti string) bool {
	return l.Check(jti) != nil
}

// Revoked returns the currently revoked token IDs in sorted order.
func (l *RevocationList) Revoked() ([]string, error) {
	seen := make(map[string]struct{})
	for jti := range l.revoked.Items() {
		seen[jti] = struct{}{}
	}
	if l.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		shared, err := l.store.Revoked(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRevocationCheck, err)
		}
		for _, jti := range shared {
			seen[jti] = struct{}{}
		}
	}

	list := make([]string, 0, len(seen))
	for jti := range seen {
		list = append(list, jti)
	}
	sort.Strings(list)
	return list, nil
}
