// Package session issues and validates the anti-forgery tokens that tie a
// redirect return to the payment it was started for. The token rides on the
// success callback URL and is the first thing checked when the payer comes
// back, before any provider call is made.
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoToken means no token was ever issued for the payment, or it expired.
var ErrNoToken = errors.New("session: no token for payment")

// TokenStore issues one return token per payment and checks presented tokens
// against it.
type TokenStore interface {
	Issue(ctx context.Context, paymentID int64) (string, error)
	// Validate reports whether the presented token matches the issued one.
	// A missing or expired token yields ErrNoToken; a present-but-different
	// token yields (false, nil).
	Validate(ctx context.Context, paymentID int64, token string) (bool, error)
}

// RedisTokenStore keeps tokens in Redis with a TTL. Tokens are not consumed
// on validation: the payer may reload the return page, and replaying a
// genuine return is harmless because delivery is single-shot further down.
type RedisTokenStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func tokenKey(paymentID int64) string {
	return "gw:return:" + strconv.FormatInt(paymentID, 10)
}

// Issue generates a fresh random token for the payment, replacing any
// previous one.
func (s *RedisTokenStore) Issue(ctx context.Context, paymentID int64) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate return token: %w", err)
	}
	token := hex.EncodeToString(buf)

	ttl := s.TTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if err := s.Client.Set(ctx, tokenKey(paymentID), token, ttl).Err(); err != nil {
		return "", fmt.Errorf("store return token: %w", err)
	}
	return token, nil
}

// Validate compares the presented token against the stored one in constant
// time.
func (s *RedisTokenStore) Validate(ctx context.Context, paymentID int64, token string) (bool, error) {
	stored, err := s.Client.Get(ctx, tokenKey(paymentID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, ErrNoToken
	}
	if err != nil {
		return false, fmt.Errorf("load return token: %w", err)
	}
	if len(stored) != len(token) {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(token)) == 1, nil
}
