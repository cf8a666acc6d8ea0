package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/edupay/helloasso-gateway/internal/session"
)

func newStore(t *testing.T) (*session.RedisTokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &session.RedisTokenStore{Client: client, TTL: time.Minute}, mr
}

func TestIssueAndValidate(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, 7)
	require.NoError(t, err)
	require.Len(t, token, 64)

	ok, err := store.Validate(ctx, 7, token)
	require.NoError(t, err)
	require.True(t, ok)

	// Reloading the return page re-presents the same token.
	ok, err = store.Validate(ctx, 7, token)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestValidateRejectsWrongToken(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, 7)
	require.NoError(t, err)

	ok, err := store.Validate(ctx, 7, "deadbeef")
	require.NoError(t, err)
	require.False(t, ok)

	other, err := store.Issue(ctx, 8)
	require.NoError(t, err)
	require.NotEqual(t, token, other)

	ok, err = store.Validate(ctx, 7, other)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidateMissingToken(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.Validate(context.Background(), 99, "whatever")
	require.ErrorIs(t, err, session.ErrNoToken)
}

func TestTokenExpires(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, 7)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = store.Validate(ctx, 7, token)
	require.ErrorIs(t, err, session.ErrNoToken)
}

func TestIssueReplacesPreviousToken(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	first, err := store.Issue(ctx, 7)
	require.NoError(t, err)
	second, err := store.Issue(ctx, 7)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	ok, err := store.Validate(ctx, 7, first)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.Validate(ctx, 7, second)
	require.NoError(t, err)
	require.True(t, ok)
}
