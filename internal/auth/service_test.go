package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/pegflow/internal/chain"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService(nil, "test-secret", time.Hour)

	t.Run("direct token maps to a direct caller", func(t *testing.T) {
		token, err := svc.sign("alice", "")
		require.NoError(t, err)

		claims, err := svc.VerifyToken("Bearer " + token)
		require.NoError(t, err)
		assert.Equal(t, chain.Direct("alice"), claims.Caller())
	})

	t.Run("relayer token carries both identities", func(t *testing.T) {
		token, err := svc.IssueRelayerToken("relay-1", "alice")
		require.NoError(t, err)

		claims, err := svc.VerifyToken(token)
		require.NoError(t, err)
		assert.Equal(t, chain.Via("alice", "relay-1"), claims.Caller())
	})

	t.Run("rejects a token signed with another secret", func(t *testing.T) {
		other := NewService(nil, "other-secret", time.Hour)
		token, err := other.sign("alice", "")
		require.NoError(t, err)

		_, err = svc.VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		short := NewService(nil, "test-secret", -time.Minute)
		token, err := short.sign("alice", "")
		require.NoError(t, err)

		_, err = svc.VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := svc.VerifyToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil, "test-secret", time.Hour)

	// Without a database the account operations fail cleanly; token
	// verification still works.
	_, err := svc.Register(ctx, "alice", "pw")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = svc.Login(ctx, "alice", "pw")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	token, err := svc.IssueToken("alice")
	assert.NoError(t, err)
	_, err = svc.VerifyToken(token)
	assert.NoError(t, err)
}
