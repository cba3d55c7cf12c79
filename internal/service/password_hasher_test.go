package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasherRoundTrip(t *testing.T) {
	hasher := newTestHasher(t)
	ctx := context.Background()

	hash, err := hasher.Hash(ctx, "Password123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"))
	assert.NotContains(t, hash, "Password123")

	ok, err := hasher.Compare(ctx, hash, "Password123")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Compare(ctx, hash, "password123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordHasherMalformedHash(t *testing.T) {
	hasher := newTestHasher(t)
	ok, err := hasher.Compare(context.Background(), "not-a-hash", "Password123")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestPasswordHasherHonoursCancellation(t *testing.T) {
	hasher, err := NewPasswordHasher(12)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = hasher.Compare(ctx, string(hasher.dummy), "Password123")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPasswordHasherCostFallback(t *testing.T) {
	hasher, err := NewPasswordHasher(bcrypt.MaxCost + 1)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, hasher.cost)
}
