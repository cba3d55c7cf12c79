package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/mediahub-api/internal/models"
	appErrors "github.com/noah-isme/mediahub-api/pkg/errors"
)

type memoryCacheRepo struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{items: make(map[string][]byte)}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = raw
	return nil
}

func (m *memoryCacheRepo) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.items, key)
	}
	return nil
}

func TestAccountStatusServiceCachesUntilInvalidated(t *testing.T) {
	accounts := newFakeAccountStore()
	seedAccount(t, accounts, newTestHasher(t), "u1", "user@example.com", "Password123", models.StatusActive)
	cache := NewCacheService(newMemoryCacheRepo(), NewMetricsService(), time.Minute, zap.NewNop(), true)
	svc := NewAccountStatusService(accounts, cache, time.Minute, zap.NewNop())

	snap, err := svc.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, snap.Status)

	accounts.mutate("u1", func(acc *models.Account) { acc.Status = models.StatusDeleted })

	snap, err = svc.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, snap.Status, "served from cache")

	svc.Invalidate(context.Background(), "u1")
	snap, err = svc.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, snap.Status)
}

func TestAccountStatusServiceWithoutCache(t *testing.T) {
	accounts := newFakeAccountStore()
	seedAccount(t, accounts, newTestHasher(t), "u1", "user@example.com", "Password123", models.StatusActive)
	svc := NewAccountStatusService(accounts, nil, time.Minute, nil)

	accounts.mutate("u1", func(acc *models.Account) { acc.Status = models.StatusSuspended })
	snap, err := svc.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, snap.Status)

	_, err = svc.Status(context.Background(), "missing")
	assert.Equal(t, appErrors.KindNotFound, appErrors.KindOf(err))
	svc.Invalidate(context.Background(), "u1")
}
