package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/mediahub-api/internal/lockout"
	"github.com/noah-isme/mediahub-api/internal/models"
	appErrors "github.com/noah-isme/mediahub-api/pkg/errors"
)

type invalidationRecorder struct {
	ids []string
}

func (r *invalidationRecorder) Invalidate(ctx context.Context, accountID string) {
	r.ids = append(r.ids, accountID)
}

type accountFixture struct {
	svc      *AccountService
	accounts *fakeAccountStore
	tokens   *fakeRefreshTokenStore
	cache    *invalidationRecorder
	audit    *fakeAuditRecorder
}

func newAccountFixture(t *testing.T) *accountFixture {
	t.Helper()
	f := &accountFixture{
		accounts: newFakeAccountStore(),
		tokens:   newFakeRefreshTokenStore(),
		cache:    &invalidationRecorder{},
		audit:    &fakeAuditRecorder{},
	}
	f.svc = NewAccountService(f.accounts, f.tokens, f.cache, lockout.NewPolicy(3, time.Hour), f.audit, nil, zap.NewNop())
	seedAccount(t, f.accounts, newTestHasher(t), "u1", "user@example.com", "Password123", models.StatusActive)
	return f
}

func TestAccountServiceSuspendRevokesSessions(t *testing.T) {
	f := newAccountFixture(t)
	require.NoError(t, f.tokens.Create(context.Background(), &models.RefreshToken{ID: "t1", AccountID: "u1", Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}))

	info, err := f.svc.ChangeStatus(context.Background(), "admin", "u1", models.ChangeStatusRequest{Action: "suspend"}, models.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, info.Status)

	acc := f.accounts.get("u1")
	assert.Equal(t, models.StatusSuspended, acc.Status)
	assert.Nil(t, acc.LockedUntil)
	assert.Equal(t, 0, f.tokens.live("u1", time.Now()))
	assert.Equal(t, []string{"u1"}, f.cache.ids)
	require.Len(t, f.audit.events, 1)
	assert.Equal(t, "admin", f.audit.events[0].ActorID)
	assert.Equal(t, models.AuditActionStatusChange, f.audit.events[0].Action)
}

func TestAccountServiceReinstateClearsLock(t *testing.T) {
	f := newAccountFixture(t)
	until := time.Now().Add(time.Hour)
	f.accounts.mutate("u1", func(acc *models.Account) {
		acc.Status = models.StatusSuspended
		acc.FailedLoginAttempts = 3
		acc.LockedUntil = &until
	})

	info, err := f.svc.ChangeStatus(context.Background(), "admin", "u1", models.ChangeStatusRequest{Action: "reinstate"}, models.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, info.Status)

	acc := f.accounts.get("u1")
	assert.Equal(t, 0, acc.FailedLoginAttempts)
	assert.Nil(t, acc.LockedUntil)
}

func TestAccountServiceStatusNoopAndInvalidTransition(t *testing.T) {
	f := newAccountFixture(t)

	_, err := f.svc.ChangeStatus(context.Background(), "admin", "u1", models.ChangeStatusRequest{Action: "activate"}, models.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, 0, f.accounts.securityWrites)
	assert.Empty(t, f.audit.events)

	_, err = f.svc.ChangeStatus(context.Background(), "admin", "u1", models.ChangeStatusRequest{Action: "delete"}, models.ClientMeta{})
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(context.Background(), "admin", "u1", models.ChangeStatusRequest{Action: "reinstate"}, models.ClientMeta{})
	assert.Equal(t, appErrors.KindConflict, appErrors.KindOf(err))

	_, err = f.svc.ChangeStatus(context.Background(), "admin", "u1", models.ChangeStatusRequest{Action: "promote"}, models.ClientMeta{})
	assert.Equal(t, appErrors.KindInvalidInput, appErrors.KindOf(err))
}

func TestAccountServiceRejectsSelfChanges(t *testing.T) {
	f := newAccountFixture(t)

	_, err := f.svc.ChangeStatus(context.Background(), "u1", "u1", models.ChangeStatusRequest{Action: "suspend"}, models.ClientMeta{})
	assert.Equal(t, appErrors.KindForbidden, appErrors.KindOf(err))

	_, err = f.svc.ChangeRole(context.Background(), "u1", "u1", models.ChangeRoleRequest{Role: models.RoleAdmin}, models.ClientMeta{})
	assert.Equal(t, appErrors.KindForbidden, appErrors.KindOf(err))
}

func TestAccountServiceChangeRole(t *testing.T) {
	f := newAccountFixture(t)

	info, err := f.svc.ChangeRole(context.Background(), "admin", "u1", models.ChangeRoleRequest{Role: models.RoleGuest}, models.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.RoleGuest, info.Role)
	assert.Equal(t, models.RoleGuest, f.accounts.get("u1").Role)
	assert.Equal(t, []string{"u1"}, f.cache.ids)

	_, err = f.svc.ChangeRole(context.Background(), "admin", "missing", models.ChangeRoleRequest{Role: models.RoleGuest}, models.ClientMeta{})
	assert.Equal(t, appErrors.KindNotFound, appErrors.KindOf(err))

	_, err = f.svc.ChangeRole(context.Background(), "admin", "u1", models.ChangeRoleRequest{Role: "ROOT"}, models.ClientMeta{})
	assert.Equal(t, appErrors.KindInvalidInput, appErrors.KindOf(err))
}

func TestAccountServiceGet(t *testing.T) {
	f := newAccountFixture(t)

	info, err := f.svc.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", info.Email)

	_, err = f.svc.Get(context.Background(), "missing")
	assert.Equal(t, appErrors.KindNotFound, appErrors.KindOf(err))
}
