package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/mediahub-api/internal/models"
	"github.com/noah-isme/mediahub-api/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeAccountStore mimics the accounts table: unique email and referral code
// and a security_version checked on every security-state write.
type fakeAccountStore struct {
	mu             sync.Mutex
	accounts       map[string]*models.Account
	createErrs     []error
	createCalls    int
	securityWrites int
	findErr        error
	beforeUpdate   func(stored *models.Account)
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{accounts: make(map[string]*models.Account)}
}

func (f *fakeAccountStore) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, acc := range f.accounts {
		if acc.Email == email {
			clone := *acc
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAccountStore) FindByID(ctx context.Context, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	acc, ok := f.accounts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *acc
	return &clone, nil
}

func (f *fakeAccountStore) Create(ctx context.Context, account *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, acc := range f.accounts {
		if acc.Email == account.Email {
			return repository.ErrDuplicateEmail
		}
		if acc.ReferralCode == account.ReferralCode {
			return repository.ErrDuplicateReferralCode
		}
	}
	clone := *account
	f.accounts[account.ID] = &clone
	return nil
}

func (f *fakeAccountStore) UpdateSecurityState(ctx context.Context, id string, expectedVersion int64, state models.SecurityState, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	if !ok {
		return false, nil
	}
	if f.beforeUpdate != nil {
		f.beforeUpdate(acc)
	}
	if acc.SecurityVersion != expectedVersion {
		return false, nil
	}
	acc.ApplySecurityState(state)
	acc.SecurityVersion++
	acc.UpdatedAt = at
	f.securityWrites++
	return true, nil
}

func (f *fakeAccountStore) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acc, ok := f.accounts[id]; ok {
		acc.LastLogin = &ts
	}
	return nil
}

func (f *fakeAccountStore) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	if !ok {
		return sql.ErrNoRows
	}
	acc.PasswordHash = passwordHash
	acc.UpdatedAt = updatedAt
	return nil
}

func (f *fakeAccountStore) UpdateRole(ctx context.Context, id string, role models.AccountRole, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	if !ok {
		return sql.ErrNoRows
	}
	acc.Role = role
	acc.UpdatedAt = updatedAt
	return nil
}

func (f *fakeAccountStore) get(id string) models.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.accounts[id]
}

func (f *fakeAccountStore) mutate(id string, fn func(acc *models.Account)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.accounts[id])
}

func (f *fakeAccountStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accounts)
}

type fakeRefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func newFakeRefreshTokenStore() *fakeRefreshTokenStore {
	return &fakeRefreshTokenStore{tokens: make(map[string]*models.RefreshToken)}
}

func (f *fakeRefreshTokenStore) Create(ctx context.Context, token *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *token
	f.tokens[token.Token] = &clone
	return nil
}

func (f *fakeRefreshTokenStore) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *rt
	return &clone, nil
}

func (f *fakeRefreshTokenStore) Revoke(ctx context.Context, id string, revokedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rt := range f.tokens {
		if rt.ID == id && !rt.Revoked {
			rt.Revoked = true
			rt.RevokedAt = &revokedAt
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRefreshTokenStore) RevokeAllForAccount(ctx context.Context, accountID string, revokedAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, rt := range f.tokens {
		if rt.AccountID == accountID && !rt.Revoked {
			rt.Revoked = true
			rt.RevokedAt = &revokedAt
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshTokenStore) PurgeDead(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for key, rt := range f.tokens {
		if (rt.Revoked && rt.RevokedAt != nil && rt.RevokedAt.Before(cutoff)) || rt.ExpiresAt.Before(cutoff) {
			delete(f.tokens, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshTokenStore) live(accountID string, now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rt := range f.tokens {
		if rt.AccountID == accountID && rt.Usable(now) {
			n++
		}
	}
	return n
}

type fakeAuditRecorder struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (f *fakeAuditRecorder) Record(ctx context.Context, event AuditEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeAuditRecorder) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Action
	}
	return out
}

func newTestHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	hasher, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return hasher
}

func seedAccount(t *testing.T, store *fakeAccountStore, hasher *PasswordHasher, id, email, password string, status models.ActivationStatus) {
	t.Helper()
	hash, err := hasher.Hash(context.Background(), password)
	require.NoError(t, err)
	store.mu.Lock()
	defer store.mu.Unlock()
	store.accounts[id] = &models.Account{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		ReferralCode: "REF-" + id,
		Role:         models.RoleUser,
		Status:       status,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
