package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/mediahub-api/internal/models"
	appErrors "github.com/noah-isme/mediahub-api/pkg/errors"
)

const accountStatusKeyPrefix = "account:status:"

type accountLookup interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
}

// AccountStatusService answers "may this account still act" for protected
// routes. Lookups are served from a short-lived cache in front of the
// credential store; writers invalidate the entry.
type AccountStatusService struct {
	accounts accountLookup
	cache    *CacheService
	ttl      time.Duration
	logger   *zap.Logger
}

// NewAccountStatusService constructs an AccountStatusService. cache may be nil.
func NewAccountStatusService(accounts accountLookup, cache *CacheService, ttl time.Duration, logger *zap.Logger) *AccountStatusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountStatusService{accounts: accounts, cache: cache, ttl: ttl, logger: logger}
}

// Status returns the current status snapshot of the account.
func (s *AccountStatusService) Status(ctx context.Context, accountID string) (*models.AccountStatusSnapshot, error) {
	key := accountStatusKeyPrefix + accountID

	var cached models.AccountStatusSnapshot
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to load account status")
	}

	snapshot := &models.AccountStatusSnapshot{
		ID:          account.ID,
		Role:        account.Role,
		Status:      account.Status,
		LockedUntil: account.LockedUntil,
	}
	_ = s.cache.Set(ctx, key, snapshot, s.ttl)
	return snapshot, nil
}

// Invalidate drops the cached snapshot of the account.
func (s *AccountStatusService) Invalidate(ctx context.Context, accountID string) {
	if err := s.cache.Invalidate(ctx, accountStatusKeyPrefix+accountID); err != nil {
		s.logger.Warn("failed to invalidate account status", zap.String("account_id", accountID), zap.Error(err))
	}
}
