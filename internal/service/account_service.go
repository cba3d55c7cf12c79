package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/mediahub-api/internal/lockout"
	"github.com/noah-isme/mediahub-api/internal/models"
	appErrors "github.com/noah-isme/mediahub-api/pkg/errors"
)

type accountAdminStore interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	UpdateSecurityState(ctx context.Context, id string, expectedVersion int64, state models.SecurityState, at time.Time) (bool, error)
	UpdateRole(ctx context.Context, id string, role models.AccountRole, updatedAt time.Time) error
}

type sessionRevoker interface {
	RevokeAllForAccount(ctx context.Context, accountID string, revokedAt time.Time) (int64, error)
}

type statusInvalidator interface {
	Invalidate(ctx context.Context, accountID string)
}

// AccountService implements administrative account management. Status
// changes are computed by the lockout state machine and written with the same
// compare-and-swap as logins.
type AccountService struct {
	accounts  accountAdminStore
	sessions  sessionRevoker
	statuses  statusInvalidator
	policy    lockout.Policy
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAccountService constructs an AccountService.
func NewAccountService(accounts accountAdminStore, sessions sessionRevoker, statuses statusInvalidator, policy lockout.Policy, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AccountService{
		accounts:  accounts,
		sessions:  sessions,
		statuses:  statuses,
		policy:    policy,
		audit:     audit,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Get returns an account projection by id.
func (s *AccountService) Get(ctx context.Context, id string) (*models.AccountInfo, error) {
	account, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	info := account.Info()
	return &info, nil
}

// ChangeStatus applies an administrative status command. Sessions are revoked
// when the account stops being ACTIVE.
func (s *AccountService) ChangeStatus(ctx context.Context, actorID, id string, req models.ChangeStatusRequest, meta models.ClientMeta) (*models.AccountInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation, "invalid status payload")
	}
	if actorID == id {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "administrators cannot change their own status")
	}
	cmd := lockout.Command(req.Action)

	for attempt := 1; attempt <= maxSecurityWriteAttempts; attempt++ {
		account, err := s.find(ctx, id)
		if err != nil {
			return nil, err
		}
		previous := account.SecurityState()
		next, err := s.policy.Apply(previous, cmd)
		if errors.Is(err, lockout.ErrInvalidTransition) {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot %s an account in status %s", cmd, previous.Status))
		}
		if lockout.Equal(previous, next) {
			info := account.Info()
			return &info, nil
		}

		now := s.now()
		ok, err := s.accounts.UpdateSecurityState(ctx, id, account.SecurityVersion, next, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to update account status")
		}
		if !ok {
			continue
		}
		account.ApplySecurityState(next)

		if next.Status != models.StatusActive {
			if _, err := s.sessions.RevokeAllForAccount(ctx, id, now); err != nil {
				s.logger.Warn("failed to revoke sessions of deactivated account", zap.String("account_id", id), zap.Error(err))
			}
		}
		s.statuses.Invalidate(ctx, id)
		s.audit.Record(ctx, AuditEvent{
			AccountID: id,
			ActorID:   actorID,
			Action:    models.AuditActionStatusChange,
			Old:       map[string]interface{}{"status": previous.Status},
			New:       map[string]interface{}{"status": next.Status, "command": cmd},
			Meta:      meta,
		})
		info := account.Info()
		return &info, nil
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "account was modified concurrently, please retry")
}

// ChangeRole assigns a new role. Access tokens issued before keep their old
// role until they expire; refresh picks up the new one.
func (s *AccountService) ChangeRole(ctx context.Context, actorID, id string, req models.ChangeRoleRequest, meta models.ClientMeta) (*models.AccountInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation, "invalid role payload")
	}
	if actorID == id {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "administrators cannot change their own role")
	}

	account, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Role == req.Role {
		info := account.Info()
		return &info, nil
	}

	previous := account.Role
	if err := s.accounts.UpdateRole(ctx, id, req.Role, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to update role")
	}
	account.Role = req.Role

	s.statuses.Invalidate(ctx, id)
	s.audit.Record(ctx, AuditEvent{
		AccountID: id,
		ActorID:   actorID,
		Action:    models.AuditActionRoleChange,
		Old:       map[string]interface{}{"role": previous},
		New:       map[string]interface{}{"role": req.Role},
		Meta:      meta,
	})
	info := account.Info()
	return &info, nil
}

func (s *AccountService) find(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to fetch account")
	}
	return account, nil
}
