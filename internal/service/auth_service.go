package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/mediahub-api/internal/lockout"
	"github.com/noah-isme/mediahub-api/internal/models"
	"github.com/noah-isme/mediahub-api/internal/repository"
	appErrors "github.com/noah-isme/mediahub-api/pkg/errors"
)

// maxSecurityWriteAttempts bounds how often a login re-reads the account after
// losing a compare-and-swap on its security state.
const maxSecurityWriteAttempts = 3

const maxReferralCodeAttempts = 5

type accountStore interface {
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
	UpdateSecurityState(ctx context.Context, id string, expectedVersion int64, state models.SecurityState, at time.Time) (bool, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

type refreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, id string, revokedAt time.Time) (bool, error)
	RevokeAllForAccount(ctx context.Context, accountID string, revokedAt time.Time) (int64, error)
}

type tokenSigner interface {
	Issue(account *models.Account) (string, time.Time, error)
	Expiry() time.Duration
}

type auditRecorder interface {
	Record(ctx context.Context, event AuditEvent)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	RefreshTokenExpiry  time.Duration
	RegistrationStatus  models.ActivationStatus
	OperationTimeout    time.Duration
	SingleSession       bool
	RotateRefreshTokens bool
}

// AuthService provides the register, login, refresh and logout use cases.
type AuthService struct {
	accounts      accountStore
	refreshTokens refreshTokenStore
	signer        tokenSigner
	hasher        *PasswordHasher
	policy        lockout.Policy
	audit         auditRecorder
	metrics       *MetricsService
	validator     *validator.Validate
	logger        *zap.Logger
	config        AuthConfig
	now           func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(accounts accountStore, refreshTokens refreshTokenStore, signer tokenSigner, hasher *PasswordHasher, policy lockout.Policy, audit auditRecorder, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	validate.RegisterValidation("bcryptmax", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxPasswordBytes
	})
	if config.RefreshTokenExpiry <= 0 {
		config.RefreshTokenExpiry = 7 * 24 * time.Hour
	}
	if config.RegistrationStatus == "" {
		config.RegistrationStatus = models.StatusActive
	}
	return &AuthService{
		accounts:      accounts,
		refreshTokens: refreshTokens,
		signer:        signer,
		hasher:        hasher,
		policy:        policy,
		audit:         audit,
		metrics:       metrics,
		validator:     validate,
		logger:        logger,
		config:        config,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an account with a hashed password and a unique referral code.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AccountInfo, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation, "invalid registration payload")
	}

	existing, err := bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (*models.Account, error) {
		return s.accounts.FindByEmail(ctx, req.Email)
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to check email")
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	}

	hash, err := s.hashPassword(ctx, req.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	account := &models.Account{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Role:         models.RoleUser,
		Status:       s.config.RegistrationStatus,
		CreatedAt:    now,
	}

	for attempt := 1; ; attempt++ {
		account.ReferralCode = newReferralCode()
		_, err = bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.accounts.Create(ctx, account)
		})
		if errors.Is(err, repository.ErrDuplicateReferralCode) && attempt < maxReferralCodeAttempts {
			continue
		}
		break
	}
	switch {
	case errors.Is(err, repository.ErrDuplicateEmail):
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	case err != nil:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to create account")
	}

	s.audit.Record(ctx, AuditEvent{
		AccountID: account.ID,
		Action:    models.AuditActionRegister,
		New:       map[string]interface{}{"status": account.Status, "role": account.Role},
		Meta:      req.ClientMeta,
	})

	info := account.Info()
	return &info, nil
}

// Login authenticates an account through the lockout state machine and issues
// an access and refresh token pair.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation, "invalid login payload")
	}

	account, err := s.loadByEmail(ctx, req.Email)
	if errors.Is(err, sql.ErrNoRows) {
		s.hasher.CompareDummy(ctx, req.Password)
		s.metrics.RecordLoginAttempt(LoginOutcomeUnknown)
		return nil, appErrors.Disguise(appErrors.KindNotFound, appErrors.ErrInvalidCredentials)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to fetch account")
	}

	var (
		checkedHash string
		checked     bool
		passwordOK  bool
	)
	for attempt := 1; attempt <= maxSecurityWriteAttempts; attempt++ {
		now := s.now()
		decision := s.policy.Gate(account.SecurityState(), now)
		if err := s.rejection(account, decision); err != nil {
			return nil, err
		}

		if !checked || checkedHash != account.PasswordHash {
			passwordOK, err = bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (bool, error) {
				return s.hasher.Compare(ctx, account.PasswordHash, req.Password)
			})
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to verify password")
			}
			checkedHash, checked = account.PasswordHash, true
		}

		var (
			next    models.SecurityState
			failure lockout.Failure
		)
		if passwordOK {
			next = s.policy.OnSuccess(decision.State)
		} else {
			failure = s.policy.OnFailure(decision.State, now)
			next = failure.State
		}

		written, err := s.writeSecurityState(ctx, account, next, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to update account security state")
		}
		if !written {
			s.logger.Debug("security state changed concurrently, retrying login", zap.String("account_id", account.ID), zap.Int("attempt", attempt))
			account, err = s.loadByID(ctx, account.ID)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Disguise(appErrors.KindNotFound, appErrors.ErrInvalidCredentials)
			}
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to fetch account")
			}
			continue
		}

		if decision.Unlocked {
			s.logger.Info("account lock expired", zap.String("account_id", account.ID))
		}
		if !passwordOK {
			return nil, s.failedLogin(ctx, account, failure, req.ClientMeta)
		}
		s.metrics.RecordLoginAttempt(LoginOutcomeSuccess)
		return s.issueSession(ctx, account, req.ClientMeta, now)
	}

	s.logger.Warn("gave up login after concurrent security state updates", zap.String("account_id", account.ID))
	return nil, appErrors.Clone(appErrors.ErrConflict, "account was modified concurrently, please retry")
}

// Refresh exchanges a refresh token for a new access token bound to the
// account's current role. With rotation enabled the presented token is revoked
// and a new one returned.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation, "invalid refresh payload")
	}

	stored, err := bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (*models.RefreshToken, error) {
		return s.refreshTokens.FindByToken(ctx, req.RefreshToken)
	})
	if errors.Is(err, sql.ErrNoRows) {
		s.metrics.RecordRefresh("invalid")
		return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to fetch refresh token")
	}

	now := s.now()
	if !stored.Usable(now) {
		s.metrics.RecordRefresh("invalid")
		return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
	}

	account, err := s.loadByID(ctx, stored.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		s.metrics.RecordRefresh("inactive")
		return nil, appErrors.Clone(appErrors.ErrNotFound, "account no longer exists")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to fetch account")
	}
	if !lockout.SessionAllowed(account.SecurityState()) {
		s.metrics.RecordRefresh("inactive")
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	resp := &models.RefreshTokenResponse{TokenType: models.TokenTypeBearer, IssuedAt: now}
	if s.config.RotateRefreshTokens {
		revoked, err := bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (bool, error) {
			return s.refreshTokens.Revoke(ctx, stored.ID, now)
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to revoke refresh token")
		}
		if !revoked {
			// another request consumed this token first
			s.metrics.RecordRefresh("invalid")
			return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
		}
		next, err := s.createRefreshToken(ctx, account.ID, req.ClientMeta, now)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = next.Token
	}

	accessToken, _, err := s.signer.Issue(account)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to create access token")
	}
	s.metrics.RecordTokenIssued("access")
	s.metrics.RecordRefresh("success")
	resp.AccessToken = accessToken
	resp.ExpiresIn = int64(s.signer.Expiry().Seconds())

	s.audit.Record(ctx, AuditEvent{
		AccountID: account.ID,
		Action:    models.AuditActionRefresh,
		New:       map[string]interface{}{"rotated": s.config.RotateRefreshTokens},
		Meta:      req.ClientMeta,
	})
	return resp, nil
}

// Logout revokes every refresh token of the account. It succeeds when there is nothing to revoke.
func (s *AuthService) Logout(ctx context.Context, accountID string, meta models.ClientMeta) error {
	revoked, err := bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (int64, error) {
		return s.refreshTokens.RevokeAllForAccount(ctx, accountID, s.now())
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal, "failed to revoke refresh tokens")
	}

	s.audit.Record(ctx, AuditEvent{
		AccountID: accountID,
		Action:    models.AuditActionLogout,
		New:       map[string]interface{}{"revoked_tokens": revoked},
		Meta:      meta,
	})
	return nil
}

// ChangePassword verifies the current password, stores the new hash and ends all sessions.
func (s *AuthService) ChangePassword(ctx context.Context, accountID string, req models.ChangePasswordRequest, meta models.ClientMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation, "invalid change password payload")
	}

	account, err := s.loadByID(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "account not found")
	}
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal, "failed to fetch account")
	}

	ok, err := bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (bool, error) {
		return s.hasher.Compare(ctx, account.PasswordHash, req.OldPassword)
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal, "failed to verify password")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrInvalidCredentials, "current password is incorrect")
	}

	hash, err := s.hashPassword(ctx, req.NewPassword)
	if err != nil {
		return err
	}

	now := s.now()
	if _, err := bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.accounts.UpdatePassword(ctx, accountID, hash, now)
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal, "failed to update password")
	}

	if _, err := bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (int64, error) {
		return s.refreshTokens.RevokeAllForAccount(ctx, accountID, now)
	}); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password change", zap.String("account_id", accountID), zap.Error(err))
	}

	s.audit.Record(ctx, AuditEvent{AccountID: accountID, Action: models.AuditActionPasswordChange, Meta: meta})
	return nil
}

// Me returns the public projection of the account.
func (s *AuthService) Me(ctx context.Context, accountID string) (*models.AccountInfo, error) {
	account, err := s.loadByID(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to fetch account")
	}
	info := account.Info()
	return &info, nil
}

func (s *AuthService) rejection(account *models.Account, decision lockout.Decision) error {
	switch decision.Outcome {
	case lockout.Proceed:
		return nil
	case lockout.RejectNotActivated:
		s.metrics.RecordLoginAttempt(LoginOutcomeNotActivated)
		return appErrors.Clone(appErrors.ErrAccountNotActivated, "")
	case lockout.RejectLocked:
		s.metrics.RecordLoginAttempt(LoginOutcomeLocked)
		return lockedError(decision.RetryAfter)
	default:
		s.metrics.RecordLoginAttempt(LoginOutcomeInactive)
		s.logger.Info("login rejected for inactive account", zap.String("account_id", account.ID), zap.String("status", string(account.Status)))
		return appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}
}

func (s *AuthService) failedLogin(ctx context.Context, account *models.Account, failure lockout.Failure, meta models.ClientMeta) error {
	if failure.Locked {
		s.metrics.RecordLoginAttempt(LoginOutcomeLocked)
		s.metrics.RecordLockout()
		s.logger.Warn("account locked after failed logins", zap.String("account_id", account.ID), zap.Int("failed_attempts", failure.State.FailedAttempts))
		s.audit.Record(ctx, AuditEvent{
			AccountID: account.ID,
			Action:    models.AuditActionAccountLocked,
			New: map[string]interface{}{
				"failed_attempts": failure.State.FailedAttempts,
				"locked_until":    failure.State.LockedUntil,
			},
			Meta: meta,
		})
		return lockedError(failure.RetryAfter)
	}

	s.metrics.RecordLoginAttempt(LoginOutcomeInvalid)
	s.audit.Record(ctx, AuditEvent{
		AccountID: account.ID,
		Action:    models.AuditActionLoginFailed,
		New:       map[string]interface{}{"failed_attempts": failure.State.FailedAttempts},
		Meta:      meta,
	})
	return appErrors.WithDetails(appErrors.ErrInvalidCredentials, map[string]interface{}{
		"attempts_remaining": failure.AttemptsRemaining,
	})
}

// writeSecurityState persists next when it differs from the account's state.
// It reports false when the row's version moved since it was read.
func (s *AuthService) writeSecurityState(ctx context.Context, account *models.Account, next models.SecurityState, now time.Time) (bool, error) {
	if lockout.Equal(account.SecurityState(), next) {
		return true, nil
	}
	ok, err := bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (bool, error) {
		return s.accounts.UpdateSecurityState(ctx, account.ID, account.SecurityVersion, next, now)
	})
	if err != nil || !ok {
		return false, err
	}
	account.ApplySecurityState(next)
	account.SecurityVersion++
	return true, nil
}

func (s *AuthService) issueSession(ctx context.Context, account *models.Account, meta models.ClientMeta, now time.Time) (*models.LoginResponse, error) {
	if s.config.SingleSession {
		if _, err := bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (int64, error) {
			return s.refreshTokens.RevokeAllForAccount(ctx, account.ID, now)
		}); err != nil {
			s.logger.Warn("failed to revoke previous refresh tokens", zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	accessToken, _, err := s.signer.Issue(account)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to create access token")
	}
	s.metrics.RecordTokenIssued("access")

	refreshToken, err := s.createRefreshToken(ctx, account.ID, meta, now)
	if err != nil {
		return nil, err
	}

	if _, err := bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.accounts.UpdateLastLogin(ctx, account.ID, now)
	}); err != nil {
		s.logger.Warn("failed to update last login", zap.String("account_id", account.ID), zap.Error(err))
	}

	s.audit.Record(ctx, AuditEvent{
		AccountID: account.ID,
		Action:    models.AuditActionLogin,
		New:       map[string]interface{}{"status": "success"},
		Meta:      meta,
	})

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		TokenType:    models.TokenTypeBearer,
		ExpiresIn:    int64(s.signer.Expiry().Seconds()),
		IssuedAt:     now,
		Account:      account.Info(),
	}, nil
}

func (s *AuthService) createRefreshToken(ctx context.Context, accountID string, meta models.ClientMeta, now time.Time) (*models.RefreshToken, error) {
	value, err := generateOpaqueToken()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to create refresh token")
	}
	token := &models.RefreshToken{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Token:     value,
		ExpiresAt: now.Add(s.config.RefreshTokenExpiry),
		CreatedAt: now,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}
	if _, err := bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.refreshTokens.Create(ctx, token)
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to persist refresh token")
	}
	s.metrics.RecordTokenIssued("refresh")
	return token, nil
}

func (s *AuthService) loadByEmail(ctx context.Context, email string) (*models.Account, error) {
	return bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (*models.Account, error) {
		return s.accounts.FindByEmail(ctx, email)
	})
}

func (s *AuthService) loadByID(ctx context.Context, id string) (*models.Account, error) {
	return bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (*models.Account, error) {
		return s.accounts.FindByID(ctx, id)
	})
}

// bounded runs fn under timeout when one is configured.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}

func lockedError(retryAfter time.Duration) error {
	return appErrors.WithDetails(appErrors.ErrAccountLocked, map[string]interface{}{
		"retry_after_seconds": int64(math.Ceil(retryAfter.Seconds())),
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func (s *AuthService) hashPassword(ctx context.Context, password string) (string, error) {
	hash, err := bounded(ctx, s.config.OperationTimeout, func(ctx context.Context) (string, error) {
		return s.hasher.Hash(ctx, password)
	})
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", appErrors.Wrap(err, appErrors.ErrValidation, "password must not exceed 72 bytes")
	}
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal, "failed to hash password")
	}
	return hash, nil
}
