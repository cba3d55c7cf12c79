package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mediahub-api/internal/models"
	"github.com/noah-isme/mediahub-api/pkg/database"
)

var referralCodeKey = database.UniqueKey{Constraint: "accounts_referral_code_key", Column: "accounts.referral_code"}

// Errors returned by Create when a unique constraint rejects the insert.
var (
	ErrDuplicateEmail        = errors.New("account email already exists")
	ErrDuplicateReferralCode = errors.New("account referral code already exists")
)

const accountColumns = `id, email, password_hash, full_name, display_name, referral_code, role, status, failed_login_attempts, locked_until, security_version, last_login, created_at, updated_at`

// AccountRepository is the credential store backed by the accounts table.
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new instance of AccountRepository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByEmail returns an account by login identifier. sql.ErrNoRows is returned unwrapped.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := r.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE email = ? LIMIT 1`)
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, strings.ToLower(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	return &account, nil
}

// FindByID returns an account by identifier. sql.ErrNoRows is returned unwrapped.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	query := r.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE id = ? LIMIT 1`)
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	return &account, nil
}

// Create inserts a new account. The UNIQUE indexes on email and referral_code are
// the authoritative guard against concurrent registrations.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = account.CreatedAt
	account.Email = strings.ToLower(account.Email)

	const query = `INSERT INTO accounts (id, email, password_hash, full_name, display_name, referral_code, role, status, failed_login_attempts, locked_until, security_version, created_at, updated_at) VALUES (:id, :email, :password_hash, :full_name, :display_name, :referral_code, :role, :status, :failed_login_attempts, :locked_until, :security_version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		if database.IsUniqueViolation(err) {
			if database.IsUniqueViolationOn(err, referralCodeKey) {
				return ErrDuplicateReferralCode
			}
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// UpdateSecurityState writes the lockout-owned fields if and only if the row
// still carries expectedVersion. It reports false when another writer got there
// first; the caller must re-read and re-evaluate.
func (r *AccountRepository) UpdateSecurityState(ctx context.Context, id string, expectedVersion int64, state models.SecurityState, at time.Time) (bool, error) {
	query := r.db.Rebind(`UPDATE accounts SET status = ?, failed_login_attempts = ?, locked_until = ?, security_version = security_version + 1, updated_at = ? WHERE id = ? AND security_version = ?`)
	res, err := r.db.ExecContext(ctx, query, state.Status, state.FailedAttempts, state.LockedUntil, at, id, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("update account security state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update account security state: %w", err)
	}
	return affected == 1, nil
}

// UpdateLastLogin updates the last_login timestamp for an account.
func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	query := r.db.Rebind(`UPDATE accounts SET last_login = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, ts, id); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	query := r.db.Rebind(`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, passwordHash, updatedAt, id); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// UpdateRole changes the role of an account.
func (r *AccountRepository) UpdateRole(ctx context.Context, id string, role models.AccountRole, updatedAt time.Time) error {
	query := r.db.Rebind(`UPDATE accounts SET role = ?, updated_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, role, updatedAt, id)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
