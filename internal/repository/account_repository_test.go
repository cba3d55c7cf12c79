package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mediahub-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var accountRowColumns = []string{"id", "email", "password_hash", "full_name", "display_name", "referral_code", "role", "status", "failed_login_attempts", "locked_until", "security_version", "last_login", "created_at", "updated_at"}

func TestAccountFindByEmailLowercases(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(accountRowColumns).
		AddRow("a1", "user@example.com", "hash", "User", "", "REF123", string(models.RoleUser), string(models.StatusActive), 1, nil, 4, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + accountColumns + " FROM accounts WHERE email = ? LIMIT 1")).
		WithArgs("user@example.com").
		WillReturnRows(rows)

	account, err := repo.FindByEmail(context.Background(), "User@Example.COM")
	require.NoError(t, err)
	assert.Equal(t, "a1", account.ID)
	assert.Equal(t, 1, account.FailedLoginAttempts)
	assert.Equal(t, int64(4), account.SecurityVersion)
	assert.Nil(t, account.LockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectQuery("FROM accounts WHERE id = ").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountCreateMapsUniqueViolations(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectExec("INSERT INTO accounts").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "accounts_email_key", Message: `duplicate key value violates unique constraint "accounts_email_key"`})
	err := repo.Create(context.Background(), &models.Account{Email: "dup@example.com", ReferralCode: "R1"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	mock.ExpectExec("INSERT INTO accounts").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "accounts_referral_code_key", Message: "duplicate key"})
	err = repo.Create(context.Background(), &models.Account{Email: "new@example.com", ReferralCode: "R1"})
	assert.ErrorIs(t, err, ErrDuplicateReferralCode)

	// the constraint name decides, not the message text
	mock.ExpectExec("INSERT INTO accounts").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "accounts_email_key", Message: "duplicate key for referral_code@example.com"})
	err = repo.Create(context.Background(), &models.Account{Email: "referral_code@example.com", ReferralCode: "R2"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountUpdateSecurityStateIsConditional(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	until := time.Now().Add(time.Hour)
	state := models.SecurityState{Status: models.StatusSuspended, FailedAttempts: 3, LockedUntil: &until}
	stmt := regexp.QuoteMeta("UPDATE accounts SET status = ?, failed_login_attempts = ?, locked_until = ?, security_version = security_version + 1, updated_at = ? WHERE id = ? AND security_version = ?")

	mock.ExpectExec(stmt).
		WithArgs("SUSPENDED", 3, until, sqlmock.AnyArg(), "a1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.UpdateSecurityState(context.Background(), "a1", 2, state, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(stmt).
		WithArgs("SUSPENDED", 3, until, sqlmock.AnyArg(), "a1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.UpdateSecurityState(context.Background(), "a1", 2, state, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountUpdateRoleMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectExec("UPDATE accounts SET role").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateRole(context.Background(), "missing", models.RoleGuest, time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRefreshTokenRevokeReportsPriorRevocation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = ? WHERE id = ? AND revoked = FALSE")).
		WithArgs(sqlmock.AnyArg(), "rt1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Revoke(context.Background(), "rt1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.RefreshToken{AccountID: "a1", Token: "token", ExpiresAt: time.Now()}
	err := repo.Create(context.Background(), token)
	require.NoError(t, err)
	assert.NotEmpty(t, token.ID)
	assert.False(t, token.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditListBuildsFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "account_id", "action", "resource", "resource_id", "old_values", "new_values", "ip_address", "user_agent", "created_at"}).
		AddRow("l1", "a1", models.AuditActionLogin, "auth", "a1", nil, []byte(`{"status":"success"}`), "127.0.0.1", "curl", now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + auditColumns + " FROM audit_logs WHERE 1=1 AND account_id = ? AND action = ? ORDER BY created_at DESC LIMIT 50 OFFSET 0")).
		WithArgs("a1", "LOGIN").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs WHERE 1=1 AND account_id = ? AND action = ?")).
		WithArgs("a1", "LOGIN").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	logs, total, err := repo.List(context.Background(), models.AuditFilter{AccountID: "a1", Action: "login"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, logs, 1)
	assert.JSONEq(t, `{"status":"success"}`, string(logs[0].NewValues))
	assert.NoError(t, mock.ExpectationsWereMet())
}
