package models

import "time"

// AccountRole represents the tiered roles available to accounts.
type AccountRole string

const (
	RoleAdmin AccountRole = "ADMIN"
	RoleUser  AccountRole = "USER"
	RoleGuest AccountRole = "GUEST"
)

// Valid reports whether r is a known role.
func (r AccountRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleGuest:
		return true
	}
	return false
}

// ActivationStatus is the lifecycle state gating whether login may proceed.
type ActivationStatus string

const (
	StatusNotActivated ActivationStatus = "NOT_ACTIVATED"
	StatusActive       ActivationStatus = "ACTIVE"
	StatusSuspended    ActivationStatus = "SUSPENDED"
	StatusDeleted      ActivationStatus = "DELETED"
)

// Account represents a row of the accounts table.
type Account struct {
	ID                  string           `db:"id" json:"id"`
	Email               string           `db:"email" json:"email"`
	PasswordHash        string           `db:"password_hash" json:"-"`
	FullName            string           `db:"full_name" json:"full_name"`
	DisplayName         string           `db:"display_name" json:"display_name"`
	ReferralCode        string           `db:"referral_code" json:"referral_code"`
	Role                AccountRole      `db:"role" json:"role"`
	Status              ActivationStatus `db:"status" json:"status"`
	FailedLoginAttempts int              `db:"failed_login_attempts" json:"failed_login_attempts"`
	LockedUntil         *time.Time       `db:"locked_until" json:"locked_until,omitempty"`
	SecurityVersion     int64            `db:"security_version" json:"-"`
	LastLogin           *time.Time       `db:"last_login" json:"last_login,omitempty"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`
}

// SecurityState is the slice of an account owned by the lockout state machine.
type SecurityState struct {
	Status         ActivationStatus
	FailedAttempts int
	LockedUntil    *time.Time
}

// SecurityState extracts the lockout-relevant fields of the account.
func (a *Account) SecurityState() SecurityState {
	return SecurityState{
		Status:         a.Status,
		FailedAttempts: a.FailedLoginAttempts,
		LockedUntil:    a.LockedUntil,
	}
}

// ApplySecurityState copies s onto the account.
func (a *Account) ApplySecurityState(s SecurityState) {
	a.Status = s.Status
	a.FailedLoginAttempts = s.FailedAttempts
	a.LockedUntil = s.LockedUntil
}

// Info returns the public projection of the account.
func (a *Account) Info() AccountInfo {
	return AccountInfo{
		ID:           a.ID,
		Email:        a.Email,
		FullName:     a.FullName,
		DisplayName:  a.DisplayName,
		ReferralCode: a.ReferralCode,
		Role:         a.Role,
		Status:       a.Status,
		CreatedAt:    a.CreatedAt,
	}
}

// AccountInfo describes an account in responses. It never carries the password hash.
type AccountInfo struct {
	ID           string           `json:"id"`
	Email        string           `json:"email"`
	FullName     string           `json:"full_name,omitempty"`
	DisplayName  string           `json:"display_name,omitempty"`
	ReferralCode string           `json:"referral_code"`
	Role         AccountRole      `json:"role"`
	Status       ActivationStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// AccountStatusSnapshot is the cached view of an account used by the downstream guard.
type AccountStatusSnapshot struct {
	ID          string           `json:"id"`
	Role        AccountRole      `json:"role"`
	Status      ActivationStatus `json:"status"`
	LockedUntil *time.Time       `json:"locked_until,omitempty"`
}

// SecurityState returns the lockout-relevant part of the snapshot.
func (s AccountStatusSnapshot) SecurityState() SecurityState {
	return SecurityState{Status: s.Status, LockedUntil: s.LockedUntil}
}

// ChangeStatusRequest is an administrative status command.
type ChangeStatusRequest struct {
	Action string `json:"action" validate:"required,oneof=activate suspend reinstate delete"`
}

// ChangeRoleRequest assigns a new role to an account.
type ChangeRoleRequest struct {
	Role AccountRole `json:"role" validate:"required,oneof=ADMIN USER GUEST"`
}
