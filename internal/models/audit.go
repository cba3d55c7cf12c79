package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// AuditAction constants represent actions to be logged.
const (
	AuditActionRegister       = "REGISTER"
	AuditActionLogin          = "LOGIN"
	AuditActionLoginFailed    = "LOGIN_FAILED"
	AuditActionAccountLocked  = "ACCOUNT_LOCKED"
	AuditActionRefresh        = "REFRESH"
	AuditActionLogout         = "LOGOUT"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionStatusChange   = "ACCOUNT_STATUS_CHANGE"
	AuditActionRoleChange     = "ACCOUNT_ROLE_CHANGE"
)

// JSONPayload is a raw JSON document stored in a JSONB or TEXT column.
type JSONPayload []byte

// Value implements driver.Valuer. Payloads are sent as text so that Postgres
// parses them as JSON instead of bytea.
func (p JSONPayload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return string(p), nil
}

// Scan implements sql.Scanner.
func (p *JSONPayload) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append((*p)[:0], v...)
	case string:
		*p = JSONPayload(v)
	default:
		return fmt.Errorf("unsupported json payload type %T", src)
	}
	return nil
}

// MarshalJSON embeds the payload as-is.
func (p JSONPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON keeps a copy of the raw document.
func (p *JSONPayload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = nil
		return nil
	}
	*p = append((*p)[:0], data...)
	return nil
}

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string      `db:"id" json:"id"`
	AccountID  *string     `db:"account_id" json:"account_id,omitempty"`
	Action     string      `db:"action" json:"action"`
	Resource   string      `db:"resource" json:"resource"`
	ResourceID *string     `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  JSONPayload `db:"old_values" json:"old_values,omitempty"`
	NewValues  JSONPayload `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string      `db:"ip_address" json:"ip_address"`
	UserAgent  string      `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	AccountID string
	Action    string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}
