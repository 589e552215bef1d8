package auth

import (
	"strconv"
	"time"

	"github.com/connect-commerce/connect-admin/internal/session"
)

// Admin represents an administrator account.
type Admin struct {
	ID           int64
	Email        string
	Username     string
	DisplayName  string
	PasswordHash string
	Status       bool
	AdminStatus  bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the account may hold a session.
func (a Admin) Active() bool {
	return a.Status && a.AdminStatus
}

// Identity projects the account onto the session identity.
func (a Admin) Identity() session.Identity {
	return session.Identity{
		ID:          strconv.FormatInt(a.ID, 10),
		Email:       a.Email,
		Username:    a.Username,
		DisplayName: a.DisplayName,
		Status:      a.Status,
		AdminStatus: a.AdminStatus,
	}
}

// NewAdmin carries the fields needed to create an account.
type NewAdmin struct {
	Email        string
	Username     string
	DisplayName  string
	PasswordHash string
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	Username    string
	DisplayName string
}

// LoginEvent is emitted after a successful login.
type LoginEvent struct {
	AdminID   int64     `json:"admin_id"`
	TokenID   string    `json:"token_id"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	At        time.Time `json:"at"`
}
