package session

import "time"

// Identity describes the administrator a session belongs to. It is replaced
// wholesale whenever the authoritative check returns a different admin.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Status      bool   `json:"status"`
	AdminStatus bool   `json:"adminStatus"`
}

// IdentityPatch carries a partial identity update. Nil fields are left untouched.
type IdentityPatch struct {
	Email       *string
	Username    *string
	DisplayName *string
	Status      *bool
	AdminStatus *bool
}

// Empty reports whether the patch changes nothing.
func (p IdentityPatch) Empty() bool {
	return p.Email == nil && p.Username == nil && p.DisplayName == nil && p.Status == nil && p.AdminStatus == nil
}

func (p IdentityPatch) apply(id Identity) Identity {
	if p.Email != nil {
		id.Email = *p.Email
	}
	if p.Username != nil {
		id.Username = *p.Username
	}
	if p.DisplayName != nil {
		id.DisplayName = *p.DisplayName
	}
	if p.Status != nil {
		id.Status = *p.Status
	}
	if p.AdminStatus != nil {
		id.AdminStatus = *p.AdminStatus
	}
	return id
}

// Session is a point-in-time copy of the store state.
// Authenticated implies Identity != nil.
type Session struct {
	Authenticated  bool
	Identity       *Identity
	TransientError string
}

// FlashMessage represents a one-time notification stored in session.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Record is the persisted shape of a session partition entry.
type Record struct {
	IsAuthenticated bool           `json:"isAuthenticated"`
	Admin           *Identity      `json:"admin,omitempty"`
	VerifiedAt      time.Time      `json:"verifiedAt,omitempty"`
	CSRFToken       string         `json:"csrfToken,omitempty"`
	Flashes         []FlashMessage `json:"flashes,omitempty"`
}

func (r Record) empty() bool {
	return !r.IsAuthenticated && r.Admin == nil && r.CSRFToken == "" && len(r.Flashes) == 0
}
