package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Store is the per-browser session state for one request. It is created by
// Manager.Load, mutated through its operations and persisted on every mutation.
//
// The EdgeSignal cookie is queued as a side effect of Login/Logout and only
// reaches the browser when the response headers are committed, so the cookie
// may briefly disagree with the in-memory flag.
type Store struct {
	id         string
	state      Session
	verifiedAt time.Time
	csrfToken  string
	flashes    []FlashMessage
	loading    bool
	pending    []*http.Cookie
	manager    *Manager
}

// ID returns the browser identifier the store is keyed by.
func (s *Store) ID() string {
	return s.id
}

// Login marks the session authenticated for identity and raises the EdgeSignal.
// The browser id is rotated so an id handed out before login cannot reach the
// authenticated record.
func (s *Store) Login(ctx context.Context, identity Identity) {
	id := identity
	s.state = Session{Authenticated: true, Identity: &id}
	s.rotateID(ctx)
	s.queueCookie(edgeSignalSetCookie(s.secure()))
	s.persist(ctx)
}

// Logout clears the session and expires the EdgeSignal.
func (s *Store) Logout(ctx context.Context) {
	s.state = Session{}
	s.verifiedAt = time.Time{}
	s.csrfToken = ""
	s.flashes = nil
	s.queueCookie(edgeSignalClearCookie(s.secure()))
	if s.manager == nil || s.manager.persister == nil {
		return
	}
	if err := s.manager.persister.Delete(ctx, s.id); err != nil {
		s.logger().Warn("session delete failed", slog.String("session", s.id), slog.Any("error", err))
	}
}

// UpdateIdentity merges patch into the current identity. Without a stored
// identity the call is a no-op.
func (s *Store) UpdateIdentity(ctx context.Context, patch IdentityPatch) {
	if s.state.Identity == nil || patch.Empty() {
		return
	}
	next := patch.apply(*s.state.Identity)
	s.state.Identity = &next
	s.persist(ctx)
}

// CheckAuth is the cheap local check: both the flag and an identity must be present.
func (s *Store) CheckAuth() bool {
	return s.state.Authenticated && s.state.Identity != nil
}

// Identity returns a copy of the stored identity, or nil.
func (s *Store) Identity() *Identity {
	if s.state.Identity == nil {
		return nil
	}
	id := *s.state.Identity
	return &id
}

// Snapshot returns a copy of the current session state.
func (s *Store) Snapshot() Session {
	snap := s.state
	snap.Identity = s.Identity()
	return snap
}

// SetError records a transient, user-facing error.
func (s *Store) SetError(msg string) {
	s.state.TransientError = msg
}

// ClearError drops the transient error.
func (s *Store) ClearError() {
	s.state.TransientError = ""
}

// SetLoading toggles the shared loading flag.
func (s *Store) SetLoading(v bool) {
	s.loading = v
}

// Loading reports whether an authoritative check is in flight.
func (s *Store) Loading() bool {
	return s.loading
}

// VerifiedAt returns when the session last passed the authoritative check.
func (s *Store) VerifiedAt() time.Time {
	return s.verifiedAt
}

// MarkVerified stamps the last authoritative check.
func (s *Store) MarkVerified(ctx context.Context, at time.Time) {
	s.verifiedAt = at.UTC()
	s.persist(ctx)
}

// CSRFToken returns the token bound to this browser, if any.
func (s *Store) CSRFToken() string {
	return s.csrfToken
}

// SetCSRFToken binds a CSRF token to this browser.
func (s *Store) SetCSRFToken(ctx context.Context, token string) {
	s.csrfToken = token
	s.persist(ctx)
}

// AddFlash queues a flash message.
func (s *Store) AddFlash(ctx context.Context, msg FlashMessage) {
	s.flashes = append(s.flashes, msg)
	s.persist(ctx)
}

// PopFlash retrieves and clears the oldest flash message.
func (s *Store) PopFlash(ctx context.Context) *FlashMessage {
	if len(s.flashes) == 0 {
		return nil
	}
	msg := s.flashes[0]
	s.flashes = s.flashes[1:]
	s.persist(ctx)
	return &msg
}

// PendingCookies returns the cookies queued for the next response.
func (s *Store) PendingCookies() []*http.Cookie {
	return append([]*http.Cookie(nil), s.pending...)
}

func (s *Store) queueCookie(c *http.Cookie) {
	for i, existing := range s.pending {
		if existing.Name == c.Name {
			s.pending[i] = c
			return
		}
	}
	s.pending = append(s.pending, c)
}

func (s *Store) record() Record {
	return Record{
		IsAuthenticated: s.state.Authenticated,
		Admin:           s.Identity(),
		VerifiedAt:      s.verifiedAt,
		CSRFToken:       s.csrfToken,
		Flashes:         s.flashes,
	}
}

// persist writes through to durable storage. Failures are logged and the
// in-memory state stays authoritative for the rest of the request.
func (s *Store) persist(ctx context.Context) {
	if s.manager == nil || s.manager.persister == nil {
		return
	}
	rec := s.record()
	var err error
	if rec.empty() {
		err = s.manager.persister.Delete(ctx, s.id)
	} else {
		err = s.manager.persister.Write(ctx, s.id, rec)
	}
	if err != nil {
		s.logger().Warn("session persist failed", slog.String("session", s.id), slog.Any("error", err))
	}
}

func (s *Store) rotateID(ctx context.Context) {
	previous := s.id
	s.id = newBrowserID()
	if previous == "" || s.manager == nil || s.manager.persister == nil {
		return
	}
	if err := s.manager.persister.Delete(ctx, previous); err != nil {
		s.logger().Warn("session rotate failed", slog.String("session", previous), slog.Any("error", err))
	}
}

func (s *Store) secure() bool {
	return s.manager != nil && s.manager.secure
}

func (s *Store) logger() *slog.Logger {
	if s.manager != nil && s.manager.logger != nil {
		return s.manager.logger
	}
	return slog.Default()
}
