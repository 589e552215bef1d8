package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultBrowserCookie names the HttpOnly cookie holding the browser identifier.
const DefaultBrowserCookie = "connect-admin-sid"

// Manager loads and commits per-browser stores.
type Manager struct {
	persister  Persister
	cookieName string
	ttl        time.Duration
	secure     bool
	logger     *slog.Logger
}

// NewManager constructs a Manager.
func NewManager(persister Persister, cookieName string, ttl time.Duration, secure bool, logger *slog.Logger) *Manager {
	if cookieName == "" {
		cookieName = DefaultBrowserCookie
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		persister:  persister,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		logger:     logger,
	}
}

// Load returns the store for the request. A browser id is only adopted when a
// record exists for it; unknown ids get a fresh one. Storage failures are
// logged and yield an empty store; they never fail the request.
func (m *Manager) Load(ctx context.Context, r *http.Request) *Store {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" || m.persister == nil {
		return m.newStore(newBrowserID())
	}

	rec, found, err := m.persister.Read(ctx, cookie.Value)
	if err != nil {
		m.logger.Warn("session load failed, continuing without persisted state",
			slog.String("session", cookie.Value), slog.Any("error", err))
		return m.newStore(newBrowserID())
	}
	if !found {
		return m.newStore(newBrowserID())
	}

	store := m.newStore(cookie.Value)
	store.csrfToken = rec.CSRFToken
	store.flashes = rec.Flashes
	if rec.IsAuthenticated && rec.Admin != nil {
		admin := *rec.Admin
		store.state = Session{Authenticated: true, Identity: &admin}
		store.verifiedAt = rec.VerifiedAt
	}
	return store
}

// Commit writes the browser cookie and any queued cookies to w.
func (m *Manager) Commit(w http.ResponseWriter, store *Store) {
	if store == nil {
		return
	}
	if store.id != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     m.cookieName,
			Value:    store.id,
			Path:     "/",
			HttpOnly: true,
			Secure:   m.secure,
			SameSite: http.SameSiteLaxMode,
			Expires:  time.Now().Add(m.ttl),
		})
	}
	for _, c := range store.pending {
		http.SetCookie(w, c)
	}
	store.pending = nil
}

// TTL exposes the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// CookieName returns the browser cookie identifier.
func (m *Manager) CookieName() string {
	return m.cookieName
}

// Secure reports whether cookies are issued with the Secure attribute.
func (m *Manager) Secure() bool {
	return m.secure
}

// Middleware loads the store, attaches it to the request context and commits
// cookies right before the response header is written.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store := m.Load(r.Context(), r)
		ctx := WithStore(r.Context(), store)
		wrapped := &commitWriter{ResponseWriter: w, store: store, manager: m}
		next.ServeHTTP(wrapped, r.WithContext(ctx))
		wrapped.commit()
	})
}

func (m *Manager) newStore(id string) *Store {
	return &Store{id: id, manager: m}
}

// newBrowserID returns a random browser id. uuid panics when the system
// random source fails, so a guessable id is never issued.
func newBrowserID() string {
	return uuid.NewString()
}

type commitWriter struct {
	http.ResponseWriter
	store     *Store
	manager   *Manager
	committed bool
}

func (w *commitWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true
	w.manager.Commit(w.ResponseWriter, w.store)
}

func (w *commitWriter) WriteHeader(statusCode int) {
	w.commit()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *commitWriter) Write(data []byte) (int, error) {
	if !w.committed {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *commitWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
