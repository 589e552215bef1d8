// Package guard performs the authoritative session check in front of
// protected views and reconciles the session store with its result.
//
// Every mount is a small state machine:
//
//	Checking -> Verified     (render children)
//	Checking -> Redirecting  (login with return target, children never render)
//	Checking -> Detached     (request gone mid-check, result discarded)
//
// A store that already reports authenticated skips Checking. With a zero
// RevalidateAfter that trust lasts until the next unauthenticated mount; a
// positive value bounds how long a stale session may keep rendering.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/connect-commerce/connect-admin/internal/edge"
	"github.com/connect-commerce/connect-admin/internal/session"
)

// Status is the verifier's answer.
type Status struct {
	IsAuthenticated bool              `json:"isAuthenticated"`
	Admin           *session.Identity `json:"admin"`
}

// Verifier is the authority on whether a credential denotes an active admin.
// Invalid or expired credentials may be reported either as an error or as
// IsAuthenticated=false; the guard treats both the same way.
type Verifier interface {
	Execute(ctx context.Context, credential string) (Status, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, credential string) (Status, error)

// Execute calls f.
func (f VerifierFunc) Execute(ctx context.Context, credential string) (Status, error) {
	return f(ctx, credential)
}

// State is a mount state.
type State int

const (
	StateChecking State = iota
	StateVerified
	StateRedirecting
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateVerified:
		return "verified"
	case StateRedirecting:
		return "redirecting"
	case StateDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of a mount.
type Outcome struct {
	State        State
	RedirectTo   string
	ShortCircuit bool
}

// Observer receives terminal outcomes.
type Observer interface {
	ObserveGuard(state State, shortCircuit bool)
}

// Config tunes the guard.
type Config struct {
	LoginPath       string
	RevalidateAfter time.Duration
	VerifyTimeout   time.Duration
}

// Guard runs the authoritative check.
type Guard struct {
	verifier Verifier
	cfg      Config
	logger   *slog.Logger
	observer Observer
	group    singleflight.Group
	now      func() time.Time
}

// New constructs a Guard.
func New(verifier Verifier, cfg Config, logger *slog.Logger, observer Observer) *Guard {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{verifier: verifier, cfg: cfg, logger: logger, observer: observer, now: time.Now}
}

// Mount runs the check for one protected view and reconciles store.
func (g *Guard) Mount(ctx context.Context, store *session.Store, credential, returnTo string) Outcome {
	out := g.mount(ctx, store, credential, returnTo)
	if g.observer != nil {
		g.observer.ObserveGuard(out.State, out.ShortCircuit)
	}
	return out
}

func (g *Guard) mount(ctx context.Context, store *session.Store, credential, returnTo string) Outcome {
	redirect := Outcome{State: StateRedirecting, RedirectTo: edge.LoginURL(g.cfg.LoginPath, returnTo)}
	if store == nil {
		g.logger.Error("guard mounted without session store")
		return redirect
	}
	if store.CheckAuth() && !g.stale(store) {
		return Outcome{State: StateVerified, ShortCircuit: true}
	}

	store.SetLoading(true)
	defer store.SetLoading(false)

	status, err := g.verify(ctx, store.ID(), credential)
	if ctx.Err() != nil {
		return Outcome{State: StateDetached}
	}
	if err != nil {
		g.logger.Warn("session verification failed", slog.String("session", store.ID()), slog.Any("error", err))
		status = Status{}
	}

	if !status.IsAuthenticated || status.Admin == nil {
		store.Logout(ctx)
		return redirect
	}

	current := store.Identity()
	if !store.CheckAuth() || current == nil || current.ID != status.Admin.ID {
		store.Login(ctx, *status.Admin)
	}
	store.MarkVerified(ctx, g.now())
	return Outcome{State: StateVerified}
}

func (g *Guard) stale(store *session.Store) bool {
	if g.cfg.RevalidateAfter <= 0 {
		return false
	}
	verified := store.VerifiedAt()
	return verified.IsZero() || g.now().Sub(verified) > g.cfg.RevalidateAfter
}

// verify calls the verifier once per browser even when several requests from
// the same browser mount concurrently.
func (g *Guard) verify(ctx context.Context, key, credential string) (Status, error) {
	if g.verifier == nil {
		return Status{}, errors.New("guard: verifier not configured")
	}
	resultChan := g.group.DoChan(key+"|"+credential, func() (interface{}, error) {
		callCtx := context.WithoutCancel(ctx)
		if g.cfg.VerifyTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, g.cfg.VerifyTimeout)
			defer cancel()
		}
		return g.verifier.Execute(callCtx, credential)
	})
	select {
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Status{}, res.Err
		}
		status, _ := res.Val.(Status)
		return status, nil
	}
}

// CredentialFunc extracts the credential presented by a request.
type CredentialFunc func(r *http.Request) string

// CookieCredential reads the credential from the named cookie.
func CookieCredential(name string) CredentialFunc {
	return func(r *http.Request) string {
		cookie, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return cookie.Value
	}
}

// Middleware wraps protected handlers with Mount.
func (g *Guard) Middleware(credential CredentialFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store := session.FromContext(r.Context())
			token := ""
			if credential != nil {
				token = credential(r)
			}
			out := g.Mount(r.Context(), store, token, r.URL.Path)
			switch out.State {
			case StateVerified:
				next.ServeHTTP(w, r)
			case StateRedirecting:
				http.Redirect(w, r, out.RedirectTo, http.StatusSeeOther)
			default:
				// Detached: the client is gone, nothing to write.
			}
		})
	}
}
