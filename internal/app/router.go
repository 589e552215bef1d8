package app

import (
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/connect-commerce/connect-admin/internal/auth"
	"github.com/connect-commerce/connect-admin/internal/dashboard"
	"github.com/connect-commerce/connect-admin/internal/edge"
	"github.com/connect-commerce/connect-admin/internal/guard"
	"github.com/connect-commerce/connect-admin/internal/observability"
	"github.com/connect-commerce/connect-admin/internal/platform/httpx"
	"github.com/connect-commerce/connect-admin/internal/session"
	"github.com/connect-commerce/connect-admin/internal/shared"
	"github.com/connect-commerce/connect-admin/jobs"
	"github.com/connect-commerce/connect-admin/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Gate             *edge.Gate
	Guard            *guard.Guard
	SessionManager   *session.Manager
	CSRFManager      *shared.CSRFManager
	AuthHandler      *auth.Handler
	DashboardHandler *dashboard.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
	LandingPath      string
}

// NewRouter constructs the chi.Router with connect-admin defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		Gate:           params.Gate,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	landing := params.LandingPath
	if landing == "" {
		landing = "/dashboard"
	}
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, landing, http.StatusSeeOther)
	})

	loginRate := 0
	if params.Config != nil {
		loginRate = params.Config.LoginRateLimit
	}
	r.Group(func(r chi.Router) {
		r.Use(LoginLimiter(loginRate))
		params.AuthHandler.MountRoutes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(params.Guard.Middleware(guard.CookieCredential(auth.CredentialCookie)))
		if params.DashboardHandler != nil {
			params.DashboardHandler.MountRoutes(r)
		}
		params.AuthHandler.MountProtectedRoutes(r)
	})

	if params.JobHandler != nil {
		r.Route("/api/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || params.DashboardHandler == nil {
			httpx.RespondError(w, shared.ErrNotFound)
			return
		}
		params.DashboardHandler.NotFound(w, r)
	})

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
