package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/connect-commerce/connect-admin/internal/guard"
	"github.com/connect-commerce/connect-admin/internal/platform/httpx"
	"github.com/connect-commerce/connect-admin/internal/session"
	"github.com/connect-commerce/connect-admin/internal/shared"
	"github.com/connect-commerce/connect-admin/internal/view"
)

// LoginRecorder receives successful logins for auditing.
type LoginRecorder interface {
	RecordLogin(ctx context.Context, event LoginEvent) error
}

// HandlerConfig holds the paths and cookie policy used by Handler.
type HandlerConfig struct {
	LoginPath     string
	LandingPath   string
	SecureCookies bool
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	verifier  guard.Verifier
	templates *view.Engine
	csrf      *shared.CSRFManager
	recorder  LoginRecorder
	validator *validator.Validate
	cfg       HandlerConfig
}

// NewHandler constructs a Handler instance. recorder may be nil.
func NewHandler(logger *slog.Logger, service *Service, verifier guard.Verifier, templates *view.Engine, csrf *shared.CSRFManager, recorder LoginRecorder, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.LandingPath == "" {
		cfg.LandingPath = "/dashboard"
	}
	return &Handler{
		logger:    logger,
		service:   service,
		verifier:  verifier,
		templates: templates,
		csrf:      csrf,
		recorder:  recorder,
		validator: validator.New(),
		cfg:       cfg,
	}
}

// MountRoutes registers the public auth pages and the status endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Get("/register", h.showRegister)
	r.Post("/register", h.handleRegister)
	r.Post("/logout", h.handleLogout)
	r.Get("/api/auth/status", h.handleStatus)
}

// MountProtectedRoutes registers the pages that require a verified session.
func (h *Handler) MountProtectedRoutes(r chi.Router) {
	r.Get("/settings/profile", h.showProfile)
	r.Post("/settings/profile", h.handleProfile)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
	Redirect string `validate:"-"`
}

type registerForm struct {
	Email           string `validate:"required,email,max=254"`
	Username        string `validate:"required,alphanum,min=3,max=64"`
	DisplayName     string `validate:"max=128"`
	Password        string `validate:"required,min=8,max=72"`
	PasswordConfirm string `validate:"required,eqfield=Password"`
}

type profileForm struct {
	Username    string `validate:"required,alphanum,min=3,max=64"`
	DisplayName string `validate:"max=128"`
}

type formPageData[T any] struct {
	Form   T
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	form := loginForm{Redirect: r.URL.Query().Get("redirect")}
	h.render(w, r, http.StatusOK, "pages/login.html", "Sign in", formPageData[loginForm]{Form: form})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	store := session.FromContext(r.Context())
	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
		Redirect: r.PostFormValue("redirect"),
	}
	errs := h.validate(form)
	if len(errs) == 0 {
		admin, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
		switch {
		case err == nil:
			if h.signIn(w, r, store, admin) {
				http.Redirect(w, r, SafeRedirect(form.Redirect, h.cfg.LandingPath, h.cfg.LoginPath), http.StatusSeeOther)
				return
			}
			errs["general"] = "Sign in is temporarily unavailable"
		case errors.Is(err, shared.ErrInvalidCredentials):
			errs["general"] = "Invalid email or password"
		default:
			h.logger.Error("authenticate", slog.Any("error", err))
			errs["general"] = "Sign in is temporarily unavailable"
		}
	}
	if store != nil {
		store.SetError(errs["general"])
	}
	form.Password = ""
	h.render(w, r, http.StatusBadRequest, "pages/login.html", "Sign in", formPageData[loginForm]{Form: form, Errors: errs})
}

// signIn issues the credential, marks the session authenticated and records
// the login. It reports false when the credential could not be issued.
func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, store *session.Store, admin *Admin) bool {
	token, claims, err := h.service.IssueCredential(admin)
	if err != nil {
		h.logger.Error("issue credential", slog.Int64("admin_id", admin.ID), slog.Any("error", err))
		return false
	}
	http.SetCookie(w, h.credentialCookie(token, claims.ExpiresAt.Time))
	if store != nil {
		store.Login(r.Context(), admin.Identity())
		store.MarkVerified(r.Context(), time.Now())
		store.AddFlash(r.Context(), session.FlashMessage{Kind: "success", Message: "Welcome back, " + displayName(admin) + "."})
	} else {
		h.logger.Error("session missing during login")
	}
	if h.recorder != nil {
		event := LoginEvent{
			AdminID:   admin.ID,
			TokenID:   claims.ID,
			IP:        r.RemoteAddr,
			UserAgent: r.UserAgent(),
			At:        time.Now().UTC(),
		}
		if err := h.recorder.RecordLogin(r.Context(), event); err != nil {
			h.logger.Warn("record login", slog.Int64("admin_id", admin.ID), slog.Any("error", err))
		}
	}
	return true
}

func (h *Handler) showRegister(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/register.html", "Create account", formPageData[registerForm]{})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := registerForm{
		Email:           strings.TrimSpace(r.PostFormValue("email")),
		Username:        strings.TrimSpace(r.PostFormValue("username")),
		DisplayName:     strings.TrimSpace(r.PostFormValue("display_name")),
		Password:        r.PostFormValue("password"),
		PasswordConfirm: r.PostFormValue("password_confirm"),
	}
	errs := h.validate(form)
	if len(errs) == 0 {
		_, err := h.service.Register(r.Context(), Registration{
			Email:       form.Email,
			Username:    form.Username,
			DisplayName: form.DisplayName,
			Password:    form.Password,
		})
		switch {
		case err == nil:
			if store := session.FromContext(r.Context()); store != nil {
				store.AddFlash(r.Context(), session.FlashMessage{Kind: "success", Message: "Account created. An administrator must approve it before you can sign in."})
			}
			http.Redirect(w, r, h.cfg.LoginPath, http.StatusSeeOther)
			return
		case errors.Is(err, shared.ErrDuplicate):
			errs["Email"] = "An account with this email or username already exists"
		default:
			h.logger.Error("register admin", slog.Any("error", err))
			errs["general"] = "Registration is temporarily unavailable"
		}
	}
	form.Password, form.PasswordConfirm = "", ""
	h.render(w, r, http.StatusBadRequest, "pages/register.html", "Create account", formPageData[registerForm]{Form: form, Errors: errs})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if raw := guard.CookieCredential(CredentialCookie)(r); raw != "" {
		if err := h.service.Logout(r.Context(), raw); err != nil {
			h.logger.Warn("revoke credential", slog.Any("error", err))
		}
	}
	http.SetCookie(w, h.clearCredentialCookie())
	if store := session.FromContext(r.Context()); store != nil {
		store.Logout(r.Context())
		store.AddFlash(r.Context(), session.FlashMessage{Kind: "info", Message: "You have been signed out."})
	}
	http.Redirect(w, r, h.cfg.LoginPath, http.StatusSeeOther)
}

// handleStatus answers the authoritative check over HTTP. Failures collapse
// to an unauthenticated answer so the endpoint always responds 200.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status guard.Status
	if h.verifier != nil {
		var err error
		status, err = h.verifier.Execute(r.Context(), guard.CookieCredential(CredentialCookie)(r))
		if err != nil {
			h.logger.Warn("auth status", slog.Any("error", err))
			status = guard.Status{}
		}
	}
	if !status.IsAuthenticated || status.Admin == nil {
		status = guard.Status{}
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) showProfile(w http.ResponseWriter, r *http.Request) {
	store := session.FromContext(r.Context())
	var form profileForm
	if store != nil {
		if identity := store.Identity(); identity != nil {
			form = profileForm{Username: identity.Username, DisplayName: identity.DisplayName}
		}
	}
	h.render(w, r, http.StatusOK, "pages/profile.html", "Profile", formPageData[profileForm]{Form: form})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	store := session.FromContext(r.Context())
	var identity *session.Identity
	if store != nil {
		identity = store.Identity()
	}
	if identity == nil {
		http.Redirect(w, r, h.cfg.LoginPath, http.StatusSeeOther)
		return
	}
	adminID, err := strconv.ParseInt(identity.ID, 10, 64)
	if err != nil {
		h.logger.Error("profile: bad identity id", slog.String("id", identity.ID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	form := profileForm{
		Username:    strings.TrimSpace(r.PostFormValue("username")),
		DisplayName: strings.TrimSpace(r.PostFormValue("display_name")),
	}
	errs := h.validate(form)
	if len(errs) == 0 {
		updated, err := h.service.UpdateProfile(r.Context(), adminID, ProfileUpdate{Username: form.Username, DisplayName: form.DisplayName})
		switch {
		case err == nil:
			store.UpdateIdentity(r.Context(), session.IdentityPatch{
				Username:    &updated.Username,
				DisplayName: &updated.DisplayName,
			})
			store.AddFlash(r.Context(), session.FlashMessage{Kind: "success", Message: "Profile updated."})
			http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
			return
		case errors.Is(err, shared.ErrDuplicate):
			errs["Username"] = "This username is already taken"
		default:
			h.logger.Error("update profile", slog.Int64("admin_id", adminID), slog.Any("error", err))
			errs["general"] = "Profile could not be saved"
		}
	}
	h.render(w, r, http.StatusBadRequest, "pages/profile.html", "Profile", formPageData[profileForm]{Form: form, Errors: errs})
}

func (h *Handler) validate(form any) map[string]string {
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				errs[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		} else {
			errs["general"] = err.Error()
		}
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Enter a valid email address"
	case "alphanum":
		return "Use letters and digits only"
	case "min":
		return "Must be at least " + fe.Param() + " characters"
	case "max":
		return "Must be at most " + fe.Param() + " characters"
	case "eqfield":
		return "Passwords do not match"
	default:
		return fe.Error()
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	store := session.FromContext(r.Context())
	viewData := view.NewData(r, store, title)
	viewData.Data = data
	if h.csrf != nil && store != nil {
		token, err := h.csrf.EnsureToken(r.Context(), store)
		if err != nil {
			h.logger.Warn("csrf token", slog.Any("error", err))
		}
		viewData.CSRFToken = token
	}
	if store != nil {
		store.ClearError()
	}
	if status != http.StatusOK {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, name, viewData); err != nil {
		h.logger.Error("render", slog.String("template", name), slog.Any("error", err))
		if status == http.StatusOK {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

func (h *Handler) credentialCookie(token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     CredentialCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *Handler) clearCredentialCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CredentialCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// SafeRedirect returns target when it is a same-origin absolute path that does
// not point back at the login page, and fallback otherwise.
func SafeRedirect(target, fallback, loginPath string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	if u.Path == loginPath || strings.HasPrefix(u.Path, loginPath+"/") {
		return fallback
	}
	return target
}

func displayName(a *Admin) string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Username
}
