// Package dashboard renders the protected admin pages.
package dashboard

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/connect-commerce/connect-admin/internal/session"
	"github.com/connect-commerce/connect-admin/internal/shared"
	"github.com/connect-commerce/connect-admin/internal/view"
)

// Section is one area of the admin console.
type Section struct {
	Path        string
	Name        string
	Description string
}

// Sections lists the console areas in navigation order.
var Sections = []Section{
	{Path: "/products", Name: "Products", Description: "Catalogue, pricing and stock levels."},
	{Path: "/orders", Name: "Orders", Description: "Order intake, fulfilment and refunds."},
	{Path: "/resellers", Name: "Resellers", Description: "Reseller accounts and commission tiers."},
	{Path: "/users", Name: "Users", Description: "Storefront customers and admin approvals."},
	{Path: "/quotes", Name: "Quotes", Description: "Bulk quotes awaiting review."},
}

type dashboardData struct {
	Sections   []Section
	VerifiedAt time.Time
}

// Handler serves the dashboard and section pages.
type Handler struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, templates: templates, csrf: csrf}
}

// MountRoutes registers the dashboard and one page per section.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dashboard", h.showDashboard)
	for _, section := range Sections {
		section := section
		r.Get(section.Path, func(w http.ResponseWriter, r *http.Request) {
			h.render(w, r, "pages/section.html", section.Name, section)
		})
	}
}

func (h *Handler) showDashboard(w http.ResponseWriter, r *http.Request) {
	data := dashboardData{Sections: Sections}
	if store := session.FromContext(r.Context()); store != nil {
		data.VerifiedAt = store.VerifiedAt()
	}
	h.render(w, r, "pages/dashboard.html", "Dashboard", data)
}

// NotFound renders the 404 page.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	h.render(w, r, "pages/not_found.html", "Not found", nil)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name, title string, data any) {
	store := session.FromContext(r.Context())
	viewData := view.NewData(r, store, title)
	viewData.Data = data
	if h.csrf != nil && store != nil {
		if token, err := h.csrf.EnsureToken(r.Context(), store); err == nil {
			viewData.CSRFToken = token
		}
	}
	if err := h.templates.Render(w, name, viewData); err != nil {
		h.logger.Error("render", slog.String("template", name), slog.Any("error", err))
	}
}
