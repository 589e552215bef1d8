package dashboard_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connect-commerce/connect-admin/internal/dashboard"
	"github.com/connect-commerce/connect-admin/internal/session"
	"github.com/connect-commerce/connect-admin/internal/shared"
	"github.com/connect-commerce/connect-admin/internal/view"
	_ "github.com/connect-commerce/connect-admin/testing"
)

func newRouter(t *testing.T) (http.Handler, *session.Manager) {
	t.Helper()
	templates, err := view.NewEngine()
	require.NoError(t, err)
	manager := session.NewManager(nil, "", 0, false, nil)
	h := dashboard.NewHandler(nil, templates, shared.NewCSRFManager("csrf"))
	r := chi.NewRouter()
	r.Use(manager.Middleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session.FromContext(r.Context()).Login(context.Background(), session.Identity{ID: "9", Username: "rina", DisplayName: "Rina Putri"})
			next.ServeHTTP(w, r)
		})
	})
	h.MountRoutes(r)
	r.NotFound(h.NotFound)
	return r, manager
}

func TestDashboardListsSections(t *testing.T) {
	router, _ := newRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Welcome, Rina Putri")
	for _, s := range dashboard.Sections {
		assert.Contains(t, body, `href="`+s.Path+`"`)
	}
	assert.Contains(t, body, `name="csrf_token"`, "sign out form carries a csrf token")
}

func TestSectionPages(t *testing.T) {
	router, _ := newRouter(t)
	for _, s := range dashboard.Sections {
		t.Run(s.Name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, s.Path, nil))
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Contains(t, rr.Body.String(), "<h1>"+s.Name+"</h1>")
		})
	}
}

func TestNotFound(t *testing.T) {
	router, _ := newRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "Page not found")
}
