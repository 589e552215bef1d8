package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connect-commerce/connect-admin/internal/session"
)

var testAdmin = session.Identity{
	ID:          "42",
	Email:       "ops@connect.test",
	Username:    "ops",
	DisplayName: "Ops Admin",
	Status:      true,
	AdminStatus: true,
}

func newManager(t *testing.T) (*session.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	persister := session.NewRedisPersister(client, "", 7*24*time.Hour)
	return session.NewManager(persister, "", 7*24*time.Hour, false, nil), mr
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginThenCheckAuth(t *testing.T) {
	manager, _ := newManager(t)
	store := manager.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.False(t, store.CheckAuth())
	store.Login(context.Background(), testAdmin)

	assert.True(t, store.CheckAuth())
	require.NotNil(t, store.Identity())
	assert.Equal(t, testAdmin, *store.Identity())

	signal := findCookie(store.PendingCookies(), session.EdgeSignalCookie)
	require.NotNil(t, signal)
	assert.Equal(t, "true", signal.Value)
	assert.Equal(t, "/", signal.Path)
	assert.Equal(t, 7*24*60*60, signal.MaxAge)
}

func TestLogoutClearsStateSignalAndStorage(t *testing.T) {
	manager, mr := newManager(t)
	ctx := context.Background()
	store := manager.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	store.Login(ctx, testAdmin)
	require.True(t, mr.Exists(session.DefaultPartition+":"+store.ID()))

	store.Logout(ctx)

	assert.False(t, store.CheckAuth())
	assert.Nil(t, store.Identity())
	signal := findCookie(store.PendingCookies(), session.EdgeSignalCookie)
	require.NotNil(t, signal)
	assert.Empty(t, signal.Value)
	assert.Less(t, signal.MaxAge, 0)
	assert.False(t, mr.Exists(session.DefaultPartition+":"+store.ID()))
}

func TestLoginClearsTransientError(t *testing.T) {
	manager, _ := newManager(t)
	store := manager.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	store.SetError("invalid credentials")

	store.Login(context.Background(), testAdmin)

	assert.Empty(t, store.Snapshot().TransientError)
}

func TestUpdateIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("no session is a no-op", func(t *testing.T) {
		manager, _ := newManager(t)
		store := manager.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
		name := "Someone"
		store.UpdateIdentity(ctx, session.IdentityPatch{DisplayName: &name})
		assert.Nil(t, store.Identity())
		assert.False(t, store.CheckAuth())
	})

	t.Run("empty patch leaves identity unchanged", func(t *testing.T) {
		manager, _ := newManager(t)
		store := manager.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
		store.Login(ctx, testAdmin)
		store.UpdateIdentity(ctx, session.IdentityPatch{})
		assert.Equal(t, testAdmin, *store.Identity())
	})

	t.Run("merges provided fields", func(t *testing.T) {
		manager, _ := newManager(t)
		store := manager.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
		store.Login(ctx, testAdmin)
		name := "Night Shift"
		store.UpdateIdentity(ctx, session.IdentityPatch{DisplayName: &name})

		got := store.Identity()
		require.NotNil(t, got)
		assert.Equal(t, "Night Shift", got.DisplayName)
		assert.Equal(t, testAdmin.Email, got.Email)
		assert.Equal(t, testAdmin.ID, got.ID)
	})
}

func TestLoadRestoresPersistedSession(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	first := manager.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	first.Login(ctx, testAdmin)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: manager.CookieName(), Value: first.ID()})
	second := manager.Load(ctx, req)

	assert.Equal(t, first.ID(), second.ID())
	assert.True(t, second.CheckAuth())
	assert.Equal(t, testAdmin, *second.Identity())
}

func TestLoadTreatsCorruptRecordAsEmpty(t *testing.T) {
	manager, mr := newManager(t)
	require.NoError(t, mr.Set(session.DefaultPartition+":abc", "{not json"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: manager.CookieName(), Value: "abc"})
	store := manager.Load(context.Background(), req)

	assert.NotEqual(t, "abc", store.ID())
	assert.False(t, store.CheckAuth())
}

func TestLoadReplacesUnknownBrowserID(t *testing.T) {
	manager, _ := newManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: manager.CookieName(), Value: "planted-id"})
	store := manager.Load(context.Background(), req)

	assert.NotEqual(t, "planted-id", store.ID())
	_, err := uuid.Parse(store.ID())
	assert.NoError(t, err, "browser ids are random uuids")
}

func TestLoginRotatesBrowserID(t *testing.T) {
	manager, mr := newManager(t)
	ctx := context.Background()

	anonymous := manager.Load(ctx, httptest.NewRequest(http.MethodGet, "/login", nil))
	anonymous.AddFlash(ctx, session.FlashMessage{Kind: "info", Message: "Please sign in"})
	before := anonymous.ID()
	require.True(t, mr.Exists(session.DefaultPartition+":"+before))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.AddCookie(&http.Cookie{Name: manager.CookieName(), Value: before})
	store := manager.Load(ctx, req)
	require.Equal(t, before, store.ID())
	store.Login(ctx, testAdmin)

	assert.NotEqual(t, before, store.ID())
	assert.False(t, mr.Exists(session.DefaultPartition+":"+before))
	assert.True(t, mr.Exists(session.DefaultPartition+":"+store.ID()))

	stale := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	stale.AddCookie(&http.Cookie{Name: manager.CookieName(), Value: before})
	replayed := manager.Load(ctx, stale)
	assert.NotEqual(t, before, replayed.ID())
	assert.False(t, replayed.CheckAuth())
}

func TestLoadIgnoresAuthenticatedRecordWithoutIdentity(t *testing.T) {
	manager, mr := newManager(t)
	require.NoError(t, mr.Set(session.DefaultPartition+":abc", `{"isAuthenticated":true}`))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: manager.CookieName(), Value: "abc"})
	store := manager.Load(context.Background(), req)

	assert.False(t, store.CheckAuth())
}

type failingPersister struct{}

func (failingPersister) Read(context.Context, string) (session.Record, bool, error) {
	return session.Record{}, false, errors.New("quota exceeded")
}

func (failingPersister) Write(context.Context, string, session.Record) error {
	return errors.New("quota exceeded")
}

func (failingPersister) Delete(context.Context, string) error {
	return errors.New("quota exceeded")
}

func TestStorageFailureIsNeverFatal(t *testing.T) {
	manager := session.NewManager(failingPersister{}, "", time.Hour, false, nil)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: manager.CookieName(), Value: "abc"})
	store := manager.Load(ctx, req)
	require.False(t, store.CheckAuth())

	store.Login(ctx, testAdmin)
	assert.True(t, store.CheckAuth())

	store.Logout(ctx)
	assert.False(t, store.CheckAuth())
}

func TestMiddlewareCommitsCookiesBeforeHeader(t *testing.T) {
	manager, _ := newManager(t)
	handler := manager.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store := session.FromContext(r.Context())
		require.NotNil(t, store)
		store.Login(r.Context(), testAdmin)
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/login", nil))

	assert.Equal(t, http.StatusSeeOther, res.Code)
	cookies := res.Result().Cookies()
	assert.NotNil(t, findCookie(cookies, manager.CookieName()))
	signal := findCookie(cookies, session.EdgeSignalCookie)
	require.NotNil(t, signal)
	assert.Equal(t, "true", signal.Value)
}

func TestMiddlewareCommitsWhenHandlerWritesNothing(t *testing.T) {
	manager, _ := newManager(t)
	handler := manager.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session.FromContext(r.Context()).Logout(r.Context())
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/logout", nil))

	signal := findCookie(res.Result().Cookies(), session.EdgeSignalCookie)
	require.NotNil(t, signal)
	assert.Less(t, signal.MaxAge, 0)
}

func TestReadEdgeSignal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, bool(session.ReadEdgeSignal(req)))

	req.AddCookie(&http.Cookie{Name: session.EdgeSignalCookie, Value: "true"})
	assert.True(t, bool(session.ReadEdgeSignal(req)))

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.AddCookie(&http.Cookie{Name: session.EdgeSignalCookie, Value: "yes"})
	assert.False(t, bool(session.ReadEdgeSignal(other)))
}

func TestFlashRoundTrip(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()
	store := manager.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))

	store.AddFlash(ctx, session.FlashMessage{Kind: "success", Message: "Welcome back"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: manager.CookieName(), Value: store.ID()})
	reloaded := manager.Load(ctx, req)

	flash := reloaded.PopFlash(ctx)
	require.NotNil(t, flash)
	assert.Equal(t, "Welcome back", flash.Message)
	assert.Nil(t, reloaded.PopFlash(ctx))
}
