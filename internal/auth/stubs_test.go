package auth_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/connect-commerce/connect-admin/internal/auth"
	"github.com/connect-commerce/connect-admin/internal/shared"
)

type stubRepo struct {
	mu       sync.Mutex
	admins   map[int64]*auth.Admin
	nextID   int64
	findByID int
	failWith error
}

func newStubRepo() *stubRepo {
	return &stubRepo{admins: make(map[int64]*auth.Admin), nextID: 1}
}

func (s *stubRepo) add(t *testing.T, email, password string, approved bool) *auth.Admin {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	admin := &auth.Admin{
		ID:           s.nextID,
		Email:        email,
		Username:     strings.Split(email, "@")[0],
		DisplayName:  "Admin " + email,
		PasswordHash: string(hash),
		Status:       true,
		AdminStatus:  approved,
		CreatedAt:    time.Now(),
	}
	s.admins[admin.ID] = admin
	s.nextID++
	return admin
}

func (s *stubRepo) set(admin auth.Admin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := admin
	s.admins[a.ID] = &a
}

func (s *stubRepo) FindByEmail(_ context.Context, email string) (*auth.Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	for _, a := range s.admins {
		if strings.EqualFold(a.Email, email) {
			found := *a
			return &found, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) FindByID(_ context.Context, id int64) (*auth.Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findByID++
	if s.failWith != nil {
		return nil, s.failWith
	}
	a, ok := s.admins[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (s *stubRepo) Create(_ context.Context, in auth.NewAdmin) (*auth.Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.admins {
		if strings.EqualFold(a.Email, in.Email) || a.Username == in.Username {
			return nil, shared.ErrDuplicate
		}
	}
	admin := &auth.Admin{
		ID:           s.nextID,
		Email:        in.Email,
		Username:     in.Username,
		DisplayName:  in.DisplayName,
		PasswordHash: in.PasswordHash,
		Status:       true,
		AdminStatus:  false,
	}
	s.admins[admin.ID] = admin
	s.nextID++
	out := *admin
	return &out, nil
}

func (s *stubRepo) UpdateProfile(_ context.Context, id int64, update auth.ProfileUpdate) (*auth.Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.admins[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	for _, other := range s.admins {
		if other.ID != id && other.Username == update.Username {
			return nil, shared.ErrDuplicate
		}
	}
	a.Username = update.Username
	a.DisplayName = update.DisplayName
	out := *a
	return &out, nil
}

func (s *stubRepo) findByIDCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByID
}

type stubRecorder struct {
	mu     sync.Mutex
	events []auth.LoginEvent
}

func (r *stubRecorder) RecordLogin(_ context.Context, event auth.LoginEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *stubRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type stubRevoker struct {
	revoked map[string]time.Time
}

func (r *stubRevoker) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	if r.revoked == nil {
		r.revoked = make(map[string]time.Time)
	}
	r.revoked[tokenID] = expiresAt
	return nil
}

type forgetSpy struct {
	forgotten []int64
}

func (f *forgetSpy) Forget(id int64) {
	f.forgotten = append(f.forgotten, id)
}

func mustIssuer(t *testing.T) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("token-secret", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	return issuer
}
