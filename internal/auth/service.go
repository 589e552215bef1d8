package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/connect-commerce/connect-admin/internal/shared"
)

// Revoker invalidates credentials before they expire.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// IdentityCache drops cached account state after a profile change.
type IdentityCache interface {
	Forget(adminID int64)
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	tokens   *TokenIssuer
	revoker  Revoker
	cache    IdentityCache
	titler   cases.Caser
	hashCost int
}

// NewService constructs a new Service. revoker and cache may be nil.
func NewService(repo Repository, tokens *TokenIssuer, revoker Revoker, cache IdentityCache) *Service {
	return &Service{
		repo:     repo,
		tokens:   tokens,
		revoker:  revoker,
		cache:    cache,
		titler:   cases.Title(language.Und),
		hashCost: bcrypt.DefaultCost,
	}
}

// Authenticate validates email/password credentials. Accounts that are
// disabled or not yet approved are rejected like a wrong password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Admin, error) {
	admin, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: find admin: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !admin.Active() {
		return nil, shared.ErrInvalidCredentials
	}
	return admin, nil
}

// Registration is the input to Register.
type Registration struct {
	Email       string
	Username    string
	DisplayName string
	Password    string
}

// Register creates an admin account awaiting approval.
func (s *Service) Register(ctx context.Context, reg Registration) (*Admin, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	displayName := strings.TrimSpace(reg.DisplayName)
	if displayName == "" {
		displayName = reg.Username
	}
	admin, err := s.repo.Create(ctx, NewAdmin{
		Email:        strings.ToLower(strings.TrimSpace(reg.Email)),
		Username:     strings.TrimSpace(reg.Username),
		DisplayName:  s.titler.String(displayName),
		PasswordHash: string(hash),
	})
	if err != nil {
		if errors.Is(err, shared.ErrDuplicate) {
			return nil, shared.ErrDuplicate
		}
		return nil, fmt.Errorf("auth: create admin: %w", err)
	}
	return admin, nil
}

// IssueCredential signs a credential for admin.
func (s *Service) IssueCredential(admin *Admin) (string, *Claims, error) {
	return s.tokens.Issue(admin.ID)
}

// CredentialTTL returns how long issued credentials stay valid.
func (s *Service) CredentialTTL() time.Duration {
	return s.tokens.TTL()
}

// Logout revokes raw so it stops verifying even if the browser keeps it.
// Unparseable credentials are ignored.
func (s *Service) Logout(ctx context.Context, raw string) error {
	if raw == "" || s.revoker == nil {
		return nil
	}
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

// UpdateProfile persists profile changes and invalidates the cached identity.
func (s *Service) UpdateProfile(ctx context.Context, adminID int64, update ProfileUpdate) (*Admin, error) {
	update.Username = strings.TrimSpace(update.Username)
	update.DisplayName = s.titler.String(strings.TrimSpace(update.DisplayName))
	admin, err := s.repo.UpdateProfile(ctx, adminID, update)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Forget(adminID)
	}
	return admin, nil
}
