package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/connect-commerce/connect-admin/internal/guard"
	"github.com/connect-commerce/connect-admin/internal/shared"
)

// Revocations is the read side of the revocation store.
type Revocations interface {
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

// TokenVerifier answers whether a credential denotes an active admin.
// Bad credentials yield an unauthenticated Status; infrastructure failures
// are returned as errors so callers can fail closed and log them.
type TokenVerifier struct {
	tokens      *TokenIssuer
	repo        Repository
	revocations Revocations
	identities  *cache.Cache
}

// NewTokenVerifier constructs a TokenVerifier. A zero cacheTTL disables the
// identity cache.
func NewTokenVerifier(tokens *TokenIssuer, repo Repository, revocations Revocations, cacheTTL time.Duration) *TokenVerifier {
	v := &TokenVerifier{tokens: tokens, repo: repo, revocations: revocations}
	if cacheTTL > 0 {
		v.identities = cache.New(cacheTTL, 2*cacheTTL)
	}
	return v
}

// Execute implements guard.Verifier.
func (v *TokenVerifier) Execute(ctx context.Context, credential string) (guard.Status, error) {
	if credential == "" {
		return guard.Status{}, nil
	}
	claims, err := v.tokens.Parse(credential)
	if err != nil {
		return guard.Status{}, nil
	}
	adminID, err := claims.AdminID()
	if err != nil {
		return guard.Status{}, nil
	}
	if v.revocations != nil {
		revoked, err := v.revocations.Revoked(ctx, claims.ID)
		if err != nil {
			return guard.Status{}, err
		}
		if revoked {
			return guard.Status{}, nil
		}
	}

	admin, err := v.lookup(ctx, adminID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return guard.Status{}, nil
		}
		return guard.Status{}, fmt.Errorf("auth: verify admin %d: %w", adminID, err)
	}
	if !admin.Active() {
		return guard.Status{}, nil
	}
	identity := admin.Identity()
	return guard.Status{IsAuthenticated: true, Admin: &identity}, nil
}

// Forget drops a cached account so the next check reads it fresh.
func (v *TokenVerifier) Forget(adminID int64) {
	if v.identities != nil {
		v.identities.Delete(strconv.FormatInt(adminID, 10))
	}
}

func (v *TokenVerifier) lookup(ctx context.Context, id int64) (*Admin, error) {
	key := strconv.FormatInt(id, 10)
	if v.identities != nil {
		if cached, found := v.identities.Get(key); found {
			return cached.(*Admin), nil
		}
	}
	admin, err := v.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.identities != nil {
		v.identities.Set(key, admin, cache.DefaultExpiration)
	}
	return admin, nil
}

var _ guard.Verifier = (*TokenVerifier)(nil)
