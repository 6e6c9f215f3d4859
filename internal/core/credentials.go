package core

import (
	"context"
	"fmt"

	"github.com/larkmcp/corekit/internal/cache"
)

// tenantTokenCategory/tenantTokenKey place the tenant access token in
// the cache manager's AppTokens category (110 min default TTL, per
// spec.md §6.2), the same partition minting services use.
const (
	tenantTokenCategory = "AppTokens"
	tenantTokenKey      = "tenant_access_token"
)

// TenantTokenFetcher mints a fresh tenant access token. The concrete
// implementation (an HTTP call to Lark/Feishu's token-issuing
// endpoint) is out of spec.md §1's scope along with the rest of the
// upstream HTTP client; the Core holder is injected with one at
// startup, or a static fetcher returning a pre-provisioned token.
type TenantTokenFetcher func(ctx context.Context) (string, error)

// TokenSource implements dispatcher.CredentialSource: the tenant token
// lives in the cache manager's AppTokens category, and the user token
// is a statically configured value that is not cached. A single-flighted GetOrFetch ensures
// concurrent callers during a token refresh share one fetch.
type TokenSource struct {
	cache       *cache.Manager
	fetchTenant TenantTokenFetcher
	userToken   string
}

// NewTokenSource builds a TokenSource. userToken may be empty, in
// which case UserToken reports ok=false and callers fall back to
// tenant auth.
func NewTokenSource(cacheMgr *cache.Manager, userToken string, fetchTenant TenantTokenFetcher) *TokenSource {
	return &TokenSource{cache: cacheMgr, fetchTenant: fetchTenant, userToken: userToken}
}

// TenantToken returns the cached tenant token, refreshing it via the
// injected fetcher on a cache miss or expiry.
func (t *TokenSource) TenantToken(ctx context.Context) (string, error) {
	if t.fetchTenant == nil {
		return "", fmt.Errorf("core: no tenant token fetcher configured")
	}
	value, err := t.cache.GetOrFetch(ctx, tenantTokenCategory, tenantTokenKey, nil, func(ctx context.Context) (any, error) {
		return t.fetchTenant(ctx)
	})
	if err != nil {
		return "", err
	}
	token, _ := value.(string)
	return token, nil
}

// UserToken returns the statically configured user access token, if
// any, per spec.md §6.2 ("userAccessToken: optional; enables user
// auth mode").
func (t *TokenSource) UserToken(ctx context.Context) (string, bool, error) {
	if t.userToken == "" {
		return "", false, nil
	}
	return t.userToken, true, nil
}
