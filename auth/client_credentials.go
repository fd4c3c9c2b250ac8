package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-identity-sync/core"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultRenewBefore = time.Minute
	DefaultTokenTTL    = time.Hour
)

// ErrTokenRejected marks a token endpoint response that refused the client.
var ErrTokenRejected = errors.New("auth: token endpoint rejected client credentials")

type ClientCredentialsConfig struct {
	// HTTPClient is used for the token exchange. Nil uses http.DefaultClient.
	HTTPClient *http.Client
	// RenewBefore drops cached tokens this long before they expire.
	RenewBefore time.Duration
	// TokenTTL applies when the endpoint omits expires_in.
	TokenTTL time.Duration
	Now      func() time.Time
}

type cachedToken struct {
	token     core.AccessToken
	expiresAt time.Time
}

// ClientCredentialsTokenProvider exchanges client credentials for bearer tokens
// and caches them per token url, client id and scope set.
type ClientCredentialsTokenProvider struct {
	config ClientCredentialsConfig
	mu     sync.Mutex
	cache  map[string]cachedToken
}

func NewClientCredentialsTokenProvider(cfg ClientCredentialsConfig) *ClientCredentialsTokenProvider {
	if cfg.RenewBefore <= 0 {
		cfg.RenewBefore = DefaultRenewBefore
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &ClientCredentialsTokenProvider{
		config: cfg,
		cache:  map[string]cachedToken{},
	}
}

func (p *ClientCredentialsTokenProvider) Token(ctx context.Context, req core.ClientCredentialsRequest) (core.AccessToken, error) {
	if p == nil {
		return core.AccessToken{}, fmt.Errorf("auth: token provider is not configured")
	}
	tokenURL := strings.TrimSpace(req.TokenURL)
	clientID := strings.TrimSpace(req.ClientID)
	clientSecret := strings.TrimSpace(req.ClientSecret)
	if tokenURL == "" {
		return core.AccessToken{}, fmt.Errorf("auth: token url is required")
	}
	if clientID == "" || clientSecret == "" {
		return core.AccessToken{}, fmt.Errorf("auth: client id and client secret are required")
	}
	scopes := normalizeValues(req.Scopes)

	key := cacheKey(tokenURL, clientID, scopes)
	if cached, ok := p.lookup(key); ok {
		return cached, nil
	}

	exchange := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	if p.config.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.config.HTTPClient)
	}
	issued, err := exchange.Token(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			return core.AccessToken{}, fmt.Errorf("%w: status %d: %s", ErrTokenRejected, status, describeRetrieveError(retrieveErr))
		}
		return core.AccessToken{}, fmt.Errorf("auth: token exchange failed: %w", err)
	}
	if strings.TrimSpace(issued.AccessToken) == "" {
		return core.AccessToken{}, fmt.Errorf("%w: empty access token", ErrTokenRejected)
	}

	now := p.config.Now().UTC()
	expiresAt := issued.Expiry.UTC()
	if issued.Expiry.IsZero() {
		expiresAt = now.Add(p.config.TokenTTL)
	}
	token := core.AccessToken{
		AccessToken: issued.AccessToken,
		TokenType:   firstNonEmpty(issued.TokenType, "Bearer"),
		ExpiresAt:   expiresAt,
		Scopes:      grantedScopes(issued, scopes),
	}
	p.store(key, token)
	return token, nil
}

// Invalidate drops every cached token for the client, typically after the
// source rejected one of them.
func (p *ClientCredentialsTokenProvider) Invalidate(tokenURL string, clientID string) {
	if p == nil {
		return
	}
	prefix := strings.TrimSpace(tokenURL) + "|" + strings.TrimSpace(clientID) + "|"
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.cache {
		if strings.HasPrefix(key, prefix) {
			delete(p.cache, key)
		}
	}
}

func (p *ClientCredentialsTokenProvider) lookup(key string) (core.AccessToken, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cached, ok := p.cache[key]
	if !ok {
		return core.AccessToken{}, false
	}
	now := p.config.Now().UTC()
	if !cached.expiresAt.After(now.Add(p.config.RenewBefore)) {
		delete(p.cache, key)
		return core.AccessToken{}, false
	}
	return cached.token, true
}

func (p *ClientCredentialsTokenProvider) store(key string, token core.AccessToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[key] = cachedToken{token: token, expiresAt: token.ExpiresAt}
}

func grantedScopes(token *oauth2.Token, requested []string) []string {
	if raw, ok := token.Extra("scope").(string); ok && strings.TrimSpace(raw) != "" {
		return normalizeValues(strings.Fields(raw))
	}
	return append([]string(nil), requested...)
}

func describeRetrieveError(err *oauth2.RetrieveError) string {
	if err == nil {
		return ""
	}
	if code := strings.TrimSpace(err.ErrorCode); code != "" {
		if description := strings.TrimSpace(err.ErrorDescription); description != "" {
			return code + ": " + description
		}
		return code
	}
	body := strings.TrimSpace(string(err.Body))
	if len(body) > 200 {
		body = body[:200]
	}
	return body
}

var (
	_ core.AuthTokenProvider    = (*ClientCredentialsTokenProvider)(nil)
	_ core.AuthTokenInvalidator = (*ClientCredentialsTokenProvider)(nil)
)
