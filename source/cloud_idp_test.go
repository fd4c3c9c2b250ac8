package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-identity-sync/auth"
	"github.com/goliatone/go-identity-sync/core"
	"github.com/goliatone/go-identity-sync/ratelimit"
)

type staticTokens struct {
	token    core.AccessToken
	err      error
	requests []core.ClientCredentialsRequest
}

func (s *staticTokens) Token(_ context.Context, req core.ClientCredentialsRequest) (core.AccessToken, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return core.AccessToken{}, s.err
	}
	return s.token, nil
}

func userPage(t *testing.T, w http.ResponseWriter, users []map[string]any, next string) {
	t.Helper()
	page := map[string]any{
		"_embedded": map[string]any{"users": users},
		"count":     len(users),
	}
	if next != "" {
		page["_links"] = map[string]any{"next": map[string]any{"href": next}}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(page); err != nil {
		t.Errorf("encode page: %v", err)
	}
}

func TestCloudIdPFetcher_FollowsNextLinksAndFlattens(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Query().Get("after") {
		case "":
			if r.URL.Path != "/api/v1/users" || r.URL.Query().Get("limit") != "2" {
				t.Errorf("unexpected first page request %s", r.URL.String())
			}
			userPage(t, w, []map[string]any{
				{"id": "u1", "name": map[string]any{"given": "Ada", "family": "Lovelace"}, "profile": map[string]any{"email": "ada@example.com", "id": "shadow"}},
				{"id": "u2", "emails": []any{"a@example.com", "b@example.com"}},
			}, server.URL+"/api/v1/users?limit=2&after=u2")
		case "u2":
			userPage(t, w, []map[string]any{{"id": "u3", "manager": map[string]any{"id": "u1"}}}, "")
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("after"))
		}
	}))
	defer server.Close()

	tokens := &staticTokens{token: core.AccessToken{AccessToken: "tok", TokenType: "Bearer"}}
	fetcher := NewCloudIdPFetcher(Config{Tokens: tokens, PageSize: 2, MaxRecords: 100})

	result, err := fetcher.Fetch(context.Background(), core.FetchRequest{
		Connection:  core.ConnectionConfig{BaseURL: server.URL + "/", SourceType: core.SourceTypeCloudIdP},
		Credentials: core.Credentials{ClientID: "client_1", ClientSecret: "secret_1"},
		Resource:    core.ResourceUsers,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.Records) != 3 || result.Pages != 2 || result.Truncated {
		t.Fatalf("unexpected result: records=%d pages=%d truncated=%v", len(result.Records), result.Pages, result.Truncated)
	}
	first := result.Records[0]
	if first["first_name"] != "Ada" || first["last_name"] != "Lovelace" || first["email"] != "ada@example.com" {
		t.Fatalf("expected flattened name and profile, got %#v", first)
	}
	if first["id"] != "u1" {
		t.Fatalf("expected profile promotion not to overwrite id, got %#v", first["id"])
	}
	if emails, ok := result.Records[1]["emails"].([]any); !ok || len(emails) != 2 {
		t.Fatalf("expected list to be kept, got %#v", result.Records[1]["emails"])
	}
	if result.Records[2]["manager_id"] != "u1" {
		t.Fatalf("expected nested object flattening, got %#v", result.Records[2])
	}

	if len(tokens.requests) != 1 {
		t.Fatalf("expected one token request, got %d", len(tokens.requests))
	}
	if tokens.requests[0].TokenURL != server.URL+"/oauth2/v1/token" {
		t.Fatalf("expected default token url, got %q", tokens.requests[0].TokenURL)
	}
}

func TestCloudIdPFetcher_CapsEndlessPagination(t *testing.T) {
	var pages atomic.Int64
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := pages.Add(1)
		size, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		users := make([]map[string]any, 0, size)
		for i := 0; i < size; i++ {
			users = append(users, map[string]any{"id": fmt.Sprintf("u-%d-%d", n, i)})
		}
		userPage(t, w, users, fmt.Sprintf("%s/api/v1/users?limit=%d&after=page-%d", server.URL, size, n))
	}))
	defer server.Close()

	fetcher := NewCloudIdPFetcher(Config{
		Tokens:     &staticTokens{token: core.AccessToken{AccessToken: "tok"}},
		PageSize:   core.DefaultPageSize,
		MaxRecords: core.DefaultMaxRecords,
	})
	result, err := fetcher.Fetch(context.Background(), core.FetchRequest{
		Connection: core.ConnectionConfig{BaseURL: server.URL},
		Resource:   core.ResourceUsers,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.Records) != core.DefaultMaxRecords || !result.Truncated {
		t.Fatalf("expected %d truncated records, got %d truncated=%v", core.DefaultMaxRecords, len(result.Records), result.Truncated)
	}
	if pages.Load() != int64(core.DefaultMaxRecords/core.DefaultPageSize) {
		t.Fatalf("expected pagination to stop at the cap, served %d pages", pages.Load())
	}
}

func TestCloudIdPFetcher_StopsOnRepeatedNextLink(t *testing.T) {
	var hits atomic.Int64
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		userPage(t, w, []map[string]any{{"id": "loop"}}, server.URL+"/api/v1/users?limit=200")
	}))
	defer server.Close()

	fetcher := NewCloudIdPFetcher(Config{Tokens: &staticTokens{token: core.AccessToken{AccessToken: "tok"}}})
	result, err := fetcher.Fetch(context.Background(), core.FetchRequest{Connection: core.ConnectionConfig{BaseURL: server.URL}})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hits.Load() != 1 || len(result.Records) != 1 {
		t.Fatalf("expected loop guard to stop after one page, hits=%d records=%d", hits.Load(), len(result.Records))
	}
}

func TestCloudIdPFetcher_LimitBoundsPreview(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "20" {
			t.Errorf("expected page size bounded by limit, got %q", r.URL.Query().Get("limit"))
		}
		users := make([]map[string]any, 0, 20)
		for i := 0; i < 20; i++ {
			users = append(users, map[string]any{"id": strconv.Itoa(i)})
		}
		userPage(t, w, users, "https://idp.invalid/next")
	}))
	defer server.Close()

	fetcher := NewCloudIdPFetcher(Config{Tokens: &staticTokens{token: core.AccessToken{AccessToken: "tok"}}})
	result, err := fetcher.Fetch(context.Background(), core.FetchRequest{Connection: core.ConnectionConfig{BaseURL: server.URL}, Limit: 20})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.Records) != 20 || result.Pages != 1 {
		t.Fatalf("expected a single page of 20, got %d records over %d pages", len(result.Records), result.Pages)
	}
}

func TestCloudIdPFetcher_ForbiddenIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errorCode":"E0000006","errorSummary":"You do not have permission"}`))
	}))
	defer server.Close()

	fetcher := NewCloudIdPFetcher(Config{Tokens: &staticTokens{token: core.AccessToken{AccessToken: "tok"}}})
	_, err := fetcher.Fetch(context.Background(), core.FetchRequest{Connection: core.ConnectionConfig{BaseURL: server.URL}, Resource: core.ResourceGroups})
	if core.ClassifyImportError(err) != core.ImportErrorKindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	var importErr *core.ImportError
	if !errors.As(err, &importErr) || importErr.Pass != core.ResourceGroups {
		t.Fatalf("expected groups pass on error, got %#v", err)
	}
}

func TestCloudIdPFetcher_ServerErrorIsFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := NewCloudIdPFetcher(Config{Tokens: &staticTokens{token: core.AccessToken{AccessToken: "tok"}}})
	_, err := fetcher.Fetch(context.Background(), core.FetchRequest{Connection: core.ConnectionConfig{BaseURL: server.URL}})
	if core.ClassifyImportError(err) != core.ImportErrorKindFetch {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestCloudIdPFetcher_TokenFailureIsAuthError(t *testing.T) {
	fetcher := NewCloudIdPFetcher(Config{Tokens: &staticTokens{err: errors.New("invalid_client")}})
	_, err := fetcher.Fetch(context.Background(), core.FetchRequest{Connection: core.ConnectionConfig{BaseURL: "https://idp.example"}})
	if core.ClassifyImportError(err) != core.ImportErrorKindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	mapped := core.MapError(err)
	if mapped.TextCode != core.ImportErrorAuthFailed {
		t.Fatalf("expected auth failed text code, got %q", mapped.TextCode)
	}
}

func TestCloudIdPFetcher_RetriesThrottledPage(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		userPage(t, w, []map[string]any{{"id": "u1"}}, "")
	}))
	defer server.Close()

	var slept []time.Duration
	pacer := ratelimit.NewPacer(2, time.Minute)
	pacer.Sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	fetcher := NewCloudIdPFetcher(Config{Tokens: &staticTokens{token: core.AccessToken{AccessToken: "tok"}}, Pacer: pacer})
	result, err := fetcher.Fetch(context.Background(), core.FetchRequest{Connection: core.ConnectionConfig{BaseURL: server.URL}})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.Records) != 1 || calls.Load() != 2 {
		t.Fatalf("expected retry of the throttled page, calls=%d", calls.Load())
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected retry-after wait, got %v", slept)
	}
}

func TestCloudIdPFetcher_ExhaustedRetriesAreRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	pacer := ratelimit.NewPacer(0, time.Second)
	fetcher := NewCloudIdPFetcher(Config{Tokens: &staticTokens{token: core.AccessToken{AccessToken: "tok"}}, Pacer: pacer})
	_, err := fetcher.Fetch(context.Background(), core.FetchRequest{Connection: core.ConnectionConfig{BaseURL: server.URL}})
	if core.ClassifyImportError(err) != core.ImportErrorKindFetch {
		t.Fatalf("expected fetch error, got %v", err)
	}
	rich := core.MapError(err)
	if rich.TextCode != core.ImportErrorRateLimited || rich.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limited envelope, got %q/%d", rich.TextCode, rich.Code)
	}
}

func TestCloudIdPFetcher_WithClientCredentialsProvider(t *testing.T) {
	var tokenCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v1/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		if user, pass, ok := r.BasicAuth(); !ok || user != "client_1" || pass != "secret_1" {
			t.Errorf("expected basic client auth")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"live-token","token_type":"Bearer","expires_in":3600,"scope":"okta.users.read"}`))
	})
	mux.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer live-token" {
			t.Errorf("expected exchanged token, got %q", r.Header.Get("Authorization"))
		}
		userPage(t, w, []map[string]any{{"id": "u1"}}, "")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	tokens := auth.NewClientCredentialsTokenProvider(auth.ClientCredentialsConfig{HTTPClient: server.Client()})
	fetcher := NewCloudIdPFetcher(Config{Tokens: tokens})
	req := core.FetchRequest{
		Connection:  core.ConnectionConfig{BaseURL: server.URL, Scopes: []string{"okta.users.read"}},
		Credentials: core.Credentials{ClientID: "client_1", ClientSecret: "secret_1"},
	}
	for i := 0; i < 2; i++ {
		if _, err := fetcher.Fetch(context.Background(), req); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if tokenCalls.Load() != 1 {
		t.Fatalf("expected cached token across fetches, got %d exchanges", tokenCalls.Load())
	}
}

type rotatingTokens struct {
	issued      []string
	calls       int
	invalidated []string
}

func (r *rotatingTokens) Token(context.Context, core.ClientCredentialsRequest) (core.AccessToken, error) {
	token := r.issued[min(r.calls, len(r.issued)-1)]
	r.calls++
	return core.AccessToken{AccessToken: token, TokenType: "Bearer"}, nil
}

func (r *rotatingTokens) Invalidate(tokenURL string, clientID string) {
	r.invalidated = append(r.invalidated, tokenURL+"|"+clientID)
}

func TestCloudIdPFetcher_RenewsRejectedTokenOnce(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer t2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		userPage(t, w, []map[string]any{{"id": "u1"}}, "")
	}))
	defer server.Close()

	tokens := &rotatingTokens{issued: []string{"t1", "t2"}}
	fetcher := NewCloudIdPFetcher(Config{Tokens: tokens})
	result, err := fetcher.Fetch(context.Background(), core.FetchRequest{
		Connection:  core.ConnectionConfig{BaseURL: server.URL},
		Credentials: core.Credentials{ClientID: "client_1", ClientSecret: "secret_1"},
	})
	if err != nil {
		t.Fatalf("expected renewed token to succeed, got %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("expected one record, got %#v", result.Records)
	}
	if tokens.calls != 2 || len(seen) != 2 || seen[0] != "Bearer t1" || seen[1] != "Bearer t2" {
		t.Fatalf("expected one renewal, got %d token calls and requests %v", tokens.calls, seen)
	}
	want := server.URL + tokenPath + "|client_1"
	if len(tokens.invalidated) != 1 || tokens.invalidated[0] != want {
		t.Fatalf("expected invalidation of %q, got %v", want, tokens.invalidated)
	}
}

func TestCloudIdPFetcher_SecondRejectionIsAuthError(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &rotatingTokens{issued: []string{"t1", "t2"}}
	fetcher := NewCloudIdPFetcher(Config{Tokens: tokens})
	_, err := fetcher.Fetch(context.Background(), core.FetchRequest{Connection: core.ConnectionConfig{BaseURL: server.URL}})
	if core.ClassifyImportError(err) != core.ImportErrorKindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if requests.Load() != 2 || tokens.calls != 2 {
		t.Fatalf("expected a single retry, got %d requests and %d token calls", requests.Load(), tokens.calls)
	}
}
