package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goliatone/go-identity-sync/core"
)

const tokenPath = "/oauth2/v1/token"

var defaultCloudIdPScopes = []string{"okta.users.read", "okta.groups.read"}

// CloudIdPFetcher pages through a cloud IdP management API using a client
// credentials token.
type CloudIdPFetcher struct {
	config Config
}

func NewCloudIdPFetcher(cfg Config) *CloudIdPFetcher {
	return &CloudIdPFetcher{config: cfg.normalized()}
}

func (f *CloudIdPFetcher) Fetch(ctx context.Context, req core.FetchRequest) (core.FetchResult, error) {
	if f == nil {
		return core.FetchResult{}, fetchError(req.Resource, fmt.Errorf("source: cloud idp fetcher is nil"))
	}
	resource := req.Resource
	if resource == "" {
		resource = core.ResourceUsers
	}
	baseURL := strings.TrimRight(strings.TrimSpace(req.Connection.BaseURL), "/")
	if baseURL == "" {
		return core.FetchResult{}, fetchError(resource, fmt.Errorf("source: base url is required"))
	}

	tokenReq := f.tokenRequest(req.Connection, req.Credentials, baseURL)
	token, err := f.token(ctx, tokenReq)
	if err != nil {
		return core.FetchResult{}, authError(resource, err)
	}
	headers := authHeaders(token)
	refreshed := false

	limit := f.config.recordCap(req.Limit)
	pageSize := f.config.PageSize
	if pageSize > limit {
		pageSize = limit
	}
	next := baseURL + "/api/v1/" + string(resource) + "?limit=" + strconv.Itoa(pageSize)

	result := core.FetchResult{Records: make([]core.SourceRecord, 0, pageSize)}
	visited := map[string]struct{}{}
	for next != "" {
		if _, seen := visited[next]; seen {
			break
		}
		visited[next] = struct{}{}

		res, err := f.config.get(ctx, next, headers)
		if err != nil {
			return core.FetchResult{}, fetchError(resource, err)
		}
		// A rejected token is renewed once per fetch before the 401 surfaces.
		if res.StatusCode == http.StatusUnauthorized && !refreshed {
			refreshed = true
			if invalidator, ok := f.config.Tokens.(core.AuthTokenInvalidator); ok {
				invalidator.Invalidate(tokenReq.TokenURL, tokenReq.ClientID)
			}
			if token, err = f.token(ctx, tokenReq); err != nil {
				return core.FetchResult{}, authError(resource, err)
			}
			headers = authHeaders(token)
			delete(visited, next)
			continue
		}
		if err := checkStatus(resource, next, res); err != nil {
			return core.FetchResult{}, err
		}
		page, err := decodePage(resource, res.Body)
		if err != nil {
			return core.FetchResult{}, err
		}
		result.Pages++

		records, truncated := toRecords(page.items, limit-len(result.Records))
		for _, record := range records {
			result.Records = append(result.Records, Flatten(record))
		}
		if truncated || len(result.Records) >= limit {
			result.Truncated = truncated || page.next != ""
			break
		}
		next = resolveNext(next, page.next)
	}
	return result, nil
}

func (f *CloudIdPFetcher) tokenRequest(conn core.ConnectionConfig, creds core.Credentials, baseURL string) core.ClientCredentialsRequest {
	tokenURL := strings.TrimSpace(conn.TokenURL)
	if tokenURL == "" {
		tokenURL = baseURL + tokenPath
	}
	scopes := conn.Scopes
	if len(scopes) == 0 {
		scopes = defaultCloudIdPScopes
	}
	return core.ClientCredentialsRequest{
		TokenURL:     tokenURL,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       scopes,
	}
}

func (f *CloudIdPFetcher) token(ctx context.Context, req core.ClientCredentialsRequest) (core.AccessToken, error) {
	if f.config.Tokens == nil {
		return core.AccessToken{}, fmt.Errorf("source: token provider is not configured")
	}
	token, err := f.config.Tokens.Token(ctx, req)
	if err != nil {
		return core.AccessToken{}, err
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return core.AccessToken{}, fmt.Errorf("source: token endpoint returned an empty access token")
	}
	return token, nil
}

func authHeaders(token core.AccessToken) map[string]string {
	headers := bearer(token.AccessToken)
	if token.TokenType != "" && !strings.EqualFold(token.TokenType, "bearer") {
		headers["Authorization"] = token.TokenType + " " + token.AccessToken
	}
	return headers
}

type cloudPage struct {
	items []any
	next  string
}

// decodePage reads {_embedded:{users|groups:[...]}, _links:{next:{href}}}. A
// bare array page is accepted as a single last page.
func decodePage(resource core.ResourceType, body []byte) (cloudPage, error) {
	payload, err := decodeBody(resource, body)
	if err != nil {
		return cloudPage{}, err
	}
	switch typed := payload.(type) {
	case []any:
		return cloudPage{items: typed}, nil
	case map[string]any:
		page := cloudPage{}
		embedded, _ := typed["_embedded"].(map[string]any)
		items, ok := embedded[string(resource)].([]any)
		if !ok {
			return cloudPage{}, fetchError(resource, fmt.Errorf("source: page has no _embedded.%s array", resource))
		}
		page.items = items
		if links, ok := typed["_links"].(map[string]any); ok {
			if next, ok := links["next"].(map[string]any); ok {
				href, _ := next["href"].(string)
				page.next = strings.TrimSpace(href)
			}
		}
		return page, nil
	default:
		return cloudPage{}, fetchError(resource, fmt.Errorf("source: page body is not an object"))
	}
}

func resolveNext(current, next string) string {
	if next == "" {
		return ""
	}
	ref, err := url.Parse(next)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	base, err := url.Parse(current)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

var _ core.SourceFetcher = (*CloudIdPFetcher)(nil)
