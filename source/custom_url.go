package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-identity-sync/core"
)

var collectionKeys = []string{"data", "items", "results", "users"}

// CustomURLFetcher reads a whole collection from one configured endpoint.
type CustomURLFetcher struct {
	config Config
}

func NewCustomURLFetcher(cfg Config) *CustomURLFetcher {
	return &CustomURLFetcher{config: cfg.normalized()}
}

func (f *CustomURLFetcher) Fetch(ctx context.Context, req core.FetchRequest) (core.FetchResult, error) {
	if f == nil {
		return core.FetchResult{}, fetchError(req.Resource, fmt.Errorf("source: custom url fetcher is nil"))
	}
	resource := req.Resource
	if resource == "" {
		resource = core.ResourceUsers
	}
	target := strings.TrimSpace(req.Connection.ImportURLs.Users)
	if resource == core.ResourceGroups {
		target = strings.TrimSpace(req.Connection.ImportURLs.Groups)
	}
	if target == "" {
		return core.FetchResult{}, fetchError(resource, fmt.Errorf("source: %s import url is not configured", resource))
	}

	res, err := f.config.get(ctx, target, bearer(req.Credentials.APIKey))
	if err != nil {
		return core.FetchResult{}, fetchError(resource, err)
	}
	if err := checkStatus(resource, target, res); err != nil {
		return core.FetchResult{}, err
	}
	payload, err := decodeBody(resource, res.Body)
	if err != nil {
		return core.FetchResult{}, err
	}
	items, ok := ExtractCollection(payload, resource)
	if !ok {
		return core.FetchResult{}, fetchError(resource, fmt.Errorf("source: response holds no record array"))
	}
	records, truncated := toRecords(items, f.config.recordCap(req.Limit))
	return core.FetchResult{Records: records, Pages: 1, Truncated: truncated}, nil
}

// ExtractCollection returns a bare array payload, or the first array among the
// well known collection keys of an object payload.
func ExtractCollection(payload any, resource core.ResourceType) ([]any, bool) {
	switch typed := payload.(type) {
	case []any:
		return typed, true
	case map[string]any:
		keys := collectionKeys
		if resource == core.ResourceGroups {
			keys = append(append([]string(nil), collectionKeys...), "groups")
		}
		for _, key := range keys {
			if items, ok := typed[key].([]any); ok {
				return items, true
			}
		}
	}
	return nil, false
}

var _ core.SourceFetcher = (*CustomURLFetcher)(nil)
