package source

import (
	"fmt"
	"net/http"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity-sync/core"
)

// Registry resolves the fetcher of a connection source type.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[core.SourceType]core.SourceFetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: map[core.SourceType]core.SourceFetcher{}}
}

// NewDefaultRegistry registers the cloud IdP and custom URL fetchers.
func NewDefaultRegistry(cfg Config) *Registry {
	registry := NewRegistry()
	registry.Register(core.SourceTypeCloudIdP, NewCloudIdPFetcher(cfg))
	registry.Register(core.SourceTypeCustomURL, NewCustomURLFetcher(cfg))
	return registry
}

func (r *Registry) Register(sourceType core.SourceType, fetcher core.SourceFetcher) {
	if r == nil || fetcher == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchers == nil {
		r.fetchers = map[core.SourceType]core.SourceFetcher{}
	}
	r.fetchers[sourceType] = fetcher
}

// Resolve returns the registered fetcher. Directory and database source types
// are declared but have no fetcher.
func (r *Registry) Resolve(sourceType core.SourceType) (core.SourceFetcher, error) {
	if err := sourceType.Validate(); err != nil {
		return nil, unsupported(sourceType, err)
	}
	if r != nil {
		r.mu.RLock()
		fetcher, ok := r.fetchers[sourceType]
		r.mu.RUnlock()
		if ok {
			return fetcher, nil
		}
	}
	return nil, unsupported(sourceType, fmt.Errorf("source: no fetcher for source type %q", sourceType))
}

func unsupported(sourceType core.SourceType, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, "source type is not supported").
		WithCode(http.StatusNotImplemented).
		WithTextCode(core.ImportErrorSourceUnsupported).
		WithMetadata(map[string]any{"source_type": string(sourceType)})
}

var _ core.FetcherResolver = (*Registry)(nil)
