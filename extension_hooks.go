package identitysync

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-identity-sync/core"
)

// SourcePack contributes fetchers for source types the module only stubs,
// such as an LDAP or database reader owned by the host application.
type SourcePack struct {
	Name     string
	Fetchers map[core.SourceType]core.SourceFetcher
}

type SourceRegistrar interface {
	Register(sourceType core.SourceType, fetcher core.SourceFetcher)
}

type ExtensionHooks struct {
	mu    sync.RWMutex
	packs map[string]SourcePack
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{packs: map[string]SourcePack{}}
}

func (h *ExtensionHooks) RegisterSourcePack(pack SourcePack) error {
	if h == nil {
		return fmt.Errorf("identitysync: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("identitysync: source pack name is required")
	}
	if len(pack.Fetchers) == 0 {
		return fmt.Errorf("identitysync: source pack %q has no fetchers", name)
	}
	fetchers := make(map[core.SourceType]core.SourceFetcher, len(pack.Fetchers))
	for sourceType, fetcher := range pack.Fetchers {
		if err := sourceType.Validate(); err != nil {
			return fmt.Errorf("identitysync: source pack %q: %w", name, err)
		}
		if fetcher == nil {
			return fmt.Errorf("identitysync: source pack %q has a nil fetcher for %q", name, sourceType)
		}
		fetchers[sourceType] = fetcher
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.packs == nil {
		h.packs = map[string]SourcePack{}
	}
	if _, exists := h.packs[name]; exists {
		return fmt.Errorf("identitysync: source pack %q already registered", name)
	}
	h.packs[name] = SourcePack{Name: name, Fetchers: fetchers}
	return nil
}

// ApplySourcePacks registers every pack fetcher in name order, so a later
// pack overrides an earlier one for the same source type.
func (h *ExtensionHooks) ApplySourcePacks(registrar SourceRegistrar) error {
	if h == nil {
		return nil
	}
	if registrar == nil {
		return fmt.Errorf("identitysync: source registrar is required")
	}
	for _, pack := range h.SourcePacks() {
		types := make([]string, 0, len(pack.Fetchers))
		for sourceType := range pack.Fetchers {
			types = append(types, string(sourceType))
		}
		sort.Strings(types)
		for _, sourceType := range types {
			registrar.Register(core.SourceType(sourceType), pack.Fetchers[core.SourceType(sourceType)])
		}
	}
	return nil
}

func (h *ExtensionHooks) SourcePacks() []SourcePack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.packs))
	for name := range h.packs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]SourcePack, 0, len(names))
	for _, name := range names {
		pack := h.packs[name]
		fetchers := make(map[core.SourceType]core.SourceFetcher, len(pack.Fetchers))
		for sourceType, fetcher := range pack.Fetchers {
			fetchers[sourceType] = fetcher
		}
		out = append(out, SourcePack{Name: pack.Name, Fetchers: fetchers})
	}
	return out
}
