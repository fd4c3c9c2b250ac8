package core

import (
	"context"
	"fmt"
)

// Matcher resolves mapped records against previously imported identities and
// groups.
type Matcher struct {
	identities IdentityStore
	groups     GroupStore
}

func NewMatcher(identities IdentityStore, groups GroupStore) *Matcher {
	return &Matcher{identities: identities, groups: groups}
}

// Match looks up by email first and then by username. The first hit wins.
func (m *Matcher) Match(ctx context.Context, record MappedRecord) (MatchResult, error) {
	if m == nil || m.identities == nil {
		return MatchResult{}, fmt.Errorf("core: identity store is required for matching")
	}
	if email := record.String("email"); email != "" {
		found, err := m.identities.List(ctx, IdentityFilter{Email: email, Limit: 1})
		if err != nil {
			return MatchResult{}, err
		}
		if len(found) > 0 {
			return MatchResult{Found: true, Identity: found[0].Ref()}, nil
		}
	}
	if username := record.String("username"); username != "" {
		found, err := m.identities.List(ctx, IdentityFilter{Username: username, Limit: 1})
		if err != nil {
			return MatchResult{}, err
		}
		if len(found) > 0 {
			return MatchResult{Found: true, Identity: found[0].Ref()}, nil
		}
	}
	return MatchResult{}, nil
}

func (m *Matcher) MatchGroup(ctx context.Context, record MappedRecord) (GroupMatchResult, error) {
	if m == nil || m.groups == nil {
		return GroupMatchResult{}, fmt.Errorf("core: group store is required for matching")
	}
	if externalID := record.String("external_id"); externalID != "" {
		found, err := m.groups.List(ctx, GroupFilter{ExternalID: externalID, Limit: 1})
		if err != nil {
			return GroupMatchResult{}, err
		}
		if len(found) > 0 {
			return GroupMatchResult{Found: true, Group: found[0]}, nil
		}
	}
	if name := record.String("name"); name != "" {
		found, err := m.groups.List(ctx, GroupFilter{Name: name, Limit: 1})
		if err != nil {
			return GroupMatchResult{}, err
		}
		if len(found) > 0 {
			return GroupMatchResult{Found: true, Group: found[0]}, nil
		}
	}
	return GroupMatchResult{}, nil
}
