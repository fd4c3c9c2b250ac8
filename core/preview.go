package core

import (
	"sort"
	"strings"
)

type suggestionRule struct {
	destination string
	match       func(name string) bool
}

func containsAll(name string, parts ...string) bool {
	for _, part := range parts {
		if !strings.Contains(name, part) {
			return false
		}
	}
	return true
}

func containsAny(name string, parts ...string) bool {
	for _, part := range parts {
		if strings.Contains(name, part) {
			return true
		}
	}
	return false
}

// Rules are evaluated in order; the first match wins.
var suggestionRules = []suggestionRule{
	{destination: "email", match: func(n string) bool { return containsAny(n, "email", "mail") }},
	{destination: "first_name", match: func(n string) bool { return containsAll(n, "first", "name") || strings.Contains(n, "given") }},
	{destination: "last_name", match: func(n string) bool {
		return containsAll(n, "last", "name") || containsAny(n, "family", "surname")
	}},
	{destination: "username", match: func(n string) bool { return containsAll(n, "user", "name") || strings.Contains(n, "login") }},
	{destination: "display_name", match: func(n string) bool { return strings.Contains(n, "display") || containsAll(n, "full", "name") }},
	{destination: "phone", match: func(n string) bool { return containsAny(n, "phone", "mobile") }},
	{destination: "title", match: func(n string) bool { return strings.Contains(n, "title") }},
	{destination: "department", match: func(n string) bool { return strings.Contains(n, "department") }},
	{destination: "external_id", match: func(n string) bool { return n == "id" }},
}

// SuggestDestination proposes a canonical destination for a source field name
// using case-insensitive substring heuristics.
func SuggestDestination(field string) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(field))
	if name == "" {
		return "", false
	}
	for _, rule := range suggestionRules {
		if rule.match(name) {
			return rule.destination, true
		}
	}
	return "", false
}

// DetectFields returns the sorted set of field names that carry a non-empty
// value in at least one sampled record.
func DetectFields(records []SourceRecord) []string {
	seen := map[string]struct{}{}
	for _, record := range records {
		for key, value := range record {
			if strings.TrimSpace(key) == "" || isEmptyValue(value) {
				continue
			}
			seen[key] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// SuggestMappings maps detected fields to suggested destinations. When two
// fields suggest the same destination the first in sorted order keeps it.
func SuggestMappings(fields []string) map[string]string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	out := map[string]string{}
	claimed := map[string]struct{}{}
	for _, field := range sorted {
		destination, ok := SuggestDestination(field)
		if !ok {
			continue
		}
		if _, taken := claimed[destination]; taken {
			continue
		}
		claimed[destination] = struct{}{}
		out[field] = destination
	}
	return out
}

// ApplySuggestions appends heuristic rules for detected fields the mapping
// leaves unmapped, skipping destinations that are already targeted.
func ApplySuggestions(mappings []AttributeMapping, detected []string) []AttributeMapping {
	out := append([]AttributeMapping(nil), mappings...)
	usedSources := map[string]struct{}{}
	targeted := map[string]struct{}{}
	for _, mapping := range mappings {
		usedSources[normalizePath(mapping.Source)] = struct{}{}
		targeted[normalizePath(mapping.Destination)] = struct{}{}
	}
	suggestions := SuggestMappings(detected)
	fields := make([]string, 0, len(suggestions))
	for field := range suggestions {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if _, used := usedSources[field]; used {
			continue
		}
		destination := suggestions[field]
		if _, taken := targeted[destination]; taken {
			continue
		}
		targeted[destination] = struct{}{}
		out = append(out, AttributeMapping{Source: field, Destination: destination})
	}
	return out
}

func buildPreview(records []SourceRecord) PreviewResult {
	detected := DetectFields(records)
	samples := make([]SourceRecord, 0, len(records))
	for _, record := range records {
		samples = append(samples, cloneSourceRecord(record))
	}
	return PreviewResult{
		SampledRecords:    len(records),
		DetectedFields:    detected,
		SuggestedMappings: SuggestMappings(detected),
		Samples:           samples,
	}
}
