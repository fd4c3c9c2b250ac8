package core

import (
	"fmt"
	"sort"
	"strings"
)

type MappingIssueSeverity string

const (
	MappingIssueWarning MappingIssueSeverity = "warning"
	MappingIssueError   MappingIssueSeverity = "error"
)

type MappingIssue struct {
	Code        string
	Message     string
	Source      string
	Destination string
	Severity    MappingIssueSeverity
}

func (i MappingIssue) String() string {
	label := strings.TrimSpace(i.Destination)
	if label == "" {
		label = strings.TrimSpace(i.Source)
	}
	if label == "" {
		return i.Message
	}
	return label + ": " + i.Message
}

type CompiledRule struct {
	Source      string
	Destination string
	Required    bool
	Transform   Transform
}

type CompiledMapping struct {
	Rules  []CompiledRule
	Issues []MappingIssue
}

// Targets reports whether any rule writes destination.
func (m CompiledMapping) Targets(destination string) bool {
	destination = normalizePath(destination)
	for _, rule := range m.Rules {
		if rule.Destination == destination {
			return true
		}
	}
	return false
}

func (m CompiledMapping) Reads(source string) bool {
	source = normalizePath(source)
	for _, rule := range m.Rules {
		if rule.Source == source {
			return true
		}
	}
	return false
}

func (m CompiledMapping) RequiredDestinations() []string {
	var out []string
	for _, rule := range m.Rules {
		if rule.Required {
			out = append(out, rule.Destination)
		}
	}
	return out
}

func (m CompiledMapping) IssueStrings() []string {
	out := make([]string, 0, len(m.Issues))
	for _, issue := range m.Issues {
		out = append(out, issue.String())
	}
	return out
}

// Rulebook returns the attribute mappings the compiled rules were built from.
func (m CompiledMapping) Rulebook() []AttributeMapping {
	out := make([]AttributeMapping, 0, len(m.Rules))
	for _, rule := range m.Rules {
		out = append(out, AttributeMapping{
			Source:      rule.Source,
			Destination: rule.Destination,
			Transform:   rule.Transform.Source,
			Required:    rule.Required,
		})
	}
	return out
}

type MappingCompiler struct {
	// Strict turns malformed transforms into a compile error instead of a
	// pass-through warning.
	Strict bool
}

func NewMappingCompiler(strict bool) MappingCompiler {
	return MappingCompiler{Strict: strict}
}

// Compile parses every transform once and collects configuration issues.
// expected lists destinations the mapping should target; missing ones are
// reported as warnings.
func (c MappingCompiler) Compile(mappings []AttributeMapping, expected ...string) (CompiledMapping, error) {
	compiled := CompiledMapping{Rules: make([]CompiledRule, 0, len(mappings))}
	seenDestinations := map[string]struct{}{}

	for _, mapping := range mappings {
		source := normalizePath(mapping.Source)
		destination := normalizePath(mapping.Destination)
		if destination == "" {
			compiled.Issues = append(compiled.Issues, mappingIssue(
				"rule_incomplete",
				"rule has no destination and was skipped",
				source, "", MappingIssueWarning,
			))
			continue
		}
		if source == "" {
			compiled.Issues = append(compiled.Issues, mappingIssue(
				"rule_incomplete",
				"rule has no source and was skipped",
				"", destination, MappingIssueWarning,
			))
			continue
		}
		if strings.Contains(destination, "..") || strings.HasPrefix(destination, ".") || strings.HasSuffix(destination, ".") {
			compiled.Issues = append(compiled.Issues, mappingIssue(
				"destination_invalid",
				fmt.Sprintf("destination path %q has an empty segment and was skipped", destination),
				source, destination, MappingIssueWarning,
			))
			continue
		}
		if _, exists := seenDestinations[destination]; exists {
			compiled.Issues = append(compiled.Issues, mappingIssue(
				"destination_duplicate",
				"destination is targeted more than once; the last rule wins",
				source, destination, MappingIssueWarning,
			))
		}
		seenDestinations[destination] = struct{}{}

		transform := ParseTransform(mapping.Transform)
		if !transform.Valid() {
			severity := MappingIssueWarning
			message := transform.Issue + "; value passes through unchanged"
			if c.Strict {
				severity = MappingIssueError
				message = transform.Issue
			}
			compiled.Issues = append(compiled.Issues, mappingIssue("transform_invalid", message, source, destination, severity))
		}

		compiled.Rules = append(compiled.Rules, CompiledRule{
			Source:      source,
			Destination: destination,
			Required:    mapping.Required,
			Transform:   transform,
		})
	}

	for _, destination := range expected {
		destination = normalizePath(destination)
		if destination == "" || compiled.Targets(destination) {
			continue
		}
		compiled.Issues = append(compiled.Issues, mappingIssue(
			"destination_unmapped",
			"no mapping targets this destination",
			"", destination, MappingIssueWarning,
		))
	}

	sortMappingIssues(compiled.Issues)
	if c.Strict {
		for _, issue := range compiled.Issues {
			if issue.Severity == MappingIssueError {
				return compiled, validationError(issue.Destination, issue.String())
			}
		}
	}
	return compiled, nil
}

// ResolveMappings merges a caller field mapping with the connection attribute
// mappings. Caller entries come first in source order and inherit transform
// and required flags from a connection rule with the same source and
// destination. Connection rules whose source and destination are both unused
// are appended after.
func ResolveMappings(fieldMapping map[string]string, connection []AttributeMapping) []AttributeMapping {
	if len(fieldMapping) == 0 {
		return append([]AttributeMapping(nil), connection...)
	}
	sources := make([]string, 0, len(fieldMapping))
	for source := range fieldMapping {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	out := make([]AttributeMapping, 0, len(fieldMapping)+len(connection))
	usedSources := map[string]struct{}{}
	usedDestinations := map[string]struct{}{}
	for _, source := range sources {
		destination := normalizePath(fieldMapping[source])
		source = normalizePath(source)
		if source == "" || destination == "" {
			continue
		}
		entry := AttributeMapping{Source: source, Destination: destination}
		for _, rule := range connection {
			if normalizePath(rule.Source) == source && normalizePath(rule.Destination) == destination {
				entry.Transform = rule.Transform
				entry.Required = rule.Required
				break
			}
		}
		out = append(out, entry)
		usedSources[source] = struct{}{}
		usedDestinations[destination] = struct{}{}
	}
	for _, rule := range connection {
		source := normalizePath(rule.Source)
		destination := normalizePath(rule.Destination)
		if _, used := usedSources[source]; used {
			continue
		}
		if _, used := usedDestinations[destination]; used {
			continue
		}
		out = append(out, rule)
	}
	return out
}

func mappingIssue(code, message, source, destination string, severity MappingIssueSeverity) MappingIssue {
	return MappingIssue{
		Code:        code,
		Message:     message,
		Source:      source,
		Destination: destination,
		Severity:    severity,
	}
}

func sortMappingIssues(issues []MappingIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		left := issues[i]
		right := issues[j]
		if left.Severity != right.Severity {
			return left.Severity == MappingIssueError
		}
		if left.Destination != right.Destination {
			return left.Destination < right.Destination
		}
		if left.Source != right.Source {
			return left.Source < right.Source
		}
		return left.Code < right.Code
	})
}

func normalizePath(path string) string {
	return strings.TrimSpace(path)
}
