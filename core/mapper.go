package core

import "strings"

// Map converts one source record into a mapped record. It has no side effects
// and never mutates record.
func Map(record SourceRecord, mapping CompiledMapping) MappedRecord {
	out := MappedRecord{}
	for _, rule := range mapping.Rules {
		if rule.Destination == "" {
			continue
		}
		value, ok := readSourceValue(record, rule.Source)
		if !ok {
			continue
		}
		setPathValue(out, rule.Destination, cloneValue(rule.Transform.Apply(value)))
	}
	return out
}

// readSourceValue prefers the exact key and falls back to a dotted path.
func readSourceValue(record SourceRecord, source string) (any, bool) {
	if record == nil || source == "" {
		return nil, false
	}
	if value, ok := record[source]; ok {
		return value, true
	}
	if strings.Contains(source, ".") {
		return lookupPathValue(record, source)
	}
	return nil, false
}

func lookupPathValue(root map[string]any, path string) (any, bool) {
	if root == nil {
		return nil, false
	}
	parts := strings.Split(normalizePath(path), ".")
	current := any(root)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, false
		}
		var asMap map[string]any
		switch typed := current.(type) {
		case map[string]any:
			asMap = typed
		case MappedRecord:
			asMap = typed
		case SourceRecord:
			asMap = typed
		default:
			return nil, false
		}
		next, exists := asMap[part]
		if !exists {
			return nil, false
		}
		current = next
	}
	return current, true
}

func setPathValue(root map[string]any, path string, value any) {
	parts := strings.Split(normalizePath(path), ".")
	if len(parts) == 0 {
		return
	}
	current := root
	for idx, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return
		}
		if idx == len(parts)-1 {
			current[part] = value
			return
		}
		next, exists := current[part]
		if !exists {
			child := make(map[string]any)
			current[part] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			child = make(map[string]any)
			current[part] = child
		}
		current = child
	}
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneAnyMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return value
	}
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneSourceRecord(in SourceRecord) SourceRecord {
	if in == nil {
		return nil
	}
	return SourceRecord(cloneAnyMap(in))
}
