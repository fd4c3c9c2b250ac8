package core

import (
	"fmt"
	"regexp"
	"strings"
)

type TransformKind string

const (
	TransformNone            TransformKind = "none"
	TransformRegexSubstitute TransformKind = "regex_substitute"
	// TransformInvalid carries a rule that failed to parse. It applies as a
	// pass-through.
	TransformInvalid TransformKind = "invalid"
)

// Transform is the compiled form of an attribute mapping transform string.
type Transform struct {
	Kind        TransformKind
	Source      string
	Pattern     *regexp.Regexp
	Replacement string
	Global      bool
	Issue       string
}

// ParseTransform compiles a transform of the form s/pattern/replacement/flags.
// Any other string compiles to TransformInvalid with the reason in Issue.
func ParseTransform(raw string) Transform {
	source := strings.TrimSpace(raw)
	if source == "" {
		return Transform{Kind: TransformNone}
	}
	invalid := func(format string, args ...any) Transform {
		return Transform{Kind: TransformInvalid, Source: source, Issue: fmt.Sprintf(format, args...)}
	}
	if !strings.HasPrefix(source, "s/") {
		return invalid("unsupported transform %q", source)
	}

	segments := splitSubstitution(source[2:])
	if len(segments) != 3 {
		return invalid("malformed substitution %q: expected s/pattern/replacement/flags", source)
	}
	pattern, replacement, flags := segments[0], segments[1], segments[2]
	if pattern == "" {
		return invalid("malformed substitution %q: empty pattern", source)
	}

	global := false
	inline := ""
	for _, flag := range flags {
		switch flag {
		case 'g':
			global = true
		case 'i', 'm', 's':
			if !strings.ContainsRune(inline, flag) {
				inline += string(flag)
			}
		case 'u':
		default:
			return invalid("malformed substitution %q: unsupported flag %q", source, string(flag))
		}
	}
	expr := pattern
	if inline != "" {
		expr = "(?" + inline + ")" + pattern
	}
	compiled, err := regexp.Compile(expr)
	if err != nil {
		return invalid("malformed substitution %q: %v", source, err)
	}
	return Transform{
		Kind:        TransformRegexSubstitute,
		Source:      source,
		Pattern:     compiled,
		Replacement: expandTemplate(replacement),
		Global:      global,
	}
}

// Apply runs the transform once. Non-string values and non-substitution
// transforms return the input unchanged.
func (t Transform) Apply(value any) any {
	if t.Kind != TransformRegexSubstitute || t.Pattern == nil {
		return value
	}
	input, ok := value.(string)
	if !ok {
		return value
	}
	if t.Global {
		return t.Pattern.ReplaceAllString(input, t.Replacement)
	}
	loc := t.Pattern.FindStringSubmatchIndex(input)
	if loc == nil {
		return input
	}
	expanded := t.Pattern.ExpandString(nil, t.Replacement, input, loc)
	return input[:loc[0]] + string(expanded) + input[loc[1]:]
}

func (t Transform) Valid() bool {
	return t.Kind != TransformInvalid
}

// splitSubstitution splits on unescaped slashes; an escaped slash becomes a
// literal slash and other escapes are kept for the regexp engine.
func splitSubstitution(body string) []string {
	var (
		segments []string
		current  strings.Builder
	)
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if ch == '\\' && i+1 < len(body) {
			if body[i+1] == '/' {
				current.WriteByte('/')
			} else {
				current.WriteByte(ch)
				current.WriteByte(body[i+1])
			}
			i++
			continue
		}
		if ch == '/' {
			segments = append(segments, current.String())
			current.Reset()
			continue
		}
		current.WriteByte(ch)
	}
	segments = append(segments, current.String())
	return segments
}

// expandTemplate rewrites $&, $n and $<name> references into the ${...} form
// understood by regexp.Expand. A lone $ is kept literal.
func expandTemplate(replacement string) string {
	var out strings.Builder
	for i := 0; i < len(replacement); i++ {
		ch := replacement[i]
		if ch != '$' {
			out.WriteByte(ch)
			continue
		}
		if i+1 >= len(replacement) {
			out.WriteString("$$")
			continue
		}
		next := replacement[i+1]
		switch {
		case next == '$':
			out.WriteString("$$")
			i++
		case next == '&':
			out.WriteString("${0}")
			i++
		case next >= '0' && next <= '9':
			j := i + 1
			for j < len(replacement) && j < i+3 && replacement[j] >= '0' && replacement[j] <= '9' {
				j++
			}
			out.WriteString("${" + replacement[i+1:j] + "}")
			i = j - 1
		case next == '<':
			end := strings.IndexByte(replacement[i+2:], '>')
			if end < 0 {
				out.WriteString("$$")
				continue
			}
			out.WriteString("${" + replacement[i+2:i+2+end] + "}")
			i = i + 2 + end
		default:
			out.WriteString("$$")
		}
	}
	return out.String()
}
