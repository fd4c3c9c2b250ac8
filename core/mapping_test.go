package core

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseTransform_GlobalSubstitution(t *testing.T) {
	transform := ParseTransform("s/a/b/g")
	if transform.Kind != TransformRegexSubstitute {
		t.Fatalf("expected regex substitute, got %q (%s)", transform.Kind, transform.Issue)
	}
	if got := transform.Apply("banana"); got != "bbnbnb" {
		t.Fatalf("expected all a replaced, got %v", got)
	}
}

func TestParseTransform_FirstMatchOnlyWithoutGlobalFlag(t *testing.T) {
	transform := ParseTransform("s/a/b/")
	if got := transform.Apply("banana"); got != "bbnana" {
		t.Fatalf("expected first a replaced, got %v", got)
	}
}

func TestParseTransform_FlagsAndGroups(t *testing.T) {
	cases := []struct {
		rule  string
		input string
		want  string
	}{
		{rule: "s/DOMAIN/example/i", input: "user@domain.com", want: "user@example.com"},
		{rule: `s/^(\w+)\.(\w+)$/$2 $1/`, input: "ada.lovelace", want: "lovelace ada"},
		{rule: `s/@.*$/[$&]/`, input: "x@y.com", want: "x[@y.com]"},
		{rule: `s/\//-/g`, input: "a/b/c", want: "a-b-c"},
		{rule: "s/ +/ /gu", input: "a   b  c", want: "a b c"},
		{rule: "s/x/$/", input: "axb", want: "a$b"},
	}
	for _, tc := range cases {
		transform := ParseTransform(tc.rule)
		if !transform.Valid() {
			t.Fatalf("%s: unexpected issue %s", tc.rule, transform.Issue)
		}
		if got := transform.Apply(tc.input); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.rule, tc.want, got)
		}
	}
}

func TestParseTransform_MalformedPassesThrough(t *testing.T) {
	for _, rule := range []string{
		"uppercase",
		"s/abc",
		"s/(unclosed/x/g",
		"s//x/g",
		"s/a/b/q",
		"s/a/b/c/d",
	} {
		transform := ParseTransform(rule)
		if transform.Valid() {
			t.Fatalf("%q: expected invalid transform", rule)
		}
		if transform.Issue == "" {
			t.Fatalf("%q: expected an issue message", rule)
		}
		if got := transform.Apply("unchanged"); got != "unchanged" {
			t.Fatalf("%q: expected pass-through, got %v", rule, got)
		}
	}
}

func TestTransform_NonStringValuesPassThrough(t *testing.T) {
	transform := ParseTransform("s/1/2/g")
	if got := transform.Apply(11); got != 11 {
		t.Fatalf("expected int to pass through, got %v", got)
	}
	if got := transform.Apply(nil); got != nil {
		t.Fatalf("expected nil to pass through, got %v", got)
	}
}

func TestMap_IsPure(t *testing.T) {
	record := SourceRecord{
		"login":  "ada",
		"mail":   "ADA@EXAMPLE.COM",
		"name":   map[string]any{"given": "Ada"},
		"groups": []any{"eng"},
	}
	compiled, err := NewMappingCompiler(false).Compile([]AttributeMapping{
		{Source: "login", Destination: "username"},
		{Source: "mail", Destination: "email", Transform: "s/EXAMPLE/example/"},
		{Source: "name.given", Destination: "profile.first"},
		{Source: "groups", Destination: "groups"},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	first := Map(record, compiled)
	second := Map(record, compiled)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical outputs, got %#v and %#v", first, second)
	}
	if first.String("email") != "ADA@example.COM" {
		t.Fatalf("unexpected email %q", first.String("email"))
	}
	if first.String("profile.first") != "Ada" {
		t.Fatalf("expected nested destination, got %#v", first["profile"])
	}
	first["groups"].([]any)[0] = "mutated"
	if record["groups"].([]any)[0] != "eng" {
		t.Fatalf("expected source record untouched")
	}
}

func TestMap_ExactKeyWinsOverDottedPath(t *testing.T) {
	record := SourceRecord{
		"name.given": "flat",
		"name":       map[string]any{"given": "nested"},
	}
	compiled, _ := NewMappingCompiler(false).Compile([]AttributeMapping{{Source: "name.given", Destination: "first_name"}})
	if got := Map(record, compiled).String("first_name"); got != "flat" {
		t.Fatalf("expected exact key value, got %q", got)
	}
}

func TestMap_AbsentSourceIsNotWritten(t *testing.T) {
	compiled, _ := NewMappingCompiler(false).Compile([]AttributeMapping{{Source: "missing", Destination: "email"}})
	mapped := Map(SourceRecord{"other": "x"}, compiled)
	if _, ok := mapped["email"]; ok {
		t.Fatalf("expected absent source to be skipped, got %#v", mapped)
	}
}

func TestMappingCompiler_ReportsIssues(t *testing.T) {
	compiled, err := NewMappingCompiler(false).Compile([]AttributeMapping{
		{Source: "login", Destination: "username"},
		{Source: "user", Destination: "username"},
		{Source: "", Destination: "phone"},
		{Source: "mail", Destination: "mail", Transform: "s/(/x/"},
	}, "username", "email")
	if err != nil {
		t.Fatalf("expected lenient compile, got %v", err)
	}
	joined := strings.Join(compiled.IssueStrings(), "\n")
	for _, want := range []string{
		"username: destination is targeted more than once",
		"phone: rule has no source",
		"mail: malformed substitution",
		"email: no mapping targets this destination",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected issue %q in:\n%s", want, joined)
		}
	}
	if len(compiled.Rules) != 3 {
		t.Fatalf("expected three usable rules, got %d", len(compiled.Rules))
	}
}

func TestMappingCompiler_StrictRejectsMalformedTransforms(t *testing.T) {
	_, err := NewMappingCompiler(true).Compile([]AttributeMapping{
		{Source: "mail", Destination: "email", Transform: "lowercase"},
	})
	if err == nil {
		t.Fatalf("expected strict compile error")
	}
}

func TestResolveMappings_CallerMappingFirst(t *testing.T) {
	connection := []AttributeMapping{
		{Source: "mail", Destination: "email", Transform: "s/X/x/", Required: true},
		{Source: "login", Destination: "username"},
		{Source: "dept", Destination: "department"},
	}
	resolved := ResolveMappings(map[string]string{
		"mail": "email",
		"uid":  "username",
	}, connection)
	want := []AttributeMapping{
		{Source: "mail", Destination: "email", Transform: "s/X/x/", Required: true},
		{Source: "uid", Destination: "username"},
		{Source: "dept", Destination: "department"},
	}
	if !reflect.DeepEqual(resolved, want) {
		t.Fatalf("unexpected resolution:\n got %#v\nwant %#v", resolved, want)
	}
	if got := ResolveMappings(nil, connection); !reflect.DeepEqual(got, connection) {
		t.Fatalf("expected connection mappings when caller mapping is empty")
	}
}
