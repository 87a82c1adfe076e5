package cli

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func decodeParams(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("params %q are not a JSON object: %v", raw, err)
	}
	return got
}

func TestParseCallArgsSupportsPositionalJSON(t *testing.T) {
	for _, raw := range []string{`{"query":"x","page":2}`, `[1,2,3]`, `"text"`, `-4`} {
		parsed, err := parseCallArgs([]string{raw}, nil, true)
		if err != nil {
			t.Fatalf("parseCallArgs(%s) error = %v", raw, err)
		}
		if string(parsed.params) != raw {
			t.Fatalf("params = %s, want %s", parsed.params, raw)
		}
	}
}

func TestParseCallArgsRejectsInvalidJSON(t *testing.T) {
	if _, err := parseCallArgs([]string{`{nope}`}, nil, true); err == nil {
		t.Fatal("parseCallArgs() error = nil, want non-nil")
	}
}

func TestParseCallArgsBuildsObjectFromFlags(t *testing.T) {
	parsed, err := parseCallArgs([]string{"--path=/src", "--tag", "a", "--tag=b", "--dry-run"}, nil, true)
	if err != nil {
		t.Fatalf("parseCallArgs() error = %v", err)
	}
	got := decodeParams(t, parsed.params)
	want := map[string]any{"path": "/src", "tag": []any{"a", "b"}, "dry-run": true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("params = %#v, want %#v", got, want)
	}
}

func TestParseCallArgsWithoutParamsLeavesNil(t *testing.T) {
	parsed, err := parseCallArgs(nil, nil, true)
	if err != nil {
		t.Fatalf("parseCallArgs() error = %v", err)
	}
	if parsed.params != nil {
		t.Fatalf("params = %s, want nil", parsed.params)
	}
}

func TestParseCallArgsExtractsCacheTTL(t *testing.T) {
	parsed, err := parseCallArgs([]string{"--cache=30s", "--query=x"}, nil, true)
	if err != nil {
		t.Fatalf("parseCallArgs() error = %v", err)
	}
	if parsed.cacheTTL == nil || *parsed.cacheTTL != 30*time.Second {
		t.Fatalf("cacheTTL = %v, want 30s", parsed.cacheTTL)
	}
	if got := decodeParams(t, parsed.params); got["query"] != "x" {
		t.Fatalf("query = %v, want x", got["query"])
	}
}

func TestParseCallArgsCacheFlagErrors(t *testing.T) {
	tests := [][]string{
		{"--cache=30s", "--no-cache"},
		{"--cache=soon"},
		{"--cache=0s"},
		{"--cache"},
	}
	for _, args := range tests {
		if _, err := parseCallArgs(args, nil, true); err == nil {
			t.Errorf("parseCallArgs(%q) error = nil, want non-nil", args)
		}
	}
}

func TestParseCallArgsNoCacheWithSeparator(t *testing.T) {
	parsed, err := parseCallArgs([]string{"--no-cache", "--", "--cache=true", "--help"}, nil, true)
	if err != nil {
		t.Fatalf("parseCallArgs() error = %v", err)
	}
	if parsed.cacheTTL == nil || *parsed.cacheTTL != 0 {
		t.Fatalf("cacheTTL = %v, want 0", parsed.cacheTTL)
	}
	if parsed.help {
		t.Fatal("help = true, want false")
	}
	got := decodeParams(t, parsed.params)
	if got["cache"] != "true" || got["help"] != true {
		t.Fatalf("params = %#v", got)
	}
}

func TestParseCallArgsParamPrefixAvoidsGlobalFlags(t *testing.T) {
	parsed, err := parseCallArgs([]string{"--verbose", "--param-verbose=yes"}, nil, true)
	if err != nil {
		t.Fatalf("parseCallArgs() error = %v", err)
	}
	if !parsed.verbose {
		t.Fatal("verbose = false, want true")
	}
	if got := decodeParams(t, parsed.params); got["verbose"] != "yes" {
		t.Fatalf("params = %#v", got)
	}
}

func TestParseCallArgsReadsStdinWhenNoFlags(t *testing.T) {
	parsed, err := parseCallArgs(nil, bytes.NewBufferString(" {\"query\":\"x\"}\n"), false)
	if err != nil {
		t.Fatalf("parseCallArgs() error = %v", err)
	}
	if string(parsed.params) != `{"query":"x"}` {
		t.Fatalf("params = %s", parsed.params)
	}
}

func TestParseCallArgsIgnoresStdinWhenFlagsGiven(t *testing.T) {
	parsed, err := parseCallArgs([]string{"--quiet"}, bytes.NewBufferString(`{not-json}`), false)
	if err != nil {
		t.Fatalf("parseCallArgs() error = %v", err)
	}
	if !parsed.quiet || parsed.params != nil {
		t.Fatalf("parsed = %+v", parsed)
	}
}

func TestParseCallArgsRejectsMixedForms(t *testing.T) {
	tests := [][]string{
		{`{"a":1}`, "--b=2"},
		{"--b=2", `{"a":1}`},
		{`{"a":1}`, `{"b":2}`},
		{"-x"},
	}
	for _, args := range tests {
		if _, err := parseCallArgs(args, nil, true); err == nil {
			t.Errorf("parseCallArgs(%q) error = nil, want non-nil", args)
		}
	}
}

func TestParseEventsArgs(t *testing.T) {
	names, help, err := parseEventsArgs([]string{"--name", "progress", "--name=done", "-n", "status-update"})
	if err != nil {
		t.Fatalf("parseEventsArgs() error = %v", err)
	}
	if help {
		t.Fatal("help = true, want false")
	}
	if want := []string{"progress", "done", "status-update"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}

	for _, args := range [][]string{{"--name"}, {"--name="}, {"progress"}} {
		if _, _, err := parseEventsArgs(args); err == nil {
			t.Errorf("parseEventsArgs(%q) error = nil, want non-nil", args)
		}
	}
}
