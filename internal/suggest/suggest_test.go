package suggest

import (
	"strings"
	"testing"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"mode", "mode", 0},
		{"mode", "mdoe", 2},
		{"debounce", "debounse", 1},
		{"kitten", "sitting", 3},
	}
	for _, tc := range tests {
		if got := levenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestMatch(t *testing.T) {
	keys := []string{"debounce", "mode", "server_url", "conflict_policy", "fault_store"}

	tests := []struct {
		in   string
		want string
	}{
		{"debounse", "debounce"},
		{"server-url", "server_url"},
		{"SERVER.URL", "server_url"},
		{"conflict", "conflict_policy"},
		{"mod", "mode"},
	}
	for _, tc := range tests {
		got := Match(tc.in, keys)
		if len(got) == 0 || got[0] != tc.want {
			t.Errorf("Match(%q) = %v, want %q first", tc.in, got, tc.want)
		}
	}

	if got := Match("completely-unrelated-thing", keys); len(got) != 0 {
		t.Errorf("unrelated input matched %v", got)
	}
}

func TestMatchLimitsToThree(t *testing.T) {
	got := Match("a", []string{"b", "c", "d", "e", "f"})
	if len(got) != 3 {
		t.Fatalf("got %d suggestions, want 3", len(got))
	}
}

func TestHint(t *testing.T) {
	if got := Hint("fault_injecton", []string{"fault_injection", "editor_tui"}); !strings.Contains(got, "fault_injection") {
		t.Fatalf("Hint = %q", got)
	}
	if got := Hint("zzzzzzzzzzzz", []string{"mode"}); got != "" {
		t.Fatalf("Hint for unrelated = %q, want empty", got)
	}
}
