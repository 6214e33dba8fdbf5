// Package suggest provides "did you mean" matching for CLI keys and names
// using Levenshtein distance.
package suggest

import (
	"sort"
	"strings"
)

// levenshtein calculates the edit distance between two strings
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(
				prev[j]+1,      // deletion
				cur[j-1]+1,     // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// normalize folds case and treats '-', '.' and '_' alike so "server-url"
// matches "server_url".
func normalize(s string) string {
	s = strings.ToLower(strings.TrimLeft(strings.TrimSpace(s), "-"))
	return strings.NewReplacer("-", "_", ".", "_").Replace(s)
}

// Match returns up to three candidates close to unknown, best first.
func Match(unknown string, candidates []string) []string {
	type scored struct {
		name  string
		score int
	}
	u := normalize(unknown)
	var found []scored
	for _, c := range candidates {
		n := normalize(c)
		dist := levenshtein(u, n)
		if strings.HasPrefix(n, u) && u != "" {
			dist = 0
		}
		// Only suggest if reasonably close (within 3 edits or 50% of length)
		if dist <= max(3, len(u)/2) {
			found = append(found, scored{c, dist})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].score < found[j].score })

	var result []string
	for i := 0; i < len(found) && i < 3; i++ {
		result = append(result, found[i].name)
	}
	return result
}

// Hint formats Match results as " (did you mean x?)", or "".
func Hint(unknown string, candidates []string) string {
	m := Match(unknown, candidates)
	if len(m) == 0 {
		return ""
	}
	return " (did you mean " + strings.Join(m, " or ") + "?)"
}
