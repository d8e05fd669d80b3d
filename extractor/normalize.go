package extractor

import "strings"

// Normalize trims whitespace, upper-cases, and strips surrounding
// punctuation from an extracted invoice id candidate. It is idempotent:
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(id string) string {
	id = strings.TrimSpace(id)
	id = strings.ToUpper(id)
	id = strings.Trim(id, ".,;:#()[]{}'\"-_ \t\n")
	return id
}

// DedupePreserveOrder normalizes and de-duplicates a slice of candidate ids,
// preserving first-seen order and dropping anything that normalizes to the
// empty string.
func DedupePreserveOrder(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		n := Normalize(raw)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
