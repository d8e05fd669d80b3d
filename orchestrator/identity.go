package orchestrator

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// CustomerDirectoryEntry is one resolvable customer identity, sourced from
// whatever CRM/ERP customer master the deployment configures.
type CustomerDirectoryEntry struct {
	CustomerId string
	Phone      string
	AccountRef string
	Name       string
}

// fuzzyNameMatchThreshold bounds the Levenshtein distance (relative to the
// shorter of the two names) below which two names are considered the same
// customer absent an exact phone/account match.
const fuzzyNameMatchThreshold = 0.2

// ResolveCustomerIdentity matches a payment's free-text customer_identifier
// against a directory, first by exact phone/account tiers and only then by
// fuzzy name distance — cheap, unambiguous signals take priority over a
// heuristic one.
func ResolveCustomerIdentity(rawIdentifier string, directory []CustomerDirectoryEntry) (customerId string, matched bool) {
	identifier := strings.TrimSpace(rawIdentifier)
	if identifier == "" {
		return "", false
	}

	for _, entry := range directory {
		if entry.Phone != "" && normalizeIdentifier(entry.Phone) == normalizeIdentifier(identifier) {
			return entry.CustomerId, true
		}
	}
	for _, entry := range directory {
		if entry.AccountRef != "" && strings.EqualFold(entry.AccountRef, identifier) {
			return entry.CustomerId, true
		}
	}

	best := ""
	bestScore := 1.0
	for _, entry := range directory {
		if entry.Name == "" {
			continue
		}
		score := nameDistance(identifier, entry.Name)
		if score < bestScore {
			bestScore = score
			best = entry.CustomerId
		}
	}
	if best != "" && bestScore <= fuzzyNameMatchThreshold {
		return best, true
	}
	return "", false
}

func normalizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		return b.String()
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// nameDistance returns the Levenshtein edit distance between a and b,
// normalized by the length of the shorter string so short and long names
// are comparable on the same [0,1] scale.
func nameDistance(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	dist := levenshtein.ComputeDistance(a, b)
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	if shorter == 0 {
		return 1.0
	}
	return float64(dist) / float64(shorter)
}
