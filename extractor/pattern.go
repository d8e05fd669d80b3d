package extractor

import "regexp"

// patternTable is the fixed ordered set of regular expressions recognizing
// common invoice reference formats. All patterns are applied and their
// matches merged; the order sets the first-seen order of the merged ids, and
// boundedFormats refers to entries by index.
var patternTable = []*regexp.Regexp{
	regexp.MustCompile(`(?i)INV[-_ ]?\d{4}[-_]\d{4,}`),
	regexp.MustCompile(`(?i)INV[-_ ]\d{4,}`),
	regexp.MustCompile(`(?i)Invoice\s*#\s*:?\s*([A-Za-z0-9-]+)`),
	regexp.MustCompile(`(?i)Bill\s*#\s*:?\s*([A-Za-z0-9-]+)`),
	regexp.MustCompile(`(?i)PO[-_ ]?\d{4,}`),
}

// boundedFormats are the patterns whose structure is strict enough to count
// toward the confidence heuristic's "bounded_format_strictness" term.
var boundedFormats = map[int]bool{0: true, 1: true}

// matchPatterns runs the fixed pattern table over text and returns every
// raw match found (including capture groups), plus whether any bounded
// (strict-format) pattern matched.
func matchPatterns(text string) (matches []string, boundedHit bool) {
	for i, re := range patternTable {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if len(m) > 1 && m[1] != "" {
				matches = append(matches, m[1])
			} else {
				matches = append(matches, m[0])
			}
			if boundedFormats[i] {
				boundedHit = true
			}
		}
	}
	return matches, boundedHit
}

// PatternTier applies the fixed regex table over remittance text and
// OCR-extracted document text. It is a pure function over its input and
// never fails — the worst outcome is an empty result.
func PatternTier(remittanceText string, documentTexts []string) Result {
	start := nowMs()
	var allMatches []string
	boundedHit := false
	for _, text := range append([]string{remittanceText}, documentTexts...) {
		matches, bounded := matchPatterns(text)
		allMatches = append(allMatches, matches...)
		boundedHit = boundedHit || bounded
	}

	ids := DedupePreserveOrder(allMatches)
	confidence := 0.0
	if len(ids) > 0 {
		confidence = 0.5 + 0.1*float64(len(ids))
		if boundedHit {
			confidence += 0.2
		}
		if confidence > 1.0 {
			confidence = 1.0
		}
	}

	return Result{
		InvoiceIds:       ids,
		Confidence:       confidence,
		TierUsed:         TierPattern,
		CostEstimate:     0,
		ProcessingTimeMs: nowMs() - start,
	}
}
