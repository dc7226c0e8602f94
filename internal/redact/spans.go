package redact

import "sort"

// FindSpans scans text and returns non-overlapping spans sorted by Start,
// covering the secret, pii, and ops_sensitive categories. export_control is
// a separate density classification (see ClassifyExportControl) and is
// never emitted here.
//
// Candidates are collected per category in priority order (secret, pii,
// ops_sensitive), validated (Luhn for credit cards, area-code rules for
// SSNs), then merged by a stable sort on start alone: on equal start, the
// candidate that was appended first — i.e. from the higher-priority
// category — sorts first and wins the overlap, even if its span is longer.
func FindSpans(text string) []Span {
	var candidates []Span

	for _, p := range secretPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			candidates = append(candidates, Span{CategorySecret, loc[0], loc[1]})
		}
	}
	for _, p := range piiPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if p.name == "credit_card" && !luhnValid(text[loc[0]:loc[1]]) {
				continue
			}
			if p.name == "ssn" && !ssnFormatValid(text[loc[0]:loc[1]]) {
				continue
			}
			candidates = append(candidates, Span{CategoryPII, loc[0], loc[1]})
		}
	}
	for _, p := range opsPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			candidates = append(candidates, Span{CategoryOpsSensitive, loc[0], loc[1]})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Start < candidates[j].Start
	})

	var merged []Span
	lastEnd := -1
	for _, c := range candidates {
		if c.Start <= lastEnd {
			continue // overlap: earlier-priority span already kept
		}
		merged = append(merged, c)
		lastEnd = c.End
	}
	return merged
}
