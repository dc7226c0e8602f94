package redact

import "regexp"

// aviationKeywords is the ITAR/EAR-adjacent aerospace lexicon. Patterns are
// intentionally narrow (word-boundary, specific terms) to avoid the
// generic-technical-term false positives a broader match would invite.
var aviationKeywords = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:eVTOL|vertical[\s-]?take[\s-]?off|VTOL)\b`),
	regexp.MustCompile(`(?i)\b(?:aircraft[\s-]?design|airframe|propulsion[\s-]?system)\b`),
	regexp.MustCompile(`(?i)\b(?:flight[\s-]?control|avionics|autopilot)\b`),
	regexp.MustCompile(`(?i)\b(?:aerodynamic|aerodynamics|lift[\s-]?coefficient)\b`),
	regexp.MustCompile(`(?i)\b(?:FAA|Federal[\s-]?Aviation[\s-]?Administration)\b`),
	regexp.MustCompile(`(?i)\b(?:Part[\s-]?23|Part[\s-]?27|Part[\s-]?29|Part[\s-]?33)\b`),
	regexp.MustCompile(`(?i)\b(?:type[\s-]?certificate|TC|STC|airworthiness)\b`),
	regexp.MustCompile(`(?i)\b(?:ITAR|International[\s-]?Traffic[\s-]?in[\s-]?Arms)\b`),
	regexp.MustCompile(`(?i)\b(?:EAR|Export[\s-]?Administration[\s-]?Regulations)\b`),
	regexp.MustCompile(`(?i)\b(?:ECCN|export[\s-]?control)\b`),
	regexp.MustCompile(`(?i)\b(?:battery[\s-]?management|BMS|power[\s-]?distribution)\b`),
	regexp.MustCompile(`(?i)\b(?:electric[\s-]?motor|propeller|rotor[\s-]?blade)\b`),
	regexp.MustCompile(`(?i)\b(?:energy[\s-]?density|specific[\s-]?power)\b`),
	regexp.MustCompile(`(?i)\b(?:flight[\s-]?envelope|V-speed|cruise[\s-]?speed)\b`),
	regexp.MustCompile(`(?i)\b(?:payload[\s-]?capacity|range[\s-]?calculation)\b`),
	regexp.MustCompile(`(?i)\b(?:takeoff[\s-]?weight|MTOW|maximum[\s-]?takeoff)\b`),
	regexp.MustCompile(`(?i)\b(?:composite[\s-]?material|carbon[\s-]?fiber|CFRP)\b`),
	regexp.MustCompile(`(?i)\b(?:manufacturing[\s-]?process|tooling|assembly[\s-]?jig)\b`),
	regexp.MustCompile(`(?i)\b(?:quality[\s-]?assurance|AS9100|aerospace[\s-]?standard)\b`),
}

// ExportControlResult is the outcome of a keyword-density scan for
// export-controlled content.
type ExportControlResult struct {
	Controlled bool
	Confidence float64
	MatchCount int
	Spans      []Span
}

// ClassifyExportControl scans text for aviation/ITAR lexicon density.
// Content is classified controlled once match count reaches threshold;
// confidence steps up with further matches. threshold <= 0 defaults to 2.
func ClassifyExportControl(text string, threshold int) ExportControlResult {
	if threshold <= 0 {
		threshold = 2
	}

	var spans []Span
	for _, re := range aviationKeywords {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			spans = append(spans, Span{CategoryExportControl, loc[0], loc[1]})
		}
	}

	count := len(spans)
	var confidence float64
	switch {
	case count == 0:
		confidence = 0.0
	case count < threshold:
		confidence = 0.3
	case count < threshold*2:
		confidence = 0.7
	case count < threshold*3:
		confidence = 0.85
	default:
		confidence = 0.95
	}

	return ExportControlResult{
		Controlled: count >= threshold,
		Confidence: confidence,
		MatchCount: count,
		Spans:      spans,
	}
}
