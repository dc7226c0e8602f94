// Package policy implements the routing decision engine: given a set of
// detected categories and a request context, decide whether to allow,
// redact, restrict to internal targets, or block a request. Decide is a
// pure function of a PolicyDoc plus its inputs.
package policy

import "redactgw/internal/redact"

// Context carries the per-request attributes Decide needs: who is calling,
// from where, and in which environment.
type Context struct {
	Caller         string
	Region         string
	Env            string
	ConversationID string
}

// Decision is the outcome of Decide.
type Decision struct {
	Action             string // allow | block | redact | internal_only
	Target             string
	RequiresRedaction  bool
	AllowDetokenize    bool
	AllowedCategories  []redact.Category
	PolicyVersion      string
}

// AppliesTo restricts a route to specific regions/callers. A literal "*"
// (or an empty list) matches anything.
type AppliesTo struct {
	Regions []string `yaml:"regions"`
	Callers []string `yaml:"callers"`
}

// Match selects which detected category a route fires on. An empty
// Category is the catch-all/default match.
type Match struct {
	Category string `yaml:"category"`
}

// RedactOptions configures behavior specific to the "redact" action.
type RedactOptions struct {
	AllowDetokenize *bool `yaml:"allow_detokenize"`
}

// Route is one entry in the ordered routing table.
type Route struct {
	Match          Match         `yaml:"match"`
	Action         string        `yaml:"action"`
	AppliesTo      AppliesTo     `yaml:"applies_to"`
	AllowModels    []string      `yaml:"allow_models"`
	AllowCategories []string     `yaml:"allow_categories"`
	Redact         RedactOptions `yaml:"redact"`
}

// RegionRouting supplies fallback targets for a region.
type RegionRouting struct {
	PreferredModels []string `yaml:"preferred_models"`
	InternalFallback []string `yaml:"internal_fallback"`
}

// GeoConstraints groups region-level policy.
type GeoConstraints struct {
	RestrictedRegions []string                 `yaml:"restricted_regions"`
	RegionRouting     map[string]RegionRouting `yaml:"region_routing"`
}

// CallerConstraint restricts what one caller identity may do.
type CallerConstraint struct {
	ForceRedact     bool     `yaml:"force_redact"`
	AllowCategories []string `yaml:"allow_categories"`
}

// CallerRules groups caller-level policy.
type CallerRules struct {
	CallerRouting map[string]CallerConstraint `yaml:"caller_routing"`
}

// Doc is the declarative policy document: version, region/caller
// constraints, and an ordered route list. Routes are evaluated in document
// order; the first route carrying a non-default category match wins.
type Doc struct {
	Version        string         `yaml:"version"`
	GeoConstraints GeoConstraints `yaml:"geo_constraints"`
	CallerRules    CallerRules    `yaml:"caller_rules"`
	Routes         []Route        `yaml:"routes"`
}
