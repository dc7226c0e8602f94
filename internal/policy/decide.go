package policy

import "redactgw/internal/redact"

var defaultAllowedCategories = []redact.Category{redact.CategoryOpsSensitive, redact.CategoryPII}

// Decide evaluates doc against the detected categories and request context.
//
// Algorithm (exact, do not reorder):
//  1. Start from a default decision: allow, target "internal:default",
//     no redaction required, detokenize allowed, allowed categories
//     {ops_sensitive, pii}.
//  2. If the caller carries force_redact, require redaction.
//  3. Walk routes in document order. A route is skipped if its region or
//     caller constraint excludes this context, or if it names a specific
//     category not present in categories. Otherwise apply it:
//       - block: set action, return immediately.
//       - redact: require redaction, pick a target, intersect allowed
//         categories with any caller-level constraint.
//       - internal_only: pick an internal target, disallow redaction and
//         detokenize.
//     A route with an explicit category match returns after applying; the
//     catch-all (no category) route applies but keeps evaluating.
//  4. Return the (possibly modified) default.
func Decide(doc *Doc, categories []redact.Category, ctx Context) Decision {
	catSet := make(map[redact.Category]struct{}, len(categories))
	for _, c := range categories {
		catSet[c] = struct{}{}
	}

	callerConstraint := doc.CallerRules.CallerRouting[ctx.Caller]
	regionRouting := resolveRegionRouting(doc, ctx.Region)

	decision := Decision{
		Action:            "allow",
		Target:            "internal:default",
		RequiresRedaction: false,
		AllowDetokenize:   true,
		AllowedCategories: append([]redact.Category(nil), defaultAllowedCategories...),
		PolicyVersion:     doc.Version,
	}
	if decision.PolicyVersion == "" {
		decision.PolicyVersion = "1"
	}

	if callerConstraint.ForceRedact {
		decision.RequiresRedaction = true
	}

	for _, route := range doc.Routes {
		if !routeApplies(route, ctx) {
			continue
		}

		matchCategory := redact.Category(route.Match.Category)
		_, inSet := catSet[matchCategory]
		if route.Match.Category != "" && !inSet {
			continue
		}

		action := route.Action
		if action == "" {
			action = "allow"
		}
		decision.Action = action

		switch action {
		case "block":
			return decision

		case "redact":
			decision.RequiresRedaction = true
			decision.Target = firstNonEmpty(route.AllowModels, regionRouting.PreferredModels, []string{"external:unspecified"})
			if route.Redact.AllowDetokenize != nil {
				decision.AllowDetokenize = *route.Redact.AllowDetokenize
			} else {
				decision.AllowDetokenize = true
			}

			routeCategories := route.AllowCategories
			if routeCategories == nil {
				routeCategories = []string{"ops_sensitive", "pii"}
			}
			callerCategories := callerConstraint.AllowCategories
			if callerCategories == nil {
				callerCategories = routeCategories
			}
			decision.AllowedCategories = intersectCategories(routeCategories, callerCategories)

		case "internal_only":
			decision.Target = firstNonEmpty(route.AllowModels, regionRouting.InternalFallback, []string{"internal:default"})
			decision.RequiresRedaction = false
			decision.AllowDetokenize = false
		}

		if route.Match.Category != "" {
			return decision
		}
	}

	return decision
}

func routeApplies(route Route, ctx Context) bool {
	if !matchesAny(route.AppliesTo.Regions, ctx.Region) {
		return false
	}
	if !matchesAny(route.AppliesTo.Callers, ctx.Caller) {
		return false
	}
	return true
}

// matchesAny reports whether value is allowed by a constraint list. An
// empty list, or one containing the literal "*", matches anything.
func matchesAny(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" {
			return true
		}
	}
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}

func resolveRegionRouting(doc *Doc, region string) RegionRouting {
	for _, restricted := range doc.GeoConstraints.RestrictedRegions {
		if restricted == region {
			return doc.GeoConstraints.RegionRouting["restricted"]
		}
	}
	return doc.GeoConstraints.RegionRouting[region]
}

func firstNonEmpty(lists ...[]string) string {
	for _, l := range lists {
		if len(l) > 0 {
			return l[0]
		}
	}
	return ""
}

func intersectCategories(a, b []string) []redact.Category {
	bSet := make(map[string]struct{}, len(b))
	for _, v := range b {
		bSet[v] = struct{}{}
	}
	var out []redact.Category
	seen := make(map[string]struct{})
	for _, v := range a {
		if _, ok := bSet[v]; !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, redact.Category(v))
	}
	return out
}
