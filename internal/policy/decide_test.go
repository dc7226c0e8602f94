package policy

import (
	"os"
	"path/filepath"
	"testing"

	"redactgw/internal/redact"
)

func TestDecide_DefaultAllow(t *testing.T) {
	doc := &Doc{Version: "1"}
	d := Decide(doc, nil, Context{Caller: "svc-a", Region: "us"})
	if d.Action != "allow" {
		t.Errorf("Action: got %s, want allow", d.Action)
	}
	if d.Target != "internal:default" {
		t.Errorf("Target: got %s", d.Target)
	}
	if !d.AllowDetokenize {
		t.Error("AllowDetokenize should default true")
	}
}

func TestDecide_SecretAlwaysBlocks(t *testing.T) {
	doc := &Doc{
		Version: "1",
		Routes: []Route{
			{Match: Match{Category: "secret"}, Action: "block"},
		},
	}
	d := Decide(doc, []redact.Category{redact.CategorySecret}, Context{Caller: "any", Region: "any"})
	if d.Action != "block" {
		t.Errorf("Action: got %s, want block", d.Action)
	}
}

func TestDecide_ForceRedactFromCallerConstraint(t *testing.T) {
	doc := &Doc{
		Version: "1",
		CallerRules: CallerRules{
			CallerRouting: map[string]CallerConstraint{
				"incident-mgr": {ForceRedact: true},
			},
		},
	}
	d := Decide(doc, nil, Context{Caller: "incident-mgr", Region: "us"})
	if !d.RequiresRedaction {
		t.Error("expected RequiresRedaction=true from caller force_redact")
	}
}

func TestDecide_RouteSkippedByRegion(t *testing.T) {
	doc := &Doc{
		Version: "1",
		Routes: []Route{
			{Match: Match{Category: "pii"}, Action: "block", AppliesTo: AppliesTo{Regions: []string{"eu"}}},
		},
	}
	d := Decide(doc, []redact.Category{redact.CategoryPII}, Context{Caller: "x", Region: "us"})
	if d.Action != "allow" {
		t.Errorf("Action: got %s, want allow (route should not apply outside eu)", d.Action)
	}
}

func TestDecide_RouteSkippedByCaller(t *testing.T) {
	doc := &Doc{
		Version: "1",
		Routes: []Route{
			{Match: Match{Category: "pii"}, Action: "block", AppliesTo: AppliesTo{Callers: []string{"admin"}}},
		},
	}
	d := Decide(doc, []redact.Category{redact.CategoryPII}, Context{Caller: "guest", Region: "us"})
	if d.Action != "allow" {
		t.Errorf("Action: got %s, want allow (route should not apply to other callers)", d.Action)
	}
}

func TestDecide_RedactRoutePicksTargetAndIntersectsCategories(t *testing.T) {
	doc := &Doc{
		Version: "1",
		Routes: []Route{
			{
				Match:           Match{Category: "pii"},
				Action:          "redact",
				AllowModels:     []string{"external:gpt-4"},
				AllowCategories: []string{"pii", "ops_sensitive"},
			},
		},
		CallerRules: CallerRules{
			CallerRouting: map[string]CallerConstraint{
				"eu-caller": {AllowCategories: []string{"pii"}},
			},
		},
	}
	d := Decide(doc, []redact.Category{redact.CategoryPII}, Context{Caller: "eu-caller", Region: "eu"})
	if !d.RequiresRedaction {
		t.Error("expected RequiresRedaction=true")
	}
	if d.Target != "external:gpt-4" {
		t.Errorf("Target: got %s", d.Target)
	}
	if len(d.AllowedCategories) != 1 || d.AllowedCategories[0] != redact.CategoryPII {
		t.Errorf("AllowedCategories: got %+v, want [pii]", d.AllowedCategories)
	}
}

func TestDecide_RestrictedRegionNeverFallsBackExternal(t *testing.T) {
	doc := &Doc{
		Version: "1",
		GeoConstraints: GeoConstraints{
			RestrictedRegions: []string{"cn"},
			RegionRouting: map[string]RegionRouting{
				"restricted": {InternalFallback: []string{"internal:restricted-model"}},
			},
		},
		Routes: []Route{
			{Match: Match{Category: "pii"}, Action: "internal_only"},
		},
	}
	d := Decide(doc, []redact.Category{redact.CategoryPII}, Context{Caller: "x", Region: "cn"})
	if d.Action != "internal_only" {
		t.Fatalf("Action: got %s, want internal_only", d.Action)
	}
	if d.Target != "internal:restricted-model" {
		t.Errorf("Target: got %s, want the restricted internal fallback", d.Target)
	}
}

func TestDecide_CatchAllRouteDoesNotReturnEarly(t *testing.T) {
	doc := &Doc{
		Version: "1",
		Routes: []Route{
			{Action: "redact"}, // catch-all, no category
			{Match: Match{Category: "secret"}, Action: "block"},
		},
	}
	d := Decide(doc, []redact.Category{redact.CategorySecret}, Context{Caller: "x", Region: "us"})
	if d.Action != "block" {
		t.Errorf("Action: got %s, want block (catch-all must not short-circuit later specific routes)", d.Action)
	}
}

func TestDecide_FirstSpecificRouteWins(t *testing.T) {
	doc := &Doc{
		Version: "1",
		Routes: []Route{
			{Match: Match{Category: "pii"}, Action: "redact", AllowModels: []string{"external:first"}},
			{Match: Match{Category: "pii"}, Action: "internal_only"},
		},
	}
	d := Decide(doc, []redact.Category{redact.CategoryPII}, Context{Caller: "x", Region: "us"})
	if d.Action != "redact" || d.Target != "external:first" {
		t.Errorf("got %+v, want the first matching route to win", d)
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
version: "3"
geo_constraints:
  restricted_regions: ["cn"]
  region_routing:
    restricted:
      internal_fallback: ["internal:cn-model"]
routes:
  - match:
      category: secret
    action: block
  - match:
      category: pii
    action: redact
    allow_models: ["external:gpt-4"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != "3" {
		t.Errorf("Version: got %s, want 3", doc.Version)
	}
	if len(doc.Routes) != 2 {
		t.Fatalf("Routes: got %d, want 2", len(doc.Routes))
	}
	if doc.Routes[0].Action != "block" {
		t.Errorf("Routes[0].Action: got %s", doc.Routes[0].Action)
	}
}

func TestStore_ReloadSwapsDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("version: \"1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if store.Current().Version != "1" {
		t.Fatalf("Version: got %s, want 1", store.Current().Version)
	}

	if err := os.WriteFile(path, []byte("version: \"2\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := store.Reload(path); err != nil {
		t.Fatal(err)
	}
	if store.Current().Version != "2" {
		t.Errorf("Version after reload: got %s, want 2", store.Current().Version)
	}
}
