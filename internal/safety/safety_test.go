package safety

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestScan_DetectsRecursiveDeleteFromRoot(t *testing.T) {
	f, err := NewFilter("")
	if err != nil {
		t.Fatal(err)
	}
	issues := f.Scan("run this: rm -rf / now")
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1: %+v", len(issues), issues)
	}
	if issues[0].Description != "Recursive delete from root directory" {
		t.Errorf("got %q", issues[0].Description)
	}
}

func TestScan_NoMatchOnSafeText(t *testing.T) {
	f, err := NewFilter("")
	if err != nil {
		t.Fatal(err)
	}
	issues := f.Scan("ls -la /tmp && echo done")
	if len(issues) != 0 {
		t.Errorf("got %+v, want none", issues)
	}
}

func TestScan_CaseInsensitive(t *testing.T) {
	f, err := NewFilter("")
	if err != nil {
		t.Fatal(err)
	}
	issues := f.Scan("DROP DATABASE prod")
	if len(issues) != 1 {
		t.Fatalf("got %d issues", len(issues))
	}
}

func TestAnnotate_WarningModeAppendsSingleWarning(t *testing.T) {
	f, err := NewFilter("")
	if err != nil {
		t.Fatal(err)
	}
	out := f.Annotate("plan: rm -rf / to clean up", ModeWarning)
	if !strings.Contains(out, "SAFETY WARNING") {
		t.Errorf("got %q, want a warning appended", out)
	}
	if !strings.HasPrefix(out, "plan: rm -rf / to clean up") {
		t.Errorf("original text must be preserved, got %q", out)
	}
}

func TestAnnotate_SilentModeLeavesTextUnchanged(t *testing.T) {
	f, err := NewFilter("")
	if err != nil {
		t.Fatal(err)
	}
	text := "plan: rm -rf / to clean up"
	if got := f.Annotate(text, ModeSilent); got != text {
		t.Errorf("got %q, want unchanged", got)
	}
}

func TestAnnotate_BlockModeReplacesDangerousSpan(t *testing.T) {
	f, err := NewFilter("")
	if err != nil {
		t.Fatal(err)
	}
	out := f.Annotate("before rm -rf / after", ModeBlock)
	if strings.Contains(out, "rm -rf /") {
		t.Errorf("dangerous command should have been replaced: %q", out)
	}
	if !strings.Contains(out, "[BLOCKED:") {
		t.Errorf("expected a blocked marker, got %q", out)
	}
	if !strings.HasPrefix(out, "before ") || !strings.HasSuffix(out, " after") {
		t.Errorf("surrounding text should be preserved, got %q", out)
	}
}

func TestAnnotate_NoIssuesReturnsTextUnchanged(t *testing.T) {
	f, err := NewFilter("")
	if err != nil {
		t.Fatal(err)
	}
	text := "nothing dangerous here"
	if got := f.Annotate(text, ModeWarning); got != text {
		t.Errorf("got %q", got)
	}
}

func TestNewFilter_LoadsCustomPatternsFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safety.json")
	doc := map[string]any{
		"dangerous_patterns": []map[string]string{
			{"pattern": `curl\s+.*\|\s*sh`, "description": "Pipe remote script to shell"},
		},
	}
	data, _ := json.Marshal(doc)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := NewFilter(path)
	if err != nil {
		t.Fatal(err)
	}
	issues := f.Scan("curl https://example.com/install.sh | sh")
	if len(issues) != 1 || issues[0].Description != "Pipe remote script to shell" {
		t.Errorf("got %+v", issues)
	}
}

func TestNewFilter_MissingConfigPathIsNoOp(t *testing.T) {
	f, err := NewFilter(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.patterns) != len(defaultPatterns) {
		t.Errorf("expected only default patterns when config is missing")
	}
}
