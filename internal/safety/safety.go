// Package safety implements the default POST_VERIFY hook: a dangerous
// command scanner that annotates an already-detokenized response with
// inline warnings. It is unrelated to the claim-verification subsystem,
// which is an independent, out-of-scope post-processor invoked separately.
package safety

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
)

// Issue is one detected dangerous-command match.
type Issue struct {
	MatchedText string `json:"matched_text"`
	Description string `json:"description"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Line        int    `json:"line"`
}

type pattern struct {
	re          *regexp.Regexp
	description string
}

// defaultPatterns covers filesystem destruction, system control,
// container/Kubernetes teardown, database wipes, cloud infrastructure
// teardown, firewall flushes, user/permission manipulation, package/service
// removal, and resource exhaustion.
var defaultPatterns = []pattern{
	{regexp.MustCompile(`(?i)rm\s+-rf\s+/`), "Recursive delete from root directory"},
	{regexp.MustCompile(`(?i)rm\s+-rf\s+/\*`), "Delete all files in root"},
	{regexp.MustCompile(`(?i)rm\s+-[rf]+\s+~/`), "Delete home directory"},
	{regexp.MustCompile(`(?i)mkfs\.\w+\s+/dev/`), "Format disk/partition"},
	{regexp.MustCompile(`(?i)dd\s+if=.*\s+of=/dev/[sh]d[a-z]`), "Direct disk write"},

	{regexp.MustCompile(`(?i)shutdown\s+-[hr]\s+now`), "Immediate system shutdown/reboot"},
	{regexp.MustCompile(`(?i)reboot\s+--force`), "Forced system reboot"},
	{regexp.MustCompile(`(?i)init\s+[06]`), "System halt/reboot via init"},
	{regexp.MustCompile(`(?i)systemctl\s+poweroff`), "System poweroff"},
	{regexp.MustCompile(`(?i)halt\s+-p`), "System halt"},

	{regexp.MustCompile(`(?i)kubectl\s+delete\s+(?:namespace|ns)\s+--all`), "Delete all Kubernetes namespaces"},
	{regexp.MustCompile(`(?i)kubectl\s+delete\s+\w+\s+--all(?:\s+-n|\s+--namespace)`), "Delete all resources in namespace"},
	{regexp.MustCompile(`(?i)kubectl\s+drain\s+.*--delete-(?:local-data|emptydir-data)`), "Forcefully drain node"},
	{regexp.MustCompile(`(?i)docker\s+rm\s+-f\s+\$\(docker\s+ps\s+-aq\)`), "Force remove all containers"},
	{regexp.MustCompile(`(?i)docker\s+system\s+prune\s+-a\s+--volumes\s+--force`), "Prune all Docker data"},

	{regexp.MustCompile(`(?i)DROP\s+DATABASE\s+\w+`), "Drop database"},
	{regexp.MustCompile(`(?i)TRUNCATE\s+TABLE`), "Truncate table"},
	{regexp.MustCompile(`(?i)DELETE\s+FROM\s+\w+(?:\s+WHERE\s+1=1)?`), "Delete all rows from table"},
	{regexp.MustCompile(`(?i)psql.*-c\s+["']DROP`), "PostgreSQL drop command"},
	{regexp.MustCompile(`(?i)mysql.*-e\s+["']DROP`), "MySQL drop command"},

	{regexp.MustCompile(`(?i)aws\s+s3\s+rb\s+s3://.*--force`), "Force delete S3 bucket"},
	{regexp.MustCompile(`(?i)aws\s+ec2\s+terminate-instances\s+--instance-ids\s+.*\*`), "Terminate EC2 instances with wildcard"},
	{regexp.MustCompile(`(?i)az\s+group\s+delete\s+--name\s+.*--yes\s+--no-wait`), "Delete Azure resource group"},
	{regexp.MustCompile(`(?i)gcloud\s+projects\s+delete`), "Delete GCP project"},
	{regexp.MustCompile(`(?i)terraform\s+destroy\s+-auto-approve`), "Auto-approve Terraform destroy"},

	{regexp.MustCompile(`(?i)iptables\s+-F`), "Flush all iptables rules"},
	{regexp.MustCompile(`(?i)iptables\s+-X`), "Delete all iptables chains"},
	{regexp.MustCompile(`(?i)ufw\s+disable`), "Disable firewall"},

	{regexp.MustCompile(`(?i)chmod\s+777\s+/`), "Set world-writable permissions on root"},
	{regexp.MustCompile(`(?i)chown\s+-R\s+\w+:\w+\s+/`), "Recursive ownership change from root"},
	{regexp.MustCompile(`(?i)passwd\s+root`), "Change root password"},
	{regexp.MustCompile(`(?i)userdel\s+-r\s+root`), "Delete root user"},

	{regexp.MustCompile(`(?i)apt-get\s+remove\s+--purge\s+.*sudo`), "Remove sudo package"},
	{regexp.MustCompile(`(?i)yum\s+remove\s+sudo`), "Remove sudo package (yum)"},
	{regexp.MustCompile(`(?i)systemctl\s+stop\s+ssh(?:d)?`), "Stop SSH service"},
	{regexp.MustCompile(`(?i)systemctl\s+disable\s+ssh(?:d)?`), "Disable SSH service"},

	{regexp.MustCompile(`(?i):\(\)\{\s*:\|:&\s*\};:`), "Fork bomb pattern"},
	{regexp.MustCompile(`(?is)while\s+true;\s*do.*done`), "Infinite loop"},
	{regexp.MustCompile(`(?i)yes\s+>\s+/dev/`), "Resource exhaustion"},

	{regexp.MustCompile(`(?i)crontab\s+-r`), "Remove all cron jobs"},
	{regexp.MustCompile(`(?i)\*\s+\*\s+\*\s+\*\s+\*\s+rm\s+-rf`), "Scheduled recursive delete"},
}

// configPattern is one entry of an external JSON pattern file.
type configPattern struct {
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
}

// Filter scans text for dangerous shell/SQL/infra commands and annotates
// matches. The zero value uses only the built-in pattern table.
type Filter struct {
	patterns []pattern
}

// NewFilter builds a Filter from the built-in patterns plus, if
// configPath is non-empty and exists, additional patterns loaded from a
// JSON file of {"dangerous_patterns": [{"pattern":..., "description":...}]}.
// A missing config file is not an error. An unreadable or unparsable one
// returns an error together with a Filter holding the built-in patterns; a
// custom pattern that fails to compile is skipped without an error.
func NewFilter(configPath string) (*Filter, error) {
	f := &Filter{patterns: append([]pattern(nil), defaultPatterns...)}
	if configPath == "" {
		return f, nil
	}
	data, err := os.ReadFile(configPath) // #nosec G703 -- path from trusted config
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, fmt.Errorf("safety: read %q: %w", configPath, err)
	}

	var doc struct {
		DangerousPatterns []configPattern `json:"dangerous_patterns"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return f, fmt.Errorf("safety: parse %q: %w", configPath, err)
	}
	for _, cp := range doc.DangerousPatterns {
		if cp.Pattern == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + cp.Pattern)
		if err != nil {
			continue
		}
		desc := cp.Description
		if desc == "" {
			desc = "Custom dangerous pattern"
		}
		f.patterns = append(f.patterns, pattern{re: re, description: desc})
	}
	return f, nil
}

// Scan returns every dangerous-command match in text.
func (f *Filter) Scan(text string) []Issue {
	var issues []Issue
	for _, p := range f.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			line := 1
			for _, r := range text[:loc[0]] {
				if r == '\n' {
					line++
				}
			}
			issues = append(issues, Issue{
				MatchedText: text[loc[0]:loc[1]],
				Description: p.description,
				Start:       loc[0],
				End:         loc[1],
				Line:        line,
			})
		}
	}
	return issues
}

// Mode selects how Annotate reacts to detected issues.
type Mode string

const (
	ModeWarning Mode = "warning"
	ModeBlock   Mode = "block"
	ModeSilent  Mode = "silent"
)

// Annotate scans text and, per mode, appends an inline warning, replaces
// dangerous spans with a blocked marker, or leaves text untouched.
// Verification failures in the orchestrator must never block the reply, so
// any caller of Annotate treats it as best-effort and swallows its own
// errors (Annotate itself cannot fail).
func (f *Filter) Annotate(text string, mode Mode) string {
	issues := f.Scan(text)
	if len(issues) == 0 || mode == ModeSilent {
		return text
	}

	if mode == ModeBlock {
		sort.Slice(issues, func(i, j int) bool { return issues[i].Start > issues[j].Start })
		result := text
		for _, issue := range issues {
			replacement := fmt.Sprintf("[BLOCKED: %s]", issue.Description)
			result = result[:issue.Start] + replacement + result[issue.End:]
		}
		return result
	}

	var warning string
	if len(issues) == 1 {
		warning = fmt.Sprintf("\n\n[SAFETY WARNING] Potentially destructive command detected:\n  - %s", issues[0].Description)
	} else {
		shown := issues
		more := 0
		if len(issues) > 5 {
			shown = issues[:5]
			more = len(issues) - 5
		}
		list := ""
		for _, issue := range shown {
			list += fmt.Sprintf("  - %s\n", issue.Description)
		}
		warning = fmt.Sprintf("\n\n[SAFETY WARNING] %d potentially destructive commands detected:\n%s", len(issues), list)
		if more > 0 {
			warning += fmt.Sprintf("  ... and %d more", more)
		}
	}
	return text + warning
}
