// Package safety implements the SafetyFilter: sanitizing tool outputs
// before they reach the LLM or are persisted, and blocking rationales
// that leak secrets.
package safety

import (
	"encoding/json"
	"regexp"
	"strings"
)

// DefaultRedaction is used in place of anything the filter strips.
const DefaultRedaction = "[REDACTED]"

// DefaultRationale is substituted for a rationale the leak detector or
// policy scanner blocks; the original text is never surfaced.
const DefaultRationale = "(rationale withheld)"

// DefaultMaxLength bounds a single tool output before truncation.
const DefaultMaxLength = 64 * 1024

// leakPatterns catches known secret shapes: API keys, bearer/JWT tokens,
// AWS credentials, generic password/token/secret assignments, and PEM
// private key blocks. Grounded on the teacher's tool_result_guard.go.
var leakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[\w-\.]+`),
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`),
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

// destructivePatterns flags shell fragments that indicate a destructive
// action leaked into a tool result rather than being executed directly.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf\s+/`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`), // fork bomb
	regexp.MustCompile(`(?i)drop\s+table`),
}

// redactKeys are JSON object keys whose values are always redacted.
var redactKeys = map[string]bool{
	"authorization": true,
	"token":         true,
	"password":      true,
	"api_key":       true,
	"apikey":        true,
	"secret":        true,
}

// Filter sanitizes tool outputs and narratives before they are
// persisted or shown to the LLM.
type Filter struct {
	MaxLength     int
	Redaction     string
	Rationale     string
	ExtraPatterns []*regexp.Regexp
}

// New returns a Filter configured with the package defaults.
func New() *Filter {
	return &Filter{
		MaxLength: DefaultMaxLength,
		Redaction: DefaultRedaction,
		Rationale: DefaultRationale,
	}
}

// SanitizeResult is the outcome of Sanitize: the (possibly modified)
// content and whether anything was changed.
type SanitizeResult struct {
	Content     string
	WasModified bool
}

// Sanitize runs JSON-key redaction, the leak detector, the policy scanner
// (destructive patterns, then ExtraPatterns) and max-length enforcement over
// a raw tool output, in that order.
func (f *Filter) Sanitize(toolName, raw string) SanitizeResult {
	content := raw
	modified := false

	if redacted := redactJSONKeys(content); redacted != content {
		content = redacted
		modified = true
	}

	for _, re := range leakPatterns {
		if re.MatchString(content) {
			content = re.ReplaceAllString(content, f.redaction())
			modified = true
		}
	}
	for _, re := range destructivePatterns {
		if re.MatchString(content) {
			content = re.ReplaceAllString(content, f.redaction())
			modified = true
		}
	}
	for _, re := range f.ExtraPatterns {
		if re.MatchString(content) {
			content = re.ReplaceAllString(content, f.redaction())
			modified = true
		}
	}

	maxLen := f.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	if len(content) > maxLen {
		content = content[:maxLen] + "\n...[truncated]"
		modified = true
	}

	return SanitizeResult{Content: content, WasModified: modified}
}

// IsBlocked reports whether content (typically a rationale or narrative)
// contains a leaked secret or a destructive-action fragment and should
// never reach storage or the LLM in its original form.
func (f *Filter) IsBlocked(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	for _, re := range leakPatterns {
		if re.MatchString(content) {
			return true
		}
	}
	for _, re := range destructivePatterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

// SanitizeRationale applies spec §4.4's rationale rule: empty, blocked-by-leak,
// or blocked-by-policy rationales produce "", never leaking the original;
// callers record a nil/empty narrative in that case.
func (f *Filter) SanitizeRationale(rationale string) string {
	if strings.TrimSpace(rationale) == "" {
		return ""
	}
	if f.IsBlocked(rationale) {
		return ""
	}
	return rationale
}

func (f *Filter) redaction() string {
	if f.Redaction != "" {
		return f.Redaction
	}
	return DefaultRedaction
}

// redactJSONKeys walks a JSON object (if content parses as one) and
// replaces the values of sensitive keys. Non-JSON content passes through
// unchanged — the regex-based leak patterns still apply to it.
func redactJSONKeys(content string) string {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return content
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return content
	}
	changed := false
	for k := range obj {
		if redactKeys[strings.ToLower(k)] {
			obj[k] = json.RawMessage(`"` + DefaultRedaction + `"`)
			changed = true
		}
	}
	if !changed {
		return content
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return content
	}
	return string(out)
}

// DetectSecrets scans content and returns the names of the patterns that
// matched, useful for structured logging of a blocked rationale.
func DetectSecrets(content string) []string {
	if content == "" {
		return nil
	}
	names := []string{"api_key", "sk_prefix", "bearer_token", "jwt", "aws_credential", "generic_secret", "private_key"}
	var matched []string
	for i, re := range leakPatterns {
		if re.MatchString(content) {
			matched = append(matched, names[i])
		}
	}
	return matched
}
