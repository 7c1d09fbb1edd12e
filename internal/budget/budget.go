// Package budget implements C9's bounded-output rules: max_chars
// truncation with a doubling show-more escalation, and secret redaction
// over rendered tool output before it leaves the process.
package budget

import (
	"regexp"

	"branchmind/internal/logging"
)

// TruncateResult is the outcome of applying a max_chars budget to one
// response body.
type TruncateResult struct {
	Text              string
	Truncated         bool
	SuggestedMaxChars int // 0 when not truncated, else doubled up to PerToolCap
}

// Truncate cuts text to maxChars when it overflows, proposing a doubled
// max_chars (capped at perToolCap) for a `Show more` follow-up call
// ("Budget violations never fail the call").
func Truncate(text string, maxChars, perToolCap int) TruncateResult {
	if maxChars <= 0 || len(text) <= maxChars {
		return TruncateResult{Text: text}
	}
	suggested := maxChars * 2
	if suggested > perToolCap {
		suggested = perToolCap
	}
	logging.BudgetDebug("truncated response from %d to %d chars, suggesting max_chars=%d", len(text), maxChars, suggested)
	return TruncateResult{Text: text[:maxChars], Truncated: true, SuggestedMaxChars: suggested}
}

// ResolveMaxChars picks the effective max_chars for a call: the caller's
// explicit request if positive, clamped to perToolCap, else the
// configured default.
func ResolveMaxChars(requested, defaultMaxChars, perToolCap int) int {
	if requested <= 0 {
		return defaultMaxChars
	}
	if requested > perToolCap {
		return perToolCap
	}
	return requested
}

var secretLikeKey = regexp.MustCompile(`(?i)(password|passwd|secret|token|api[_-]?key|access[_-]?key|private[_-]?key|credential)`)
var kvSecretRe = regexp.MustCompile(`(?i)\b([\w.-]*(?:password|passwd|secret|token|api[_-]?key|access[_-]?key|private[_-]?key|credential)[\w.-]*)\s*[=:]\s*("[^"]*"|'[^']*'|\S+)`)
var bearerRe = regexp.MustCompile(`(?i)\b(Bearer|Basic)\s+[A-Za-z0-9._\-+/=]{8,}`)
var jwtRe = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`)

// Redact scrubs key=value secrets (password/token/api_key/... keys),
// Bearer/Basic auth headers, and JWTs from text before it is rendered
// or logged, reporting whether anything was scrubbed.
func Redact(text string) (string, bool) {
	redacted := false
	out := kvSecretRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := kvSecretRe.FindStringSubmatch(m)
		if len(sub) < 2 || !secretLikeKey.MatchString(sub[1]) {
			return m
		}
		redacted = true
		return sub[1] + "=[REDACTED]"
	})
	out = bearerRe.ReplaceAllStringFunc(out, func(m string) string {
		redacted = true
		scheme := bearerRe.FindStringSubmatch(m)[1]
		return scheme + " [REDACTED]"
	})
	out = jwtRe.ReplaceAllStringFunc(out, func(string) string {
		redacted = true
		return "[REDACTED_JWT]"
	})
	return out, redacted
}
