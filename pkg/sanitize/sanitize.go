// Package sanitize redacts prompt-injection phrasing from untrusted document
// text before it is embedded into a model prompt.
//
// Matching is best effort: phrasings outside these patterns pass through
// unchanged.
package sanitize

import "regexp"

// Marker replaces every redacted span.
const Marker = "[REDACTED]"

var (
	reOverride = regexp.MustCompile(`(?i)\b(?:ignore|disregard|forget)\s+(?:(?:all|previous|prior|the|any|above)\s+)*(?:instructions?|prompts?|rules?)\b`)
	reRole     = regexp.MustCompile(`(?i)\b(?:system|assistant)\s*(?::>?|>)`)
)

// Sanitize returns text with override phrases and role markers replaced by
// Marker. Everything else is left as is.
func Sanitize(text string) string {
	text = reOverride.ReplaceAllLiteralString(text, Marker)
	return reRole.ReplaceAllLiteralString(text, Marker)
}
