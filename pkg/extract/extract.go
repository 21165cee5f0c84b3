// Package extract turns free-form model replies into structured results.
package extract

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Result is either Parsed or Unparsed. Callers switch on the concrete type.
type Result interface {
	// Map renders the result for the report. Unparsed renders as {"raw": text}.
	Map() map[string]any
	isResult()
}

// Parsed holds a reply that decoded to a JSON object.
type Parsed map[string]any

func (p Parsed) Map() map[string]any { return map[string]any(p) }
func (Parsed) isResult()             {}

// Unparsed holds a reply that could not be decoded.
type Unparsed struct {
	Raw string
}

func (u Unparsed) Map() map[string]any { return map[string]any{"raw": u.Raw} }
func (Unparsed) isResult()             {}

// Extract never fails. It tries, in order: the reply as is, the reply with
// one surrounding code fence removed, and each of those after unwrapping a
// JSON-encoded string. Anything that is not a JSON object is Unparsed.
func Extract(reply string) Result {
	candidates := []string{reply}
	if stripped, ok := stripFence(reply); ok {
		candidates = append(candidates, stripped)
	}

	for _, c := range candidates {
		if m, ok := decodeObject([]byte(c)); ok {
			return Parsed(m)
		}
	}
	for _, c := range candidates {
		if m, ok := decodeQuoted([]byte(c)); ok {
			return Parsed(m)
		}
	}
	return Unparsed{Raw: reply}
}

func decodeObject(raw []byte) (map[string]any, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// decodeQuoted handles replies where the object arrives double-encoded as a
// JSON string, e.g. "{\"a\":1}".
func decodeQuoted(raw []byte) (map[string]any, bool) {
	var s string
	if err := json.Unmarshal(bytes.TrimSpace(raw), &s); err != nil {
		return nil, false
	}
	return decodeObject([]byte(s))
}

// stripFence removes a single leading ``` (optionally ```json) line and a
// single trailing ``` from the trimmed reply.
func stripFence(reply string) (string, bool) {
	s := strings.TrimSpace(reply)
	if !strings.HasPrefix(s, "```") {
		return "", false
	}
	s = strings.TrimPrefix(s, "```")
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s), true
}
