package audit

import (
	"encoding/json"
	"regexp"
)

// RedactionMarker replaces every sensitive value in a persisted payload.
const RedactionMarker = "[REDACTED]"

// defaultSensitivePatterns match field names whose values must never reach
// the audit store. Matching is case-insensitive and substring-based, so
// "userPassword" and "PASSWORD_HASH" both match "password".
var defaultSensitivePatterns = []string{
	`password`,
	`passwd`,
	`secret`,
	`token`,
	`api_?key`,
	`authorization`,
	`credential`,
	`private_?key`,
	`ssn`,
	`social_?security`,
	`national_?id`,
	`identification`,
	`tax_?id`,
	`passport`,
	`e_?mail`,
	`phone`,
	`mobile`,
	`telephone`,
	`credit_?card`,
	`card_?number`,
	`iban`,
	`date_?of_?birth`,
}

// Redactor recursively replaces values of sensitive keys in arbitrary nested
// key-value structures. It never fails open: structures it cannot interpret
// are replaced wholesale by the marker rather than passed through.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with the default sensitive-field set plus
// any extra patterns from configuration. Invalid extra patterns are skipped.
func NewRedactor(extraPatterns []string) *Redactor {
	all := make([]string, 0, len(defaultSensitivePatterns)+len(extraPatterns))
	all = append(all, defaultSensitivePatterns...)
	all = append(all, extraPatterns...)

	r := &Redactor{}
	for _, p := range all {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, re)
	}
	return r
}

// IsSensitiveKey reports whether a key matches the sensitive-field set.
func (r *Redactor) IsSensitiveKey(key string) bool {
	for _, re := range r.patterns {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

// Redact walks an arbitrary decoded value and replaces the value of every
// sensitive key with the marker. Scalars pass through; anything the walker
// does not recognize is redacted wholesale.
func (r *Redactor) Redact(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case string, bool,
		float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		json.Number:
		return v
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			if r.IsSensitiveKey(k) {
				out[k] = RedactionMarker
				continue
			}
			out[k] = r.Redact(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = r.Redact(val)
		}
		return out
	default:
		// Unknown or ambiguous shape: fail closed.
		return RedactionMarker
	}
}

// RedactJSON redacts a raw JSON payload. Malformed input is replaced entirely
// by the marker, never leaked unredacted.
func (r *Redactor) RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return r.marker()
	}
	redacted, err := json.Marshal(r.Redact(decoded))
	if err != nil {
		return r.marker()
	}
	return redacted
}

// RedactValue marshals any Go value through JSON and redacts it. Values that
// cannot be marshalled are replaced by the marker.
func (r *Redactor) RedactValue(value interface{}) json.RawMessage {
	raw, err := json.Marshal(value)
	if err != nil {
		return r.marker()
	}
	return r.RedactJSON(raw)
}

func (r *Redactor) marker() json.RawMessage {
	m, _ := json.Marshal(RedactionMarker)
	return m
}
