package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// RedactedValue replaces every redacted attribute value.
const RedactedValue = "[REDACTED]"

// Redactor removes secrets from log attributes. Values of sensitive keys are
// replaced outright; string values of other keys are scrubbed of credentials
// that leak into error messages.
type Redactor struct {
	keys     map[string]struct{}
	patterns []*redactPattern
}

// redactPattern contains a compiled regex and replacement string.
type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

var defaultPatterns = []*redactPattern{
	{regex: regexp.MustCompile(`sk-[a-zA-Z0-9_\-]{8,}`), replacement: "sk-***"},
	{regex: regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`), replacement: "Bearer ***"},
}

// NewRedactor creates a Redactor for the given attribute keys.
// Keys are matched case-insensitively.
func NewRedactor(keys []string) *Redactor {
	r := &Redactor{
		keys:     make(map[string]struct{}, len(keys)),
		patterns: defaultPatterns,
	}
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			r.keys[k] = struct{}{}
		}
	}
	return r
}

// IsSensitiveKey reports whether values logged under key are redacted.
func (r *Redactor) IsSensitiveKey(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

// RedactString scrubs credentials from a string.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if r.IsSensitiveKey(a.Key) {
		return slog.String(a.Key, RedactedValue)
	}

	switch a.Value.Kind() {
	case slog.KindString:
		if s := a.Value.String(); s != "" {
			if redacted := r.RedactString(s); redacted != s {
				return slog.String(a.Key, redacted)
			}
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok && err != nil {
			msg := err.Error()
			if redacted := r.RedactString(msg); redacted != msg {
				return slog.String(a.Key, redacted)
			}
		}
	}
	return a
}
