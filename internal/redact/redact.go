// Package redact keeps credential material out of logs and error messages.
package redact

import (
	"strings"

	"go.uber.org/zap"
)

// Placeholder replaces secret values wherever they would be rendered.
const Placeholder = "[REDACTED]"

// Secret holds a sensitive string such as a refresh or access token. Formatting
// it with fmt, encoding it as JSON or logging it through zap never prints the value.
type Secret string

// Reveal returns the underlying value for use on the wire.
func (s Secret) Reveal() string { return string(s) }

// Empty reports whether the secret carries no value once whitespace is removed.
func (s Secret) Empty() bool { return strings.TrimSpace(string(s)) == "" }

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return Placeholder
}

// GoString covers the %#v verb.
func (s Secret) GoString() string { return s.String() }

// MarshalText keeps encoders from serialising the raw value.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Field renders a secret as a zap field that only reports whether it is set.
func Field(key string, s Secret) zap.Field {
	return zap.String(key, s.String())
}

// Map returns a copy of payload with sensitive keys replaced by Placeholder.
func Map(payload map[string]any) map[string]any {
	if len(payload) == 0 {
		return map[string]any{}
	}
	return redactMap(payload)
}

func redactMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if IsSensitiveKey(key) {
			target[key] = Placeholder
			continue
		}
		target[key] = redactValue(value)
	}
	return target
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactValue(typed[i])
		}
		return out
	default:
		return value
	}
}

var sensitiveTokens = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"refresh",
	"credential",
	"code",
}

// IsSensitiveKey reports whether a map key names secret-bearing data.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	for _, token := range sensitiveTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}
