package telemetry

import (
	"regexp"
	"strings"
)

// Mask replaces redacted text.
const Mask = "***"

var userinfoRE = regexp.MustCompile(`://[^/@\s]+@`)

// Redactor removes secrets from text.
type Redactor struct {
	secrets []string
}

// NewRedactor creates a Redactor for the given secrets. Empty strings are
// ignored.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{}
	for _, s := range secrets {
		if s != "" {
			r.secrets = append(r.secrets, s)
		}
	}
	return r
}

// String masks every known secret and any URL userinfo in s.
func (r *Redactor) String(s string) string {
	if r != nil {
		for _, secret := range r.secrets {
			s = strings.ReplaceAll(s, secret, Mask)
		}
	}
	return userinfoRE.ReplaceAllString(s, "://"+Mask+"@")
}

// Value redacts strings inside v, recursing into maps and slices as
// produced by encoding/json.
func (r *Redactor) Value(v any) any {
	switch t := v.(type) {
	case string:
		return r.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = r.Value(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.Value(val)
		}
		return out
	default:
		return v
	}
}
