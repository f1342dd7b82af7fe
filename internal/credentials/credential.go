package credentials

import "strings"

const redacted = "[redacted]"

// Credential wraps an upstream provider key. Every formatting path prints
// a placeholder; only Reveal returns the secret.
type Credential struct {
	value string
}

func New(value string) Credential {
	return Credential{value: value}
}

func (c Credential) Reveal() string {
	return c.value
}

func (c Credential) IsZero() bool {
	return c.value == ""
}

// Scrub replaces every occurrence of the key in text with a placeholder.
func (c Credential) Scrub(text string) string {
	if c.value == "" {
		return text
	}
	return strings.ReplaceAll(text, c.value, redacted)
}

func (c Credential) String() string {
	return redacted
}

func (c Credential) GoString() string {
	return redacted
}

func (c Credential) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
