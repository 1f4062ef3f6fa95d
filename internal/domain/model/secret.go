package model

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

const redacted = "[SECRET]"

// Secret holds a password or passphrase. Every formatting path redacts it so a
// stray log line or JSON response cannot leak the value; Reveal is the only
// way to read it.
type Secret string

// Reveal returns the plaintext value.
func (s Secret) Reveal() string { return string(s) }

// String redacts the secret for fmt.Print* convenience.
func (s Secret) String() string { return redacted }

// Format implements fmt.Formatter so %v, %#v and %q are redacted too.
func (s Secret) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalJSON redacts secrets in JSON output.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

// MarshalText redacts secrets for text encoders.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }
