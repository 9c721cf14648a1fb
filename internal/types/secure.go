package types

import (
	"encoding/json"
	"log/slog"
)

// redactedPlaceholder replaces secret material anywhere a SecretString is
// formatted, logged, or serialized.
const redactedPlaceholder = "[redacted]"

// SecretString holds credential material (database URLs, webhook signing
// secrets, API key hashes) behind a type that cannot leak it by accident:
// fmt verbs, json.Marshal, and slog all see only the placeholder. The one
// deliberate escape hatch is Unmask.
type SecretString string

// String implements fmt.Stringer with the placeholder.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON encodes the placeholder, keeping secrets out of config dumps
// and API payloads.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return json.Marshal(redactedPlaceholder)
}

// LogValue implements slog.LogValuer so a SecretString passed directly as a
// log attribute is masked without relying on the Stringer path.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// Unmask returns the raw secret. Callers are the places that genuinely need
// plaintext: the pgx pool, the webhook signature check, the bcrypt compare.
func (s SecretString) Unmask() string {
	return string(s)
}
