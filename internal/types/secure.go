package types

// SecretString wraps sensitive string values (API keys, signing secrets) so
// they cannot leak through logging or JSON serialization. Use Unmask to get
// the raw value at the point of use.
type SecretString string

const redactedPlaceholder = "[REDACTED]"

// String implements fmt.Stringer, returning a redacted placeholder.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON always serializes the redacted placeholder.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// Unmask returns the underlying secret value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsEmpty reports whether the secret is unset.
func (s SecretString) IsEmpty() bool {
	return s == ""
}
