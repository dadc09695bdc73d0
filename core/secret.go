package core

// Secret holds a credential and keeps it out of logs and serialized output.
// String, GoString and the marshalers all print a placeholder.
//
//	key := NewSecret("fc-abc123")
//	fmt.Println(key)      // [REDACTED]
//	key.Expose()          // "fc-abc123"
type Secret struct {
	value string
}

const redacted = "[REDACTED]"

// NewSecret wraps a credential.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// String implements fmt.Stringer.
func (s Secret) String() string {
	return redacted
}

// GoString implements fmt.GoStringer.
func (s Secret) GoString() string {
	return "core.Secret{" + redacted + "}"
}

// MarshalJSON never emits the credential.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// MarshalText never emits the credential.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Expose returns the credential. Only use it to build the outbound request.
func (s Secret) Expose() string {
	return s.value
}

// IsEmpty reports whether no credential is set.
func (s Secret) IsEmpty() bool {
	return s.value == ""
}

// bearer returns the Authorization header value, or "" without a credential.
func (s Secret) bearer() string {
	if s.IsEmpty() {
		return ""
	}
	return "Bearer " + s.value
}
