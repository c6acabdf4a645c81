package domain

// Metadata is a free-form JSON object attached to tenants, subscriptions and payments.
type Metadata map[string]any

// Clone returns a shallow copy so callers can merge without aliasing.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into a clone of m.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// String returns the string value stored under key, if any.
func (m Metadata) String(key string) string {
	v, _ := m[key].(string)
	return v
}

// Bool returns the boolean stored under key.
func (m Metadata) Bool(key string) bool {
	v, _ := m[key].(bool)
	return v
}
