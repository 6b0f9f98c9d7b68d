package domain

// Metadata is an unstructured metadata container for domain entities.
type Metadata map[string]any

// With returns a copy of m with extra layered on top. Neither input is
// modified.
func (m Metadata) With(extra Metadata) Metadata {
	out := make(Metadata, len(m)+len(extra))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
