package gitcreds

import "context"

// StaticSource returns a fixed Credential supplied at construction time
// (from parsed configuration or environment variables). Grounded on
// secrets/providers/memory/provider.go's in-memory, no-persistence
// provider shape.
type StaticSource struct {
	cred Credential
}

// NewStaticSource builds a Source that always resolves to cred.
func NewStaticSource(cred Credential) *StaticSource {
	return &StaticSource{cred: cred}
}

func (s *StaticSource) Resolve(_ context.Context) (*Credential, error) {
	c := s.cred
	return &c, nil
}
