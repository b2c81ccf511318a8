package testutil

// FixedKeyGenerator generates the same instance key every time.
//
// Unlike engine.FixedGenerator which returns keys in sequence, this generator
// always returns the same key. Useful when a test submits one instance and
// compares golden output that includes the key.
//
// Thread-safety: FixedKeyGenerator is stateless and safe for concurrent use.
type FixedKeyGenerator struct {
	key string
}

// NewFixedKeyGenerator creates a new fixed key generator.
// If key is empty, Generate() returns "test-key".
func NewFixedKeyGenerator(key string) *FixedKeyGenerator {
	if key == "" {
		key = "test-key"
	}
	return &FixedKeyGenerator{key: key}
}

// Generate returns the fixed key.
func (g *FixedKeyGenerator) Generate() string {
	return g.key
}
