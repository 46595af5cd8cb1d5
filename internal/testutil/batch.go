package testutil

// FixedBatchGenerator returns the same batch token every time.
//
// Scenarios stamp every mutation with one token so golden snapshots do not
// depend on generated UUIDs. pipeline.FixedGenerator, by contrast, hands
// out a list of tokens in sequence.
//
// Thread-safety: FixedBatchGenerator is stateless and safe for concurrent use.
type FixedBatchGenerator struct {
	token string
}

// NewFixedBatchGenerator creates a generator for token. An empty token
// becomes "test-batch-default".
func NewFixedBatchGenerator(token string) *FixedBatchGenerator {
	if token == "" {
		token = "test-batch-default"
	}
	return &FixedBatchGenerator{token: token}
}

// Generate returns the fixed token.
func (g *FixedBatchGenerator) Generate() string {
	return g.token
}
