package provider

import (
	"context"
	"hash/fnv"
	"math"
)

// StubProvider is a simple provider for testing. Replies are scripted,
// embeddings are deterministic per input text so similarity search
// behaves consistently across runs.
type StubProvider struct {
	Responses []string

	// GenerateErr and EmbedErr, when set, make the corresponding call fail.
	GenerateErr error
	EmbedErr    error

	// LastMessages records the context window of the most recent
	// Generate call.
	LastMessages []Message
}

func NewStubProvider(responses ...string) *StubProvider {
	if len(responses) == 0 {
		responses = []string{"Sounds like a plan, let's ship it."}
	}
	return &StubProvider{Responses: responses}
}

func (m *StubProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	if m.GenerateErr != nil {
		return "", m.GenerateErr
	}
	m.LastMessages = append([]Message(nil), messages...)

	if len(m.Responses) == 1 {
		return m.Responses[0], nil
	}
	resp := m.Responses[0]
	m.Responses = m.Responses[1:]
	return resp, nil
}

// Embed creates a deterministic embedding from the text hash.
func (m *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, Dimensions)
	for i := range embedding {
		// Linear congruential generator seeded by the text hash.
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(embedding), nil
}

func (m *StubProvider) Name() string {
	return "stub"
}

// normalize converts the embedding to a unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}
	return normalized
}
