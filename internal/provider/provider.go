package provider

import (
	"context"
	"fmt"
)

// Dimensions is the embedding vector size every provider must produce.
// The vector index stores raw vectors, so mixing dimensionalities would
// silently corrupt similarity search.
const Dimensions = 768

// Message roles. The wire format follows the Gemini convention: the
// assistant side is "model", not "assistant".
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one role-tagged fragment of a context window.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider defines the interface for AI model interactions.
type Provider interface {
	// Generate sends an ordered context window to the model and returns
	// the reply text. The persona/system instruction is fixed per
	// provider instance, not per call.
	Generate(ctx context.Context, messages []Message) (string, error)

	// Embed generates a vector embedding of length Dimensions for the
	// given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider identifier (e.g. "gemini", "openai").
	Name() string
}

// checkDimensions rejects vectors of the wrong size before they reach
// the index.
func checkDimensions(vec []float32) error {
	if len(vec) != Dimensions {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(vec), Dimensions)
	}
	return nil
}
