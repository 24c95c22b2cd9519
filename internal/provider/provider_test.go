package provider

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestStubProvider_Generate(t *testing.T) {
	p := NewStubProvider("first", "second")

	resp, err := p.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp != "first" {
		t.Errorf("expected 'first', got %q", resp)
	}

	resp, _ = p.Generate(context.Background(), []Message{{Role: RoleUser, Content: "again"}})
	if resp != "second" {
		t.Errorf("expected 'second', got %q", resp)
	}

	// Last scripted response repeats rather than running out.
	resp, _ = p.Generate(context.Background(), []Message{{Role: RoleUser, Content: "more"}})
	if resp != "second" {
		t.Errorf("expected 'second' again, got %q", resp)
	}
}

func TestStubProvider_RecordsWindow(t *testing.T) {
	p := NewStubProvider()
	window := []Message{
		{Role: RoleUser, Content: "context"},
		{Role: RoleModel, Content: "reply"},
		{Role: RoleUser, Content: "question"},
	}

	if _, err := p.Generate(context.Background(), window); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(p.LastMessages) != 3 {
		t.Fatalf("expected 3 recorded messages, got %d", len(p.LastMessages))
	}
	if p.LastMessages[2].Content != "question" {
		t.Errorf("expected last message 'question', got %q", p.LastMessages[2].Content)
	}
}

func TestStubProvider_Embed(t *testing.T) {
	p := NewStubProvider()

	vec, err := p.Embed(context.Background(), "what's the capital of france?")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != Dimensions {
		t.Fatalf("expected %d dimensions, got %d", Dimensions, len(vec))
	}

	// Deterministic per text.
	again, _ := p.Embed(context.Background(), "what's the capital of france?")
	for i := range vec {
		if vec[i] != again[i] {
			t.Fatal("expected identical embeddings for identical text")
		}
	}

	// Unit vector.
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-4 {
		t.Errorf("expected unit vector, got norm %f", math.Sqrt(norm))
	}
}

func TestStubProvider_Errors(t *testing.T) {
	p := NewStubProvider()
	p.EmbedErr = errors.New("embedding service down")
	p.GenerateErr = errors.New("generation service down")

	if _, err := p.Embed(context.Background(), "text"); err == nil {
		t.Error("expected Embed error")
	}
	if _, err := p.Generate(context.Background(), []Message{{Role: RoleUser, Content: "x"}}); err == nil {
		t.Error("expected Generate error")
	}
}

func TestCheckDimensions(t *testing.T) {
	if err := checkDimensions(make([]float32, Dimensions)); err != nil {
		t.Errorf("expected %d-dim vector to pass, got %v", Dimensions, err)
	}
	if err := checkDimensions(make([]float32, 384)); err == nil {
		t.Error("expected wrong-sized vector to fail")
	}
}

func TestNewGeminiProvider_RequiresKey(t *testing.T) {
	if _, err := NewGeminiProvider("", "", ""); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider("", "", "", ""); err == nil {
		t.Error("expected error for missing API key")
	}
}
