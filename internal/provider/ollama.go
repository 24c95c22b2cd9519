package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"
)

const defaultOllamaEmbedModel = "nomic-embed-text" // 768 dimensions

type OllamaProvider struct {
	client     *api.Client
	model      string
	embedModel string
	persona    string
}

func NewOllamaProvider(model, persona string) (*OllamaProvider, error) {
	if model == "" {
		model = "llama3.2"
	}

	baseURL := "http://localhost:11434"
	if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
		baseURL = envURL
	}
	uri, _ := url.Parse(baseURL)
	client := api.NewClient(uri, http.DefaultClient)

	return &OllamaProvider{
		client:     client,
		model:      model,
		embedModel: defaultOllamaEmbedModel,
		persona:    persona,
	}, nil
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func (p *OllamaProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("empty context window")
	}

	apiMsgs := make([]api.Message, 0, len(messages)+1)
	if p.persona != "" {
		apiMsgs = append(apiMsgs, api.Message{
			Role:    "system",
			Content: p.persona,
		})
	}
	for _, m := range messages {
		role := "user"
		if m.Role == RoleModel {
			role = "assistant"
		}
		apiMsgs = append(apiMsgs, api.Message{
			Role:    role,
			Content: m.Content,
		})
	}

	req := &api.ChatRequest{
		Model:    p.model,
		Messages: apiMsgs,
		Stream:   new(bool), // false
		Options: map[string]interface{}{
			"temperature": 0.7,
		},
	}

	var respContent string
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		respContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}

	return respContent, nil
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	req := &api.EmbeddingRequest{
		Model:  p.embedModel,
		Prompt: text,
	}
	resp, err := p.client.Embeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	if err := checkDimensions(vec); err != nil {
		return nil, err
	}
	return vec, nil
}
