package llmservice

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"research-rag/internal/config"
)

const (
	ProviderHosted = "hosted"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Generator produces an answer for a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// NewGenerator creates the generator configured by llmConfig.
func NewGenerator(llmConfig config.LLMConfig) (Generator, error) {
	log.Debug().Interface("config", map[string]any{
		"provider":       llmConfig.Provider,
		"base_url":       llmConfig.BaseURL,
		"model":          llmConfig.Model,
		"max_new_tokens": llmConfig.MaxNewTokens,
	}).Msg("Loaded inference config")

	token := strings.TrimPrefix(llmConfig.Key, "Bearer ")
	httpClient := &http.Client{Timeout: llmConfig.Timeout}

	switch llmConfig.Provider {
	case ProviderHosted, "":
		return NewHostedClient(llmConfig.BaseURL, token, llmConfig.MaxNewTokens, httpClient)

	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(llmConfig.Model),
			openai.WithHTTPClient(httpClient),
		}
		if token != "" {
			opts = append(opts, openai.WithToken(token))
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("error initializing openai client: %w", err)
		}
		return &ModelGenerator{Model: llm, MaxTokens: llmConfig.MaxNewTokens}, nil

	case ProviderOllama:
		opts := []ollama.Option{
			ollama.WithModel(llmConfig.Model),
			ollama.WithHTTPClient(httpClient),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("error initializing ollama client: %w", err)
		}
		return &ModelGenerator{Model: llm, MaxTokens: llmConfig.MaxNewTokens}, nil

	default:
		return nil, fmt.Errorf("unknown inference provider %q", llmConfig.Provider)
	}
}

// ModelGenerator sends the prompt as a single human message to a langchaingo
// model.
type ModelGenerator struct {
	Model     llms.Model
	MaxTokens int
}

func (g *ModelGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var opts []llms.CallOption
	if g.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.MaxTokens))
	}
	return GenerateContent(ctx, g.Model, prompt, opts...)
}

// call llm
func GenerateContent(ctx context.Context, model llms.Model, prompt string, opts ...llms.CallOption) (string, error) {
	msgContent := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	res, err := model.GenerateContent(ctx, msgContent, opts...)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	return res.Choices[0].Content, nil
}
