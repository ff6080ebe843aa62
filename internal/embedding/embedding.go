package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	hfembed "github.com/tmc/langchaingo/embeddings/huggingface"
	"github.com/tmc/langchaingo/llms/huggingface"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"research-rag/internal/config"
)

const (
	ProviderHuggingface = "huggingface"
	ProviderOpenAI      = "openai"
	ProviderOllama      = "ollama"
)

// NewEmbedder creates the embedder configured by llmConfig.
func NewEmbedder(llmConfig config.LLMConfig) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Loaded embedder config")

	token := strings.TrimPrefix(llmConfig.Key, "Bearer ")
	httpClient := &http.Client{Timeout: llmConfig.Timeout}

	switch llmConfig.Provider {
	case ProviderHuggingface, "":
		opts := []huggingface.Option{huggingface.WithModel(llmConfig.Model)}
		if token != "" {
			opts = append(opts, huggingface.WithToken(token))
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, huggingface.WithURL(llmConfig.BaseURL))
		}
		llm, err := huggingface.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("error initializing huggingface client: %w", err)
		}
		embedder, err := hfembed.NewHuggingface(
			hfembed.WithClient(*llm),
			hfembed.WithModel(llmConfig.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating embedder: %w", err)
		}
		return embedder, nil

	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(llmConfig.Model),
			openai.WithEmbeddingModel(llmConfig.Model),
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
		return newEmbedder(llm)

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
		return newEmbedder(llm)

	default:
		return nil, fmt.Errorf("unknown embedding provider %q", llmConfig.Provider)
	}
}

func newEmbedder(client embeddings.EmbedderClient) (embeddings.Embedder, error) {
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("error creating embedder: %w", err)
	}
	return embedder, nil
}

// EmbeddingFunc adapts an embedder to chromem-go so stored collections can
// embed query text themselves.
func EmbeddingFunc(e embeddings.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.EmbedQuery(ctx, text)
	}
}
