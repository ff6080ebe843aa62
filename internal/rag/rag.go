package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/prompts"

	"research-rag/internal/chromemdb"
	"research-rag/internal/llmservice"
	"research-rag/internal/models"
)

// IndexSource hands out the index version currently served.
type IndexSource interface {
	Current() (*chromemdb.Index, error)
}

type Options struct {
	TopK int
	// Refresh, when set, runs before every query to pull the remote index.
	// Its failure aborts the query.
	Refresh func(ctx context.Context) error
}

type RAG struct {
	index     IndexSource
	embedder  embeddings.Embedder
	generator llmservice.Generator
	prompt    prompts.PromptTemplate
	opts      Options
}

func NewRAG(index IndexSource, embedder embeddings.Embedder, generator llmservice.Generator, opts Options) *RAG {
	if opts.TopK <= 0 {
		opts.TopK = models.DefaultTopK
	}
	return &RAG{
		index:     index,
		embedder:  embedder,
		generator: generator,
		prompt:    prompts.NewPromptTemplate(models.QAPromptTemplate, []string{"context", "question"}),
		opts:      opts,
	}
}

// Query answers question from the top-k chunks of the current index.
func (r *RAG) Query(ctx context.Context, question string) (*models.PromptResponse, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, models.InvalidInputf("query must not be empty")
	}
	start := time.Now()

	if r.opts.Refresh != nil {
		if err := r.opts.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("refresh index: %w", err)
		}
	}

	idx, err := r.index.Current()
	if err != nil {
		return nil, err
	}

	queryEmbedding, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	sources, err := idx.Search(ctx, queryEmbedding, r.opts.TopK)
	if err != nil {
		return nil, err
	}

	prompt, err := r.BuildPrompt(question, sources)
	if err != nil {
		return nil, err
	}

	answer, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	log.Info().
		Str("version", idx.Version).
		Int("sources", len(sources)).
		Dur("took", time.Since(start)).
		Msg("Answered query")

	return &models.PromptResponse{
		Query:   question,
		Answer:  answer,
		Sources: sources,
	}, nil
}

// BuildPrompt renders the question-answering prompt, joining retrieved chunk
// texts in rank order.
func (r *RAG) BuildPrompt(question string, sources []models.Source) (string, error) {
	texts := make([]string, 0, len(sources))
	for _, s := range sources {
		texts = append(texts, s.Content)
	}
	prompt, err := r.prompt.Format(map[string]any{
		"context":  strings.Join(texts, models.ContextJoiner),
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return prompt, nil
}
