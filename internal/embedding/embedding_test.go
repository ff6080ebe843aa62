package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"

	"research-rag/internal/chromemdb"
	"research-rag/internal/config"
	"research-rag/internal/models"
	"research-rag/internal/parser"
	"research-rag/internal/testutil"
)

func TestNewEmbedderProviders(t *testing.T) {
	t.Setenv("HUGGINGFACEHUB_API_TOKEN", "")
	t.Setenv("OPENAI_API_KEY", "")

	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantErr bool
	}{
		{name: "huggingface with key", cfg: config.LLMConfig{Provider: "huggingface", Model: "sentence-transformers/all-MiniLM-L6-v2", Key: "hf_test"}},
		{name: "huggingface without key", cfg: config.LLMConfig{Provider: "huggingface", Model: "m"}, wantErr: true},
		{name: "openai", cfg: config.LLMConfig{Provider: "openai", Model: "text-embedding-3-small", Key: "Bearer sk-test", BaseURL: "http://localhost:1/v1"}},
		{name: "openai without key", cfg: config.LLMConfig{Provider: "openai", Model: "m"}, wantErr: true},
		{name: "ollama", cfg: config.LLMConfig{Provider: "ollama", Model: "nomic-embed-text", BaseURL: "http://localhost:11434"}},
		{name: "unknown", cfg: config.LLMConfig{Provider: "word2vec", Model: "m"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEmbedder(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, e)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, e)
		})
	}
}

func TestBuilderBuildsSearchableIndex(t *testing.T) {
	ctx := context.Background()
	emb := testutil.NewHashEmbedder()
	store, err := chromemdb.NewVectorDBManager(t.TempDir(), chromemdb.Options{Collection: "documents"}, EmbeddingFunc(emb))
	require.NoError(t, err)

	b := &Builder{
		Splitter:  parser.WindowSplitter{ChunkSize: 60, ChunkOverlap: 10},
		Embedder:  emb,
		Store:     store,
		BatchSize: 2,
	}
	records := []schema.Document{
		{PageContent: "The capital of France is Paris.", Metadata: map[string]any{
			models.MetaSource: "data/geo.pdf", models.MetaFilename: "geo.pdf", models.MetaPage: 3,
		}},
		{PageContent: strings.Repeat("Bananas are yellow and grow in bunches. ", 5), Metadata: map[string]any{
			models.MetaSource: "data/fruit.pdf", models.MetaFilename: "fruit.pdf", models.MetaPage: 1,
		}},
	}

	idx, err := b.Build(ctx, records)
	require.NoError(t, err)
	assert.Greater(t, idx.Count(), 2)

	q, err := emb.EmbedQuery(ctx, "What is the capital of France?")
	require.NoError(t, err)
	sources, err := idx.Search(ctx, q, 1)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "geo.pdf", sources[0].Filename)
	assert.Equal(t, 3, sources[0].PageNumber)
	assert.Equal(t, "geo.pdf:p3:c1", sources[0].ID)
}

func TestBuilderEmptyRecords(t *testing.T) {
	emb := testutil.NewHashEmbedder()
	store, err := chromemdb.NewVectorDBManager(t.TempDir(), chromemdb.Options{}, EmbeddingFunc(emb))
	require.NoError(t, err)

	b := &Builder{Splitter: parser.WindowSplitter{ChunkSize: 100, ChunkOverlap: 10}, Embedder: emb, Store: store}
	idx, err := b.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, idx.Count())
	assert.Zero(t, emb.Calls())
}

type shortEmbedder struct{ testutil.HashEmbedder }

func (s *shortEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := s.HashEmbedder.EmbedDocuments(ctx, texts)
	return out[:len(out)-1], err
}

type failingEmbedder struct{ testutil.HashEmbedder }

func (f *failingEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("boom")
}

func TestGenerateEmbedding(t *testing.T) {
	ctx := context.Background()
	chunks := []models.Chunk{{ID: "a", Content: "one"}, {ID: "b", Content: "two"}, {ID: "c", Content: "three"}}

	out, err := GenerateEmbedding(ctx, testutil.NewHashEmbedder(), chunks, 2)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, ce := range out {
		assert.Equal(t, chunks[i].ID, ce.ID)
		assert.NotEmpty(t, ce.Embedding)
	}

	_, err = GenerateEmbedding(ctx, &shortEmbedder{}, chunks, 0)
	assert.ErrorContains(t, err, "got 2 vectors for 3 texts")

	_, err = GenerateEmbedding(ctx, &failingEmbedder{}, chunks, 0)
	assert.ErrorContains(t, err, "boom")

	out, err = GenerateEmbedding(ctx, testutil.NewHashEmbedder(), nil, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}
