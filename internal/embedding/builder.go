package embedding

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"research-rag/internal/chromemdb"
	"research-rag/internal/models"
	"research-rag/internal/parser"
)

const defaultBatchSize = 32

// IndexWriter persists a set of embedded chunks as a new index version.
type IndexWriter interface {
	Build(ctx context.Context, docs []chromem.Document) (*chromemdb.Index, error)
}

// Builder turns loaded page records into a vector index.
type Builder struct {
	Splitter  textsplitter.TextSplitter
	Embedder  embeddings.Embedder
	Store     IndexWriter
	BatchSize int
}

// Build splits, embeds and stores records. An empty record set produces an
// empty index.
func (b *Builder) Build(ctx context.Context, records []schema.Document) (*chromemdb.Index, error) {
	chunks, err := parser.SplitDocuments(b.Splitter, records)
	if err != nil {
		return nil, fmt.Errorf("split documents: %w", err)
	}
	log.Debug().Int("records", len(records)).Int("chunks", len(chunks)).Msg("Split documents")

	embedded, err := GenerateEmbedding(ctx, b.Embedder, chunks, b.BatchSize)
	if err != nil {
		return nil, err
	}

	docs := make([]chromem.Document, 0, len(embedded))
	for _, ce := range embedded {
		docs = append(docs, chromem.Document{
			ID:        ce.ID,
			Content:   ce.Content,
			Metadata:  chromemdb.Metadata(ce.Chunk),
			Embedding: ce.Embedding,
		})
	}
	return b.Store.Build(ctx, docs)
}

// GenerateEmbedding embeds chunks in batches, preserving their order.
func GenerateEmbedding(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk, batchSize int) ([]models.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks generated from content")
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	out := make([]models.ChunkEmbedding, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		vectors, err := embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embed chunks %d-%d: got %d vectors for %d texts", start, end, len(vectors), len(texts))
		}
		for i, v := range vectors {
			out = append(out, models.ChunkEmbedding{Chunk: chunks[start+i], Embedding: v})
		}
		log.Debug().Int("done", end).Int("total", len(chunks)).Msg("Embedded chunks")
	}
	return out, nil
}
