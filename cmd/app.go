package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"research-rag/internal/chromemdb"
	"research-rag/internal/config"
	"research-rag/internal/db"
	"research-rag/internal/embedding"
	"research-rag/internal/ingest"
	"research-rag/internal/llmservice"
	"research-rag/internal/models"
	"research-rag/internal/parser"
	"research-rag/internal/rag"
	"research-rag/internal/remote"
)

// app holds the services built from one config for the lifetime of a command.
type app struct {
	cfg      *config.Config
	embedder embeddings.Embedder
	store    *chromemdb.VectorDBManager
	indexer  *ingest.Indexer
	syncer   *remote.Syncer
	catalog  *db.Catalog
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	embedder, err := embedding.NewEmbedder(cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	a.embedder = embedder

	a.store, err = chromemdb.NewVectorDBManager(cfg.Storage.IndexPath, chromemdb.Options{
		Collection:     cfg.Storage.Collection,
		EmbeddingModel: cfg.EmbedLLM.Model,
		Compress:       cfg.Storage.Compress,
		KeepVersions:   cfg.Storage.KeepVersions,
		Concurrency:    cfg.RAG.EmbedConcurrency,
	}, embedding.EmbeddingFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}

	splitter, err := parser.NewSplitter(cfg.RAG.Splitter, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	builder := &embedding.Builder{
		Splitter: splitter,
		Embedder: embedder,
		Store:    a.store,
	}

	opts := ingest.Options{
		UploadFolder: cfg.Storage.UploadFolder,
		Folder: parser.FolderOptions{
			Extensions: cfg.Storage.Extensions,
			Recursive:  cfg.Storage.Recursive,
		},
	}

	if cfg.Remote.Enabled {
		a.syncer, err = remote.New(ctx, cfg.Remote)
		if err != nil {
			return nil, fmt.Errorf("init remote storage: %w", err)
		}
		opts.Remote = a.syncer
		log.Info().Stringer("remote", a.syncer).Msg("Remote index storage enabled")
	}

	if cfg.Database.DSN != "" {
		a.catalog, err = db.Open(ctx, cfg.Database.DSN, cfg.Database.Debug)
		if err != nil {
			return nil, fmt.Errorf("init catalog: %w", err)
		}
		opts.Catalog = a.catalog
	}

	a.indexer, err = ingest.NewIndexer(a.store, builder, opts)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init indexer: %w", err)
	}
	return a, nil
}

func (a *app) newRAG() (*rag.RAG, error) {
	generator, err := llmservice.NewGenerator(a.cfg.InferenceLLM)
	if err != nil {
		return nil, fmt.Errorf("init generator: %w", err)
	}
	opts := rag.Options{TopK: a.cfg.RAG.TopK}
	if a.cfg.RAG.RefreshOnAsk && a.indexer.RemoteEnabled() {
		opts.Refresh = a.indexer.Refresh
	}
	return rag.NewRAG(a.store, a.embedder, generator, opts), nil
}

// warmIndex loads the served index, pulling it from remote storage when
// nothing has been built locally yet.
func (a *app) warmIndex(ctx context.Context) {
	idx, err := a.store.Current()
	if err == nil {
		log.Info().Str("version", idx.Version).Int("chunks", idx.Count()).Msg("Loaded index")
		return
	}
	if !errors.Is(err, models.ErrNotFound) {
		log.Error().Err(err).Msg("Error loading index")
		return
	}
	if !a.indexer.RemoteEnabled() {
		log.Info().Msg("No index yet, upload a document to build one")
		return
	}
	idx, err = a.indexer.Pull(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Error pulling remote index")
		return
	}
	log.Info().Str("version", idx.Version).Int("chunks", idx.Count()).Msg("Pulled remote index")
}

func (a *app) close() {
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing catalog")
		}
	}
}
