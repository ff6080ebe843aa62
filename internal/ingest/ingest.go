package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/schema"

	"research-rag/internal/chromemdb"
	"research-rag/internal/embedding"
	"research-rag/internal/helper"
	"research-rag/internal/models"
	"research-rag/internal/parser"
)

// Remote mirrors index directories to object storage.
type Remote interface {
	Upload(ctx context.Context, localDir string) (int, error)
	Download(ctx context.Context, localDir string) (int, error)
}

// Catalog records uploads and builds.
type Catalog interface {
	UpsertDocument(ctx context.Context, info models.DocumentInfo) error
	RecordBuild(ctx context.Context, info models.IndexBuild) error
	ListDocuments(ctx context.Context) ([]models.DocumentInfo, error)
}

type Options struct {
	UploadFolder string
	Folder       parser.FolderOptions
	// Remote and Catalog are optional.
	Remote  Remote
	Catalog Catalog
}

// Indexer owns the upload folder and serialises every change to the served
// index.
type Indexer struct {
	mu      sync.Mutex
	store   *chromemdb.VectorDBManager
	builder *embedding.Builder
	opts    Options
}

func NewIndexer(store *chromemdb.VectorDBManager, builder *embedding.Builder, opts Options) (*Indexer, error) {
	if err := helper.CreateFolder(opts.UploadFolder); err != nil {
		return nil, err
	}
	if len(opts.Folder.Extensions) == 0 {
		opts.Folder.Extensions = parser.DefaultFolderOptions.Extensions
	}
	return &Indexer{store: store, builder: builder, opts: opts}, nil
}

func (ix *Indexer) RemoteEnabled() bool {
	return ix.opts.Remote != nil
}

// Upload saves r under a sanitised form of name, then rebuilds the index from
// the whole upload folder.
func (ix *Indexer) Upload(ctx context.Context, name string, r io.Reader) (*models.DocumentInfo, *models.IndexBuild, error) {
	info, err := ix.SaveUpload(ctx, name, r)
	if err != nil {
		return nil, nil, err
	}
	build, err := ix.Rebuild(ctx)
	return info, build, err
}

// SaveUpload writes r into the upload folder. The file appears under its
// final name only once fully written and parsed, so an unreadable upload
// never reaches later rebuilds.
func (ix *Indexer) SaveUpload(ctx context.Context, name string, r io.Reader) (*models.DocumentInfo, error) {
	filename, err := helper.SanitizeFilename(name, ix.opts.Folder.Extensions)
	if err != nil {
		return nil, err
	}

	// hidden names keep the staged file out of folder listings
	tmp, err := os.CreateTemp(ix.opts.UploadFolder, ".upload-*"+filepath.Ext(filename))
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), r)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write upload file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close upload file: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := parser.LoadFile(ctx, tmp.Name()); err != nil {
		return nil, models.InvalidInputf("%s is not a readable document: %v", filename, err)
	}

	dst := filepath.Join(ix.opts.UploadFolder, filename)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, fmt.Errorf("save upload file: %w", err)
	}

	info := &models.DocumentInfo{
		Filename:   filename,
		SizeBytes:  size,
		SHA256:     hex.EncodeToString(hash.Sum(nil)),
		UploadedAt: time.Now().UTC(),
	}
	log.Info().Str("file", dst).Int64("bytes", size).Msg("Saved upload")

	if ix.opts.Catalog != nil {
		if err := ix.opts.Catalog.UpsertDocument(ctx, *info); err != nil {
			log.Error().Err(err).Str("file", filename).Msg("Error recording document")
		}
	}
	return info, nil
}

// Rebuild re-embeds every document in the upload folder into a new index
// version and, when a remote is configured, mirrors it. A sync failure is
// returned together with the build, which is already being served locally.
func (ix *Indexer) Rebuild(ctx context.Context) (*models.IndexBuild, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.rebuild(ctx, ix.opts.UploadFolder)
}

// IngestFolder rebuilds the index from dir instead of the upload folder.
func (ix *Indexer) IngestFolder(ctx context.Context, dir string) (*models.IndexBuild, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.rebuild(ctx, dir)
}

func (ix *Indexer) rebuild(ctx context.Context, dir string) (*models.IndexBuild, error) {
	start := time.Now()
	records, err := parser.LoadFolder(ctx, dir, ix.opts.Folder)
	if err != nil {
		return nil, err
	}

	idx, err := ix.builder.Build(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}

	build := &models.IndexBuild{
		Version:   idx.Version,
		Documents: countSources(records),
		Chunks:    idx.Count(),
		BuiltAt:   time.Now().UTC(),
	}
	log.Info().
		Str("version", build.Version).
		Int("documents", build.Documents).
		Int("chunks", build.Chunks).
		Dur("took", time.Since(start)).
		Msg("Rebuilt index")

	var syncErr error
	if ix.opts.Remote != nil {
		if _, syncErr = ix.opts.Remote.Upload(ctx, idx.Dir()); syncErr == nil {
			build.Synced = true
		}
	}

	if ix.opts.Catalog != nil {
		if err := ix.opts.Catalog.RecordBuild(ctx, *build); err != nil {
			log.Error().Err(err).Str("version", build.Version).Msg("Error recording index build")
		}
	}

	if syncErr != nil {
		return build, fmt.Errorf("sync index: %w", syncErr)
	}
	return build, nil
}

func countSources(records []schema.Document) int {
	seen := map[string]struct{}{}
	for _, r := range records {
		if src, ok := r.Metadata[models.MetaSource].(string); ok {
			seen[src] = struct{}{}
		}
	}
	return len(seen)
}

// Push mirrors the current index to the remote.
func (ix *Indexer) Push(ctx context.Context) (int, error) {
	if ix.opts.Remote == nil {
		return 0, models.InvalidInputf("remote storage is not enabled")
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	idx, err := ix.store.Current()
	if err != nil {
		return 0, err
	}
	return ix.opts.Remote.Upload(ctx, idx.Dir())
}

// Pull downloads the remote index into a fresh version and serves it. An
// empty remote prefix fails with models.ErrNotFound and leaves the current
// index untouched.
func (ix *Indexer) Pull(ctx context.Context) (*chromemdb.Index, error) {
	if ix.opts.Remote == nil {
		return nil, models.InvalidInputf("remote storage is not enabled")
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	version := chromemdb.NewVersion()
	dir := ix.store.VersionDir(version)
	if _, err := ix.opts.Remote.Download(ctx, dir); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Error().Err(rmErr).Str("dir", dir).Msg("Error removing partial download")
		}
		return nil, err
	}
	return ix.store.Install(version)
}

// Refresh pulls the remote index, discarding the handle.
func (ix *Indexer) Refresh(ctx context.Context) error {
	_, err := ix.Pull(ctx)
	return err
}

// ListDocuments reports uploaded documents from the catalog, or from the
// upload folder when no catalog is configured.
func (ix *Indexer) ListDocuments(ctx context.Context) ([]models.DocumentInfo, error) {
	if ix.opts.Catalog != nil {
		return ix.opts.Catalog.ListDocuments(ctx)
	}

	paths, err := parser.ListFiles(ix.opts.UploadFolder, ix.opts.Folder)
	if err != nil {
		return nil, err
	}
	docs := make([]models.DocumentInfo, 0, len(paths))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		rel, err := filepath.Rel(ix.opts.UploadFolder, p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, models.DocumentInfo{
			Filename:   filepath.ToSlash(rel),
			SizeBytes:  st.Size(),
			UploadedAt: st.ModTime().UTC(),
		})
	}
	return docs, nil
}
