package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"research-rag/internal/models"
)

const (
	currentFile = "CURRENT"
	versionsDir = "versions"
)

// Options configures a VectorDBManager.
type Options struct {
	Collection     string
	EmbeddingModel string
	Compress       bool
	KeepVersions   int
	Concurrency    int
}

// VectorDBManager owns the on-disk index versions under one root directory
// and the in-memory index currently served to readers.
//
// Layout:
//
//	<root>/CURRENT              name of the active version
//	<root>/versions/<version>/  chromem-go persistent DB
type VectorDBManager struct {
	root  string
	opts  Options
	embed chromem.EmbeddingFunc

	current atomic.Pointer[Index]
	mu      sync.Mutex
}

// NewVectorDBManager initializes a manager rooted at dbPath. Nothing is read
// from disk until Current is called.
func NewVectorDBManager(dbPath string, opts Options, embed chromem.EmbeddingFunc) (*VectorDBManager, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if opts.Collection == "" {
		opts.Collection = "documents"
	}
	if opts.KeepVersions < 1 {
		opts.KeepVersions = 1
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = runtime.NumCPU()
	}
	if err := os.MkdirAll(filepath.Join(dbPath, versionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index root: %w", err)
	}
	return &VectorDBManager{
		root:  dbPath,
		opts:  opts,
		embed: embed,
	}, nil
}

func (m *VectorDBManager) Root() string {
	return m.root
}

// VersionDir returns the directory of the given index version.
func (m *VectorDBManager) VersionDir(version string) string {
	return filepath.Join(m.root, versionsDir, version)
}

// NewVersion allocates a fresh, sortable version name.
func NewVersion() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405.000000000"), uuid.NewString()[:8])
}

// Build writes docs into a brand new version, then makes it current. A failed
// build removes its directory and leaves the previous version in place.
func (m *VectorDBManager) Build(ctx context.Context, docs []chromem.Document) (*Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := NewVersion()
	dir := m.VersionDir(version)

	idx, err := m.write(ctx, version, dir, docs)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Error().Err(rmErr).Str("dir", dir).Msg("Error removing partial index")
		}
		return nil, err
	}
	if err := m.activate(idx); err != nil {
		return nil, err
	}
	log.Info().Str("version", version).Int("chunks", idx.Count()).Msg("Built vector index")
	return idx, nil
}

func (m *VectorDBManager) write(ctx context.Context, version, dir string, docs []chromem.Document) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, m.opts.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	metadata := map[string]string{
		models.MetaModel:   m.opts.EmbeddingModel,
		models.MetaVersion: version,
	}
	c, err := db.CreateCollection(m.opts.Collection, metadata, m.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	if len(docs) > 0 {
		if err := c.AddDocuments(ctx, docs, m.opts.Concurrency); err != nil {
			return nil, fmt.Errorf("failed to add documents: %w", err)
		}
	}
	return &Index{Version: version, dir: dir, db: db, collection: c}, nil
}

// Install makes an already populated version directory current, e.g. one
// filled from remote storage.
func (m *VectorDBManager) Install(version string) (*Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.open(version)
	if err != nil {
		return nil, err
	}
	if err := m.activate(idx); err != nil {
		return nil, err
	}
	log.Info().Str("version", version).Int("chunks", idx.Count()).Msg("Installed vector index")
	return idx, nil
}

// Current returns the index served to readers, loading the version named by
// CURRENT on first use. It fails with models.ErrNotFound when no index has
// been built yet.
func (m *VectorDBManager) Current() (*Index, error) {
	if idx := m.current.Load(); idx != nil {
		return idx, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if idx := m.current.Load(); idx != nil {
		return idx, nil
	}

	version, err := m.readCurrent()
	if err != nil {
		return nil, err
	}
	idx, err := m.open(version)
	if err != nil {
		return nil, err
	}
	m.current.Store(idx)
	return idx, nil
}

// Invalidate drops the cached index so the next Current call reloads it.
func (m *VectorDBManager) Invalidate() {
	m.current.Store(nil)
}

func (m *VectorDBManager) open(version string) (*Index, error) {
	dir := m.VersionDir(version)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NotFoundf("index version %s", version)
		}
		return nil, fmt.Errorf("stat index version: %w", err)
	}

	db, err := chromem.NewPersistentDB(dir, m.opts.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	c := db.GetCollection(m.opts.Collection, m.embed)
	if c == nil {
		return nil, models.NotFoundf("collection %s in index version %s", m.opts.Collection, version)
	}
	return &Index{Version: version, dir: dir, db: db, collection: c}, nil
}

func (m *VectorDBManager) readCurrent() (string, error) {
	data, err := os.ReadFile(filepath.Join(m.root, currentFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", models.NotFoundf("no vector index in %s", m.root)
		}
		return "", fmt.Errorf("read current index pointer: %w", err)
	}
	version := strings.TrimSpace(string(data))
	if version == "" {
		return "", models.NotFoundf("no vector index in %s", m.root)
	}
	return version, nil
}

// activate repoints CURRENT with a rename so a reader of the file sees either
// the old or the new version, then swaps the in-memory pointer.
func (m *VectorDBManager) activate(idx *Index) error {
	tmp, err := os.CreateTemp(m.root, currentFile+".*")
	if err != nil {
		return fmt.Errorf("create current pointer: %w", err)
	}
	if _, err := tmp.WriteString(idx.Version + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write current pointer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync current pointer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close current pointer: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(m.root, currentFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("swap current pointer: %w", err)
	}

	m.current.Store(idx)
	m.prune(idx.Version)
	return nil
}

// Versions lists version names on disk, oldest first.
func (m *VectorDBManager) Versions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.root, versionsDir))
	if err != nil {
		return nil, fmt.Errorf("read versions: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	slices.Sort(out)
	return out, nil
}

// prune removes old versions beyond KeepVersions. The active version is never
// removed. Errors are logged only.
func (m *VectorDBManager) prune(active string) {
	versions, err := m.Versions()
	if err != nil {
		log.Error().Err(err).Msg("Error listing index versions")
		return
	}
	excess := len(versions) - m.opts.KeepVersions
	for _, v := range versions {
		if excess <= 0 {
			break
		}
		if v == active {
			continue
		}
		if err := os.RemoveAll(m.VersionDir(v)); err != nil {
			log.Error().Err(err).Str("version", v).Msg("Error pruning index version")
			continue
		}
		log.Debug().Str("version", v).Msg("Pruned index version")
		excess--
	}
}

// Index is one loaded, immutable index version.
type Index struct {
	Version    string
	dir        string
	db         *chromem.DB
	collection *chromem.Collection
}

func (i *Index) Dir() string {
	return i.dir
}

func (i *Index) Count() int {
	return i.collection.Count()
}

// Search returns up to k chunks ordered by descending similarity.
func (i *Index) Search(ctx context.Context, queryEmbedding []float32, k int) ([]models.Source, error) {
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	k = min(k, i.collection.Count())
	if k <= 0 {
		return nil, nil
	}

	results, err := i.collection.QueryEmbedding(ctx, queryEmbedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	sources := make([]models.Source, 0, len(results))
	for _, r := range results {
		page, _ := strconv.Atoi(r.Metadata[models.MetaPage])
		chunk, _ := strconv.Atoi(r.Metadata[models.MetaChunk])
		sources = append(sources, models.Source{
			ID:         r.ID,
			Filename:   r.Metadata[models.MetaFilename],
			PageNumber: page,
			ChunkID:    chunk,
			Similarity: r.Similarity,
			Content:    r.Content,
		})
	}
	return sources, nil
}

// Export writes the version as a single gzip-compressed chromem-go archive.
func (i *Index) Export(w io.Writer) error {
	if err := i.db.ExportToWriter(w, true, "", i.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Metadata builds the chromem-go metadata for a chunk.
func Metadata(c models.Chunk) map[string]string {
	return map[string]string{
		models.MetaSource:   c.Source,
		models.MetaFilename: c.Filename,
		models.MetaPage:     strconv.Itoa(c.PageNumber),
		models.MetaChunk:    strconv.Itoa(c.ChunkID),
	}
}
