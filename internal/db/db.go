package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"research-rag/internal/models"
)

// Document is one uploaded source file.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	Filename      string    `bun:"filename,pk"`
	SizeBytes     int64     `bun:"size_bytes,notnull"`
	SHA256        string    `bun:"sha256,notnull"`
	UploadedAt    time.Time `bun:"uploaded_at,notnull,default:current_timestamp"`
}

// IndexBuild records one index rebuild.
type IndexBuild struct {
	bun.BaseModel `bun:"table:index_builds,alias:b"`
	Version       string    `bun:"version,pk"`
	Documents     int       `bun:"documents,notnull"`
	Chunks        int       `bun:"chunks,notnull"`
	Synced        bool      `bun:"synced,notnull"`
	BuiltAt       time.Time `bun:"built_at,notnull,default:current_timestamp"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(dsn string) *sql.DB {
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
}

// Catalog keeps document and build bookkeeping in Postgres.
type Catalog struct {
	db *bun.DB
}

func NewCatalog(db *bun.DB) *Catalog {
	return &Catalog{db: db}
}

// Open connects to dsn and creates the tables if needed.
func Open(ctx context.Context, dsn string, debug bool) (*Catalog, error) {
	c := NewCatalog(NewDB(ConnectDB(dsn), debug))
	if err := c.db.PingContext(ctx); err != nil {
		c.db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if err := c.InitDB(ctx); err != nil {
		c.db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) InitDB(ctx context.Context) error {
	for _, model := range []any{(*Document)(nil), (*IndexBuild)(nil)} {
		if _, err := c.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("error initializing database: %w", err)
		}
	}
	return nil
}

func (c *Catalog) upsertDocumentQuery(doc *Document) *bun.InsertQuery {
	return c.db.NewInsert().
		Model(doc).
		On("CONFLICT (filename) DO UPDATE").
		Set("size_bytes = EXCLUDED.size_bytes").
		Set("sha256 = EXCLUDED.sha256").
		Set("uploaded_at = EXCLUDED.uploaded_at")
}

// UpsertDocument inserts or replaces the row for info.Filename.
func (c *Catalog) UpsertDocument(ctx context.Context, info models.DocumentInfo) error {
	doc := &Document{
		Filename:   info.Filename,
		SizeBytes:  info.SizeBytes,
		SHA256:     info.SHA256,
		UploadedAt: info.UploadedAt,
	}
	_, err := c.upsertDocumentQuery(doc).Exec(ctx)
	return err
}

func (c *Catalog) recordBuildQuery(build *IndexBuild) *bun.InsertQuery {
	return c.db.NewInsert().Model(build).On("CONFLICT (version) DO NOTHING")
}

func (c *Catalog) RecordBuild(ctx context.Context, info models.IndexBuild) error {
	build := &IndexBuild{
		Version:   info.Version,
		Documents: info.Documents,
		Chunks:    info.Chunks,
		Synced:    info.Synced,
		BuiltAt:   info.BuiltAt,
	}
	_, err := c.recordBuildQuery(build).Exec(ctx)
	return err
}

func (c *Catalog) listDocumentsQuery(docs *[]Document) *bun.SelectQuery {
	return c.db.NewSelect().Model(docs).OrderExpr("filename ASC")
}

func (c *Catalog) ListDocuments(ctx context.Context) ([]models.DocumentInfo, error) {
	var docs []Document
	if err := c.listDocumentsQuery(&docs).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]models.DocumentInfo, 0, len(docs))
	for _, d := range docs {
		out = append(out, models.DocumentInfo{
			Filename:   d.Filename,
			SizeBytes:  d.SizeBytes,
			SHA256:     d.SHA256,
			UploadedAt: d.UploadedAt,
		})
	}
	return out, nil
}

func (c *Catalog) latestBuildQuery(build *IndexBuild) *bun.SelectQuery {
	return c.db.NewSelect().Model(build).OrderExpr("built_at DESC").Limit(1)
}

// LatestBuild returns the most recent build, or models.ErrNotFound.
func (c *Catalog) LatestBuild(ctx context.Context) (*models.IndexBuild, error) {
	var build IndexBuild
	if err := c.latestBuildQuery(&build).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFoundf("no index builds recorded")
		}
		return nil, err
	}
	return &models.IndexBuild{
		Version:   build.Version,
		Documents: build.Documents,
		Chunks:    build.Chunks,
		Synced:    build.Synced,
		BuiltAt:   build.BuiltAt,
	}, nil
}

func (c *Catalog) DropTables(ctx context.Context) error {
	for _, model := range []any{(*Document)(nil), (*IndexBuild)(nil)} {
		if _, err := c.db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
