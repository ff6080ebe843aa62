package parser

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/schema"

	"research-rag/internal/models"
)

const defaultPageNumber = 1

// FolderOptions controls which files LoadFolder picks up.
type FolderOptions struct {
	Extensions []string
	Recursive  bool
}

var DefaultFolderOptions = FolderOptions{Extensions: []string{".pdf"}}

// LoadFile reads one document into page-level records.
func LoadFile(ctx context.Context, filePath string) ([]schema.Document, error) {
	stat, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NotFoundf("the file %s does not exist", filePath)
		}
		return nil, fmt.Errorf("stat %s: %w", filePath, err)
	}
	if stat.IsDir() {
		return nil, models.InvalidInputf("%s is a directory", filePath)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return parsePDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	case ".md", ".markdown":
		return parseMarkdown(filePath)
	case ".txt":
		return parseText(filePath)
	default:
		return nil, models.InvalidInputf("unsupported file format: %s", ext)
	}
}

// LoadFolder loads every file in dir whose extension is allowed by opts, in
// lexical path order.
func LoadFolder(ctx context.Context, dir string, opts FolderOptions) ([]schema.Document, error) {
	paths, err := ListFiles(dir, opts)
	if err != nil {
		return nil, err
	}

	var docs []schema.Document
	for _, p := range paths {
		pages, err := LoadFile(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
		// chunk ids derive from the filename, so it must be unique within dir
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil, fmt.Errorf("relative path of %s: %w", p, err)
		}
		for i := range pages {
			pages[i].Metadata[models.MetaFilename] = filepath.ToSlash(rel)
		}
		log.Debug().Str("file", p).Int("pages", len(pages)).Msg("Loaded document")
		docs = append(docs, pages...)
	}
	return docs, nil
}

// ListFiles returns the files LoadFolder would read. Hidden files and
// directories are skipped.
func ListFiles(dir string, opts FolderOptions) ([]string, error) {
	stat, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NotFoundf("the folder %s does not exist", dir)
		}
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, models.InvalidInputf("%s is not a directory", dir)
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultFolderOptions.Extensions
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if hidden || !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden {
			return nil
		}
		if slices.Contains(exts, strings.ToLower(filepath.Ext(path))) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	slices.Sort(paths)
	return paths, nil
}

func newRecord(filePath, content string, page int) schema.Document {
	return schema.Document{
		PageContent: content,
		Metadata: map[string]any{
			models.MetaSource:   filePath,
			models.MetaFilename: filepath.Base(filePath),
			models.MetaPage:     page,
		},
	}
}

func parsePDF(filePath string) ([]schema.Document, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("read pdf %s: %w", filePath, err)
	}

	var docs []schema.Document
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d of %s: %w", i, filePath, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		docs = append(docs, newRecord(filePath, pageText, i))
	}
	return docs, nil
}

func parseText(filePath string) ([]schema.Document, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	return []schema.Document{newRecord(filePath, string(data), defaultPageNumber)}, nil
}
