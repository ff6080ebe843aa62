package parser

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"research-rag/internal/models"
)

const (
	SplitterWindow    = "window"
	SplitterRecursive = "recursive"
)

// WindowSplitter cuts text into windows of at most ChunkSize runes, each
// sharing exactly ChunkOverlap runes with the next one.
type WindowSplitter struct {
	ChunkSize    int
	ChunkOverlap int
}

var _ textsplitter.TextSplitter = WindowSplitter{}

func (s WindowSplitter) SplitText(text string) ([]string, error) {
	return chunkContent(text, s.ChunkSize, s.ChunkOverlap), nil
}

// NewSplitter returns the splitter registered under name.
func NewSplitter(name string, chunkSize, chunkOverlap int) (textsplitter.TextSplitter, error) {
	switch name {
	case "", SplitterWindow:
		return WindowSplitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}, nil
	case SplitterRecursive:
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		), nil
	default:
		return nil, fmt.Errorf("unknown splitter %q", name)
	}
}

// SplitDocuments splits page records into chunks carrying their provenance.
func SplitDocuments(splitter textsplitter.TextSplitter, records []schema.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, rec := range records {
		parts, err := splitter.SplitText(rec.PageContent)
		if err != nil {
			return nil, err
		}
		source, _ := rec.Metadata[models.MetaSource].(string)
		filename, _ := rec.Metadata[models.MetaFilename].(string)
		page, ok := rec.Metadata[models.MetaPage].(int)
		if !ok {
			page = defaultPageNumber
		}
		for i, part := range parts {
			chunks = append(chunks, models.Chunk{
				ID:         fmt.Sprintf("%s:p%d:c%d", filename, page, i+1),
				Content:    part,
				Source:     source,
				Filename:   filename,
				PageNumber: page,
				ChunkID:    i + 1,
			})
		}
	}
	return chunks, nil
}

// chunk content into chunks with maxChars and overlapChars
func chunkContent(content string, maxChars, overlapChars int) []string {
	// Handle edge cases
	if maxChars <= 0 {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}

	runes := []rune(strings.TrimSpace(content))
	contentLen := len(runes)
	if contentLen == 0 {
		return nil
	}
	if contentLen <= maxChars {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for {
		end := min(start+maxChars, contentLen)

		// Prefer ending on whitespace or a period within the last 10% of the window
		if end < contentLen {
			lookBack := min(maxChars/10, end-start)
			for i := end - 1; i >= end-lookBack && i > start; i-- {
				if isBreak(runes[i]) {
					end = i + 1
					break
				}
			}
		}

		chunks = append(chunks, string(runes[start:end]))
		if end >= contentLen {
			break
		}

		next := end - overlapChars
		if next <= start {
			// overlap larger than what the boundary search left us
			next = end
		}
		start = next
	}

	return chunks
}

func isBreak(r rune) bool {
	return unicode.IsSpace(r) || r == '.'
}
