package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/tmc/langchaingo/schema"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

func parseDOCX(filePath string) ([]schema.Document, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read docx %s: %w", filePath, err)
	}
	defer r.Close()

	content, err := extractWordText(r.Editable().GetContent())
	if err != nil {
		return nil, fmt.Errorf("extract docx %s: %w", filePath, err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	// DOCX has no page numbers
	return []schema.Document{newRecord(filePath, content, defaultPageNumber)}, nil
}

// extractWordText pulls the <w:t> runs out of a word/document.xml body,
// one line per paragraph.
func extractWordText(body string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(body))
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func parseXLSX(filePath string) ([]schema.Document, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read xlsx %s: %w", filePath, err)
	}
	defer f.Close()

	var docs []schema.Document
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s of %s: %w", sheetName, filePath, err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "## Sheet: %s\n", sheetName)
		empty := true
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if line != "" {
				empty = false
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if empty {
			continue
		}
		// 1-based indexing, a sheet stands in for a page
		docs = append(docs, newRecord(filePath, b.String(), sheetNum+1))
	}
	return docs, nil
}

func parseMarkdown(filePath string) ([]schema.Document, error) {
	src, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	content, err := markdownToText(src)
	if err != nil {
		return nil, fmt.Errorf("parse markdown %s: %w", filePath, err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	return []schema.Document{newRecord(filePath, content, defaultPageNumber)}, nil
}

// markdownToText renders the text content of a markdown document, dropping
// markup and raw HTML.
func markdownToText(src []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	root := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
