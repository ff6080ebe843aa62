// Package testutil holds fixtures shared by the package tests.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WritePDF writes a minimal PDF with one text line per page, creating
// parent directories as needed.
func WritePDF(t testing.TB, path string, pages ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, BuildPDF(pages...), 0o600); err != nil {
		t.Fatalf("write pdf %s: %v", path, err)
	}
}

// BuildPDF renders pages into a PDF using the standard Helvetica font.
func BuildPDF(pages ...string) []byte {
	// objects: 1 catalog, 2 pages, 3 font, then (page, content) pairs
	n := 3 + 2*len(pages)
	objs := make([]string, n+1)
	objs[1] = "<< /Type /Catalog /Pages 2 0 R >>"

	kids := make([]string, len(pages))
	for i, text := range pages {
		pageObj := 4 + 2*i
		contentObj := pageObj + 1
		kids[i] = fmt.Sprintf("%d 0 R", pageObj)

		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", escapePDF(text))
		objs[pageObj] = fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", contentObj)
		objs[contentObj] = fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream)
	}
	objs[2] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))
	objs[3] = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, n+1)
	for i := 1; i <= n; i++ {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i, objs[i])
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", n+1)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", n+1, xref)
	return buf.Bytes()
}

func escapePDF(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
