package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-rag/internal/chromemdb"
	"research-rag/internal/config"
	"research-rag/internal/embedding"
	"research-rag/internal/ingest"
	"research-rag/internal/models"
	"research-rag/internal/parser"
	"research-rag/internal/rag"
	"research-rag/internal/testutil"
)

type fixture struct {
	srv *Server
	h   http.Handler
	gen *testutil.EchoGenerator
}

func newFixture(t *testing.T, maxUpload int64) *fixture {
	t.Helper()
	emb := testutil.NewHashEmbedder()
	store, err := chromemdb.NewVectorDBManager(filepath.Join(t.TempDir(), "index"), chromemdb.Options{}, emb.EmbeddingFunc())
	require.NoError(t, err)

	builder := &embedding.Builder{
		Splitter: parser.WindowSplitter{ChunkSize: models.DefaultChunk, ChunkOverlap: models.DefaultOverlap},
		Embedder: emb,
		Store:    store,
	}
	indexer, err := ingest.NewIndexer(store, builder, ingest.Options{UploadFolder: filepath.Join(t.TempDir(), "data")})
	require.NoError(t, err)

	gen := &testutil.EchoGenerator{}
	asker := rag.NewRAG(store, emb, gen, rag.Options{TopK: 4})
	srv := New(asker, indexer, config.ServerConfig{Addr: "127.0.0.1:0", MaxUploadBytes: maxUpload})
	return &fixture{srv: srv, h: srv.Handler(), gen: gen}
}

func (f *fixture) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func (f *fixture) upload(t *testing.T, name string, content []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return f.do(t, req)
}

func (f *fixture) ask(t *testing.T, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return f.do(t, req)
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t, 1<<20)

	rec, body := f.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to the Research RAG API", body["message"])
	assert.Equal(t, "/docs", body["docs"])
	assert.Equal(t, "/health", body["health"])

	rec, body = f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "healthy"}, body)
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, 1<<20)

	rec, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec, _ = f.do(t, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestAskBeforeUpload(t *testing.T) {
	f := newFixture(t, 1<<20)

	rec, body := f.ask(t, `{"query": "What is the capital of France?"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, body["error"])
	assert.Empty(t, f.gen.Prompts)
}

func TestUploadThenAsk(t *testing.T) {
	f := newFixture(t, 1<<20)

	rec, body := f.upload(t, "geo facts.pdf", testutil.BuildPDF("The capital of France is Paris."))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, body["message"], "geo_facts.pdf")

	rec, body = f.ask(t, `{"query": "What is the capital of France?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "What is the capital of France?", body["query"])
	assert.Contains(t, body["answer"], "Paris")

	sources, ok := body["sources"].([]any)
	require.True(t, ok)
	require.Len(t, sources, 1)
	src := sources[0].(map[string]any)
	assert.Equal(t, "geo_facts.pdf", src["filename"])
	assert.EqualValues(t, 1, src["page"])
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t, 1<<20)

	rec, body := f.upload(t, "../../etc/passwd", []byte("root:x:0:0"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, body["error"])

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	rec, _ = f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "value"))
	require.NoError(t, mw.Close())
	req = httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec, body = f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "file")
}

func TestUploadTooLarge(t *testing.T) {
	f := newFixture(t, 512)

	rec, _ := f.upload(t, "big.pdf", bytes.Repeat([]byte("x"), 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUnreadableUploadThenValidUpload(t *testing.T) {
	f := newFixture(t, 1<<20)

	rec, body := f.upload(t, "bad.pdf", []byte("this is not a pdf at all"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "bad.pdf")

	rec, _ = f.upload(t, "good.pdf", testutil.BuildPDF("The capital of France is Paris."))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body = f.do(t, httptest.NewRequest(http.MethodGet, "/documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	docs := body["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, "good.pdf", docs[0].(map[string]any)["filename"])
}

func TestAskValidation(t *testing.T) {
	f := newFixture(t, 1<<20)

	for name, body := range map[string]string{
		"blank":     `{"query": "   "}`,
		"missing":   `{}`,
		"malformed": `{"query":`,
	} {
		t.Run(name, func(t *testing.T) {
			rec, resp := f.ask(t, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestAskGeneratorFailure(t *testing.T) {
	f := newFixture(t, 1<<20)
	rec, _ := f.upload(t, "a.pdf", testutil.BuildPDF("some text"))
	require.Equal(t, http.StatusOK, rec.Code)

	f.gen.Err = &models.RemoteTransportError{Op: "inference", StatusCode: 503, Body: "model loading"}
	rec, body := f.ask(t, `{"query": "text?"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, body["error"], "503")
}

func TestDocuments(t *testing.T) {
	f := newFixture(t, 1<<20)

	rec, body := f.do(t, httptest.NewRequest(http.MethodGet, "/documents", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["documents"])

	_, _ = f.upload(t, "a.pdf", testutil.BuildPDF("one"))
	rec, body = f.do(t, httptest.NewRequest(http.MethodGet, "/documents", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	docs := body["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, "a.pdf", docs[0].(map[string]any)["filename"])
}

func TestDocsListsRoutes(t *testing.T) {
	f := newFixture(t, 1<<20)

	rec, body := f.do(t, httptest.NewRequest(http.MethodGet, "/docs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var paths []string
	for _, r := range body["routes"].([]any) {
		paths = append(paths, r.(map[string]any)["path"].(string))
	}
	assert.Contains(t, paths, "/ask")
	assert.Contains(t, paths, "/upload")
	assert.Contains(t, paths, "/health")
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, 1<<20)

	rec, body := f.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, body["error"])

	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/ask", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, 1<<20)
	_, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	_, _ = f.upload(t, "a.pdf", testutil.BuildPDF("one"))
	_, _ = f.ask(t, `{"query": "one?"}`)
	_, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))

	rec, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `rag_http_requests_total{code="200",route="/health"} 1`)
	assert.Contains(t, out, `rag_index_builds_total{result="ok"} 1`)
	assert.Contains(t, out, `rag_index_chunks 1`)
	assert.Contains(t, out, `rag_ask_duration_seconds_count 1`)
	assert.Contains(t, out, `rag_http_requests_total{code="404",route="unmatched"} 1`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(models.NotFoundf("no index")))
	assert.Equal(t, http.StatusBadRequest, statusFor(models.InvalidInputf("bad name")))
	assert.Equal(t, http.StatusBadGateway, statusFor(&models.RemoteTransportError{Op: "s3", Err: io.ErrUnexpectedEOF}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrClosedPipe))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, 1<<20)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}
