package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/philippgille/chromem-go"
)

const embeddingDims = 64

// HashEmbedder is a deterministic bag-of-words embedder.
type HashEmbedder struct {
	mu    sync.Mutex
	calls int
}

func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{}
}

// EmbeddingFunc adapts the embedder to chromem-go.
func (e *HashEmbedder) EmbeddingFunc() chromem.EmbeddingFunc {
	return e.EmbedQuery
}

func (e *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	v := make([]float32, embeddingDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%embeddingDims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		// keep the vector non-zero so cosine similarity stays defined
		v[0] = 1
		return v, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v, nil
}

func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// EchoGenerator answers with the context section of the prompt.
type EchoGenerator struct {
	mu      sync.Mutex
	Prompts []string
	Err     error
}

func (g *EchoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.Prompts = append(g.Prompts, prompt)
	g.mu.Unlock()
	if g.Err != nil {
		return "", g.Err
	}
	start := strings.Index(prompt, "\n\n")
	end := strings.LastIndex(prompt, "\n\nQuestion:")
	if start < 0 || end < start {
		return prompt, nil
	}
	return strings.TrimSpace(prompt[start:end]), nil
}

func (g *EchoGenerator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Prompts) == 0 {
		return ""
	}
	return g.Prompts[len(g.Prompts)-1]
}
