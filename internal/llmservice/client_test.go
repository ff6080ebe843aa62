package llmservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"research-rag/internal/config"
	"research-rag/internal/models"
)

func TestHostedClientGenerate(t *testing.T) {
	var got hostedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer hf_secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`[{"generated_text":" Paris "}]`))
	}))
	defer srv.Close()

	g, err := NewGenerator(config.LLMConfig{
		Provider:     "hosted",
		BaseURL:      srv.URL,
		Model:        "google/flan-t5-base",
		Key:          "hf_secret",
		MaxNewTokens: 256,
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)

	answer, err := g.Generate(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris", answer)
	assert.Equal(t, "What is the capital of France?", got.Inputs)
	assert.Equal(t, 256, got.Parameters.MaxNewTokens)
	assert.False(t, got.Parameters.ReturnFullText)
}

func TestHostedClientFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Model is currently loading"}`))
	}))
	defer srv.Close()

	c, err := NewHostedClient(srv.URL, "", 0, nil)
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "prompt")
	var rte *models.RemoteTransportError
	require.ErrorAs(t, err, &rte)
	assert.Equal(t, http.StatusServiceUnavailable, rte.StatusCode)
	assert.Contains(t, rte.Body, "currently loading")
	assert.Contains(t, err.Error(), "request failed: 503")
}

func TestHostedClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewHostedClient(url, "", 0, &http.Client{Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "prompt")
	var rte *models.RemoteTransportError
	require.ErrorAs(t, err, &rte)
	assert.Zero(t, rte.StatusCode)
}

func TestParseGeneration(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "list", body: `[{"generated_text":"a"}]`, want: "a"},
		{name: "object", body: `{"generated_text":"b"}`, want: "b"},
		{name: "error object", body: `{"error":"rate limited"}`, wantErr: true},
		{name: "empty list", body: `[]`, wantErr: true},
		{name: "empty body", body: ``, wantErr: true},
		{name: "garbage", body: `not json`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGeneration([]byte(tt.body))
			if tt.wantErr {
				var rte *models.RemoteTransportError
				assert.ErrorAs(t, err, &rte)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewGeneratorProviders(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewGenerator(config.LLMConfig{Provider: "hosted"})
	assert.Error(t, err, "hosted needs a url")

	g, err := NewGenerator(config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini", Key: "sk-test"})
	require.NoError(t, err)
	assert.IsType(t, &ModelGenerator{}, g)

	_, err = NewGenerator(config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"})
	assert.Error(t, err)

	g, err = NewGenerator(config.LLMConfig{Provider: "ollama", Model: "llama3", BaseURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.IsType(t, &ModelGenerator{}, g)

	_, err = NewGenerator(config.LLMConfig{Provider: "gpt2-local", Model: "m"})
	assert.Error(t, err)
}

type stubModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	choices  []*llms.ContentChoice
	err      error
}

func (m *stubModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, o := range options {
		o(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: m.choices}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestModelGenerator(t *testing.T) {
	m := &stubModel{choices: []*llms.ContentChoice{{Content: "Paris"}}}
	g := &ModelGenerator{Model: m, MaxTokens: 64}

	answer, err := g.Generate(context.Background(), "prompt text")
	require.NoError(t, err)
	assert.Equal(t, "Paris", answer)
	require.Len(t, m.messages, 1)
	assert.Equal(t, llms.ChatMessageTypeHuman, m.messages[0].Role)
	assert.Equal(t, 64, m.opts.MaxTokens)

	_, err = (&ModelGenerator{Model: &stubModel{}}).Generate(context.Background(), "p")
	assert.ErrorContains(t, err, "empty response")

	_, err = (&ModelGenerator{Model: &stubModel{err: errors.New("down")}}).Generate(context.Background(), "p")
	assert.ErrorContains(t, err, "down")
}
