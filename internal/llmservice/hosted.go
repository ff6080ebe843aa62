package llmservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"research-rag/internal/models"
)

const maxErrorBody = 4 << 10

// HostedClient calls a text-generation inference endpoint that accepts
// {"inputs": ..., "parameters": {...}} and answers with generated_text.
type HostedClient struct {
	URL          string
	Token        string
	MaxNewTokens int
	HTTPClient   *http.Client
}

func NewHostedClient(url, token string, maxNewTokens int, httpClient *http.Client) (*HostedClient, error) {
	if url == "" {
		return nil, fmt.Errorf("inference url is required")
	}
	if httpClient == nil || httpClient.Timeout == 0 {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &HostedClient{
		URL:          url,
		Token:        token,
		MaxNewTokens: maxNewTokens,
		HTTPClient:   httpClient,
	}, nil
}

type hostedRequest struct {
	Inputs     string           `json:"inputs"`
	Parameters hostedParameters `json:"parameters"`
}

type hostedParameters struct {
	MaxNewTokens   int  `json:"max_new_tokens,omitempty"`
	ReturnFullText bool `json:"return_full_text"`
}

type hostedGeneration struct {
	GeneratedText string `json:"generated_text"`
}

func (c *HostedClient) Generate(ctx context.Context, prompt string) (string, error) {
	payload := hostedRequest{
		Inputs: prompt,
		Parameters: hostedParameters{
			MaxNewTokens:   c.MaxNewTokens,
			ReturnFullText: false,
		},
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", &models.RemoteTransportError{Op: "inference", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &models.RemoteTransportError{
			Op:         "inference",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &models.RemoteTransportError{Op: "inference", Err: err}
	}
	log.Debug().Dur("took", time.Since(start)).Int("bytes", len(body)).Msg("Inference response")

	return parseGeneration(body)
}

// parseGeneration accepts both the list form [{"generated_text": ...}] and a
// bare object.
func parseGeneration(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", &models.RemoteTransportError{Op: "inference", Err: fmt.Errorf("empty response")}
	}

	if trimmed[0] == '[' {
		var out []hostedGeneration
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return "", &models.RemoteTransportError{Op: "inference", Err: fmt.Errorf("decode response: %w", err)}
		}
		if len(out) == 0 {
			return "", &models.RemoteTransportError{Op: "inference", Err: fmt.Errorf("empty response")}
		}
		return strings.TrimSpace(out[0].GeneratedText), nil
	}

	var out struct {
		hostedGeneration
		Error string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return "", &models.RemoteTransportError{Op: "inference", Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Error != "" {
		return "", &models.RemoteTransportError{Op: "inference", Err: fmt.Errorf("%s", out.Error)}
	}
	return strings.TrimSpace(out.GeneratedText), nil
}
