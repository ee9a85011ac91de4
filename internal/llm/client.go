// internal/llm/client.go
//
// Boundary to the external text-completion collaborator. The collector's
// analyze operation and every hive worker call through the Completer
// interface; tests substitute fakes.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Completer produces one text completion for a bounded prompt. The call must
// honor ctx; slow upstreams are cut off by the caller's deadline.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ErrUnavailable is returned by NewClientFromEnv when no API key is
// configured. Services degrade rather than fail at startup.
var ErrUnavailable = errors.New("llm: no API key configured")

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "openai/gpt-4o-mini"
)

// Client calls an OpenRouter-compatible chat-completions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClientFromEnv builds a Client from OPENROUTER_API_KEY, and optionally
// PULSEGRID_LLM_BASE_URL and PULSEGRID_LLM_MODEL. Returns ErrUnavailable if
// the key is missing.
func NewClientFromEnv() (*Client, error) {
	key := strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY"))
	if key == "" {
		return nil, ErrUnavailable
	}
	base := strings.TrimSpace(os.Getenv("PULSEGRID_LLM_BASE_URL"))
	if base == "" {
		base = defaultBaseURL
	}
	model := strings.TrimSpace(os.Getenv("PULSEGRID_LLM_MODEL"))
	if model == "" {
		model = defaultModel
	}
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     key,
		model:      model,
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete implements Completer against the chat-completions endpoint.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion: upstream status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat completion: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("chat completion: empty response")
	}
	return parsed.Choices[0].Message.Content, nil
}
