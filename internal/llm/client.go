package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/codebuildervaibhav/meeting-minutes/internal/apperr"
	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

// Client speaks HTTP to a local Ollama host. It is a pure adapter: no
// persistence, no orchestration. Network-level failures and 5xx responses
// are retried up to two times with exponential backoff; 4xx are fatal.
type Client struct {
	baseURL string
	model   string
	httpc   *http.Client
}

// ChatOptions tune a single generate call.
type ChatOptions struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
	Timeout     time.Duration

	// OnRetry, when set, is invoked before each retry sleep with the
	// attempt number (1-based) and the error that triggered it.
	OnRetry func(attempt int, err error)
}

var retryBackoff = []time.Duration{1 * time.Second, 4 * time.Second}

// NewClient creates an Ollama client for the given base URL and model.
func NewClient(baseURL, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpc:   &http.Client{},
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response   string `json:"response"`
	Model      string `json:"model"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
}

// Chat sends one non-streaming generate request and returns the response
// text. The context plus opts.Timeout bound the whole call including
// retries.
func (c *Client) Chat(ctx context.Context, systemPrompt, userPrompt string, opts ChatOptions) (*types.ChatOutput, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	options := map[string]interface{}{
		"temperature": opts.Temperature,
		"top_p":       opts.TopP,
	}
	if opts.TopP == 0 {
		options["top_p"] = 0.9
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	body, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  userPrompt,
		System:  systemPrompt,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %v", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		out, err := c.generateOnce(ctx, body)
		if err == nil {
			return out, nil
		}
		lastErr = err

		// only network-level failures and 5xx are retried here; timeouts
		// propagate so the caller's per-stage budget decides
		if apperr.CodeOf(err) != apperr.CodeLLMUnavailable || attempt >= len(retryBackoff) {
			return nil, lastErr
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err)
		}
		log.Printf("LLM call failed (attempt %d/%d), retrying in %s: %v",
			attempt+1, len(retryBackoff), retryBackoff[attempt], err)
		select {
		case <-time.After(retryBackoff[attempt]):
		case <-ctx.Done():
			return nil, apperr.Transient(apperr.CodeLLMTimeout, "llm call timed out", ctx.Err())
		}
	}
}

func (c *Client) generateOnce(ctx context.Context, body []byte) (*types.ChatOutput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Transient(apperr.CodeLLMTimeout, "llm call timed out", err)
		}
		return nil, apperr.Transient(apperr.CodeLLMUnavailable, "llm host unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transient(apperr.CodeLLMUnavailable, "failed to read llm response", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.Newf(apperr.CodeLLMModelMissing,
			"model %q is not available on the llm host", c.model)
	case resp.StatusCode >= 500:
		return nil, apperr.Transient(apperr.CodeLLMUnavailable,
			fmt.Sprintf("llm host returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, apperr.Newf(apperr.CodeLLMBadResponse,
			"llm host rejected the request with %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.CodeLLMBadResponse, "llm returned non-JSON body", err)
	}
	if parsed.Response == "" {
		return nil, apperr.New(apperr.CodeLLMBadResponse, "llm response field is empty")
	}

	return &types.ChatOutput{
		Text:         parsed.Response,
		ModelUsed:    c.model,
		FinishReason: parsed.DoneReason,
	}, nil
}

// Health checks connectivity and model availability via /api/tags.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return apperr.Transient(apperr.CodeLLMUnavailable, "llm host unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperr.Newf(apperr.CodeLLMUnavailable, "llm host returned %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return apperr.Wrap(apperr.CodeLLMBadResponse, "failed to parse tags response", err)
	}
	for _, m := range tags.Models {
		if m.Name == c.model || strings.SplitN(m.Name, ":", 2)[0] == c.model {
			return nil
		}
	}
	return apperr.Newf(apperr.CodeLLMModelMissing, "model %q not found on llm host", c.model)
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
