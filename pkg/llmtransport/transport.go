// Package llmtransport performs the single externally-facing call the
// pipeline makes: one chat-completions request to an OpenAI-compatible
// endpoint. It knows nothing about routing, caching, or retries — those
// are the Model Router's, the Cache Store's, and the Batch Scheduler's
// jobs respectively (spec.md §4.6, §9 DESIGN NOTES: "Transport depends on
// neither Router nor Cache"). Configuration is read from the environment
// the way the teacher's gRPC LLM client does it (pkg/llm/client.go):
// os.Getenv with defaults, strconv parsing for optional numeric knobs.
package llmtransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies why a call failed, driving the Batch Scheduler's
// and Model Router's retry and fallback decisions (spec.md §4.6, §7).
type ErrorKind string

// Recognized error kinds, mirroring the taxonomy in spec.md §7.
const (
	KindConfig   ErrorKind = "config"
	KindTimeout  ErrorKind = "timeout"
	KindNetwork  ErrorKind = "network"
	KindUpstream ErrorKind = "upstream"
	KindHTTP     ErrorKind = "http"
	KindParse    ErrorKind = "parse"
)

// LLMError is the structured error type every Call failure returns.
type LLMError struct {
	Kind       ErrorKind
	Retryable  bool
	HTTPStatus int
	Message    string
	Cause      error
}

func (e *LLMError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("llm transport: %s (http %d): %s", e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("llm transport: %s: %s", e.Kind, e.Message)
}

func (e *LLMError) Unwrap() error { return e.Cause }

// LLMResult is what a successful Call returns: raw model output plus
// whatever the provider reported about cost-relevant usage. Char counts
// are always filled in (for the Cost Aggregator's fallback estimate);
// token counts are filled in only when the provider reported them.
type LLMResult struct {
	ID      string
	Content string

	PromptTokens     int
	CompletionTokens int
	UsagePresent     bool

	PromptChars     int
	CompletionChars int

	LatencyMS int64
}

// Config is the environment-derived transport configuration (spec.md
// §6: LLM_BASE_URL, LLM_API_KEY / LLM_API_KEY_FILE, LLM_MODEL,
// LLM_TIMEOUT_S).
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// ConfigFromEnv reads Config from the environment, following the
// teacher's getenv-with-default idiom. A missing base URL or API key is a
// KindConfig error surfaced immediately, never retried (spec.md §7).
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL: os.Getenv("LLM_BASE_URL"),
		Model:   os.Getenv("LLM_MODEL"),
		Timeout: 30 * time.Second,
	}

	if raw := os.Getenv("LLM_TIMEOUT_S"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			cfg.Timeout = time.Duration(secs * float64(time.Second))
		}
	}

	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		if path := os.Getenv("LLM_API_KEY_FILE"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return Config{}, &LLMError{Kind: KindConfig, Message: fmt.Sprintf("reading LLM_API_KEY_FILE: %v", err)}
			}
			apiKey = strings.TrimSpace(string(data))
		}
	}
	cfg.APIKey = apiKey

	if cfg.BaseURL == "" {
		return Config{}, &LLMError{Kind: KindConfig, Message: "LLM_BASE_URL is not set"}
	}
	if cfg.APIKey == "" {
		return Config{}, &LLMError{Kind: KindConfig, Message: "neither LLM_API_KEY nor LLM_API_KEY_FILE is set"}
	}
	return cfg, nil
}

// Client sends chat-completions requests against an OpenAI-compatible
// endpoint. It is safe for concurrent use; http.Client already is.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient constructs a Client. httpClient may be nil, in which case a
// default is built with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the chat-completions request body. GenerationParams carries
// any extra provider-specific fields verbatim from the routing config.
type Request struct {
	Model            string         `json:"model"`
	Messages         []Message      `json:"messages"`
	Temperature      *float64       `json:"temperature,omitempty"`
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	ResponseFormat   map[string]any `json:"response_format,omitempty"`
	GenerationParams map[string]any `json:"-"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Call sends one chat-completions request and returns its parsed result.
// Cancellation via ctx aborts within the single HTTP round-trip it makes
// (spec.md §5 — the transport never starts a second request on its own).
func (c *Client) Call(ctx context.Context, req Request) (*LLMResult, error) {
	body, err := encodeRequest(req)
	if err != nil {
		return nil, &LLMError{Kind: KindConfig, Message: fmt.Sprintf("encoding request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &LLMError{Kind: KindConfig, Message: fmt.Sprintf("building request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	promptChars := promptCharCount(req.Messages)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	latencyMS := time.Since(start).Milliseconds()
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &LLMError{Kind: KindNetwork, Retryable: true, Message: fmt.Sprintf("reading response body: %v", err), Cause: err}
	}

	if resp.StatusCode >= 400 {
		return nil, classifyHTTPError(resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &LLMError{Kind: KindParse, Retryable: true, Message: fmt.Sprintf("decoding response JSON: %v", err), Cause: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &LLMError{Kind: KindParse, Retryable: true, Message: "response has no choices"}
	}

	content := parsed.Choices[0].Message.Content
	result := &LLMResult{
		ID:              parsed.ID,
		Content:         content,
		PromptChars:     promptChars,
		CompletionChars: len([]rune(content)),
		LatencyMS:       latencyMS,
	}
	if parsed.Usage.PromptTokens > 0 || parsed.Usage.CompletionTokens > 0 {
		result.UsagePresent = true
		result.PromptTokens = parsed.Usage.PromptTokens
		result.CompletionTokens = parsed.Usage.CompletionTokens
	}
	return result, nil
}

func promptCharCount(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len([]rune(m.Content))
	}
	return total
}

// encodeRequest flattens GenerationParams into the marshaled JSON object,
// since Go's encoding/json has no clean way to splat an arbitrary map
// into named struct fields.
func encodeRequest(req Request) ([]byte, error) {
	base, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if len(req.GenerationParams) == 0 {
		return base, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(base, &obj); err != nil {
		return nil, err
	}
	for k, v := range req.GenerationParams {
		if _, exists := obj[k]; !exists {
			obj[k] = v
		}
	}
	return json.Marshal(obj)
}

func classifyTransportError(ctx context.Context, err error) *LLMError {
	if ctx.Err() != nil {
		return &LLMError{Kind: KindTimeout, Retryable: true, Message: err.Error(), Cause: err}
	}
	return &LLMError{Kind: KindNetwork, Retryable: true, Message: err.Error(), Cause: err}
}

func classifyHTTPError(status int, body []byte) *LLMError {
	if status == http.StatusTooManyRequests || status >= 500 {
		return &LLMError{Kind: KindUpstream, Retryable: true, HTTPStatus: status, Message: truncateBody(body)}
	}
	return &LLMError{Kind: KindHTTP, Retryable: false, HTTPStatus: status, Message: truncateBody(body)}
}

func truncateBody(body []byte) string {
	const max = 500
	s := string(body)
	if len(s) > max {
		return s[:max] + "...(truncated)"
	}
	return s
}

// EstimateTokens approximates a token count from a character count, the
// same ceil(chars/4) heuristic the Cost Aggregator falls back to when a
// provider did not report usage (spec.md §4.9).
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}
