package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL  = "https://generativelanguage.googleapis.com"
	defaultModel    = "gemini-flash-latest"
	defaultTimeout  = 60 * time.Second
	maxResponseSize = 1 << 20
)

// interactionRequest is the request body for the Interactions endpoint.
type interactionRequest struct {
	Model                 string           `json:"model"`
	Input                 string           `json:"input"`
	ResponseModalities    []string         `json:"response_modalities"`
	GenerationConfig      generationConfig `json:"generation_config"`
	Store                 bool             `json:"store"`
	PreviousInteractionID string           `json:"previous_interaction_id,omitempty"`
	Tools                 []toolSpec       `json:"tools,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"max_output_tokens"`
	Temperature     float64 `json:"temperature"`
}

type toolSpec struct {
	Type string `json:"type"`
}

// interactionResponse covers the Interactions shape and the generateContent
// shape some deployments answer with.
type interactionResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Outputs []struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		Content string `json:"content"`
	} `json:"outputs"`
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// InteractionsClient calls the stateful Interactions API, which returns an
// interaction id that a later call can continue from.
type InteractionsClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	keys       *KeySource
	logger     *slog.Logger
}

type Option func(*InteractionsClient)

func WithBaseURL(baseURL string) Option {
	return func(c *InteractionsClient) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *InteractionsClient) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *InteractionsClient) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *InteractionsClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewInteractionsClient(keys *KeySource, opts ...Option) (*InteractionsClient, error) {
	if keys == nil {
		return nil, errors.New("gemini: key source must not be nil")
	}
	c := &InteractionsClient{
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
		keys:       keys,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *InteractionsClient) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func interactionsURL(baseURL, apiKey string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1beta") {
		base += "/v1beta"
	}
	return base + "/interactions?key=" + url.QueryEscape(apiKey)
}

// framedInput folds the system instructions into the input, which is how the
// Interactions endpoint takes them.
func framedInput(system, user string) string {
	if system == "" {
		return user
	}
	return "[SYSTEM INSTRUCTIONS]\n" + system + "\n[END SYSTEM INSTRUCTIONS]\n\nUser query: " + user
}

func buildInteractionRequest(model string, req Request) interactionRequest {
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	out := interactionRequest{
		Model:                 model,
		Input:                 framedInput(req.SystemInstructions, req.Input),
		ResponseModalities:    []string{"TEXT"},
		GenerationConfig:      generationConfig{MaxOutputTokens: maxTokens, Temperature: req.Temperature},
		Store:                 true,
		PreviousInteractionID: req.PreviousInteractionID,
	}
	for _, name := range req.Tools {
		switch name {
		case ToolGoogleSearch, ToolURLContext, "code_execution":
			out.Tools = append(out.Tools, toolSpec{Type: name})
		}
	}
	return out
}

// Call sends one interaction. Failures are returned as *CallError, except a
// missing key which wraps ErrKeyNotConfigured.
func (c *InteractionsClient) Call(ctx context.Context, req Request) (Result, error) {
	apiKey, err := c.keys.APIKey(ctx)
	if err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(buildInteractionRequest(c.model, req))
	if err != nil {
		return Result{}, fmt.Errorf("gemini: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, interactionsURL(c.baseURL, apiKey), bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("calling interactions api", "model", c.model, "continuing", req.PreviousInteractionID != "")

	res, err := c.resolvedHTTPClient().Do(httpReq)
	if err != nil {
		return Result{}, transportError(err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return Result{}, transportError(err)
	}

	var payload interactionResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return Result{}, apiError(res.StatusCode, fmt.Sprintf("HTTP %d: %s", res.StatusCode, truncate(string(raw), 200)))
		}
		return Result{}, &CallError{Message: "Failed to parse API response", StatusCode: res.StatusCode, Err: err}
	}
	if payload.Error != nil {
		msg := payload.Error.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return Result{}, apiError(res.StatusCode, msg)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Result{}, apiError(res.StatusCode, fmt.Sprintf("HTTP %d", res.StatusCode))
	}

	text := payload.text()
	if text == "" {
		c.logger.Warn("interactions api returned no text", "status", payload.Status)
		return Result{}, &CallError{Message: "No text in response", StatusCode: res.StatusCode}
	}
	return Result{Text: text, InteractionID: payload.ID}, nil
}

func (r interactionResponse) text() string {
	var parts []string
	for _, o := range r.Outputs {
		switch {
		case o.Text != "":
			parts = append(parts, o.Text)
		case o.Type == "text" && o.Content != "":
			parts = append(parts, o.Content)
		}
	}
	if len(parts) == 0 && len(r.Candidates) > 0 {
		for _, p := range r.Candidates[0].Content.Parts {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n")
	}
	return r.Text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
