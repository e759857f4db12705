package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GenerateClient makes stateless generateContent calls through the genai SDK.
// It never carries conversation state, so Result.InteractionID is always empty.
type GenerateClient struct {
	keys       *KeySource
	model      string
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	client *genai.Client
}

type GenerateOption func(*GenerateClient)

func WithGenerateBaseURL(baseURL string) GenerateOption {
	return func(c *GenerateClient) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithGenerateHTTPClient(httpClient *http.Client) GenerateOption {
	return func(c *GenerateClient) {
		c.httpClient = httpClient
	}
}

func NewGenerateClient(keys *KeySource, model string, opts ...GenerateOption) (*GenerateClient, error) {
	if keys == nil {
		return nil, errors.New("gemini: key source must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	c := &GenerateClient{
		keys:       keys,
		model:      model,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *GenerateClient) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	apiKey, err := c.keys.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, &CallError{Message: "Exception: " + err.Error(), Err: err}
	}
	c.client = client
	return client, nil
}

// Call runs one generateContent request. PreviousInteractionID is ignored.
func (c *GenerateClient) Call(ctx context.Context, req Request) (Result, error) {
	client, err := c.sdk(ctx)
	if err != nil {
		return Result{}, err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if req.SystemInstructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstructions, genai.RoleUser)
	}
	for _, name := range req.Tools {
		switch name {
		case ToolGoogleSearch:
			cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
		case ToolURLContext:
			cfg.Tools = append(cfg.Tools, &genai.Tool{URLContext: &genai.URLContext{}})
		}
	}

	resp, err := client.Models.GenerateContent(ctx, c.model, genai.Text(req.Input), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			ce := apiError(apiErr.Code, apiErr.Message)
			ce.Err = err
			return Result{}, ce
		}
		return Result{}, transportError(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Result{}, &CallError{Message: "No text in response"}
	}
	return Result{Text: text}, nil
}
