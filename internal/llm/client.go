package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sqlward/sqlward/internal/config"
	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
	"github.com/sqlward/sqlward/internal/resilience"
)

// Supported providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Client implements Service against the configured provider
type Client struct {
	config     config.LLMConfig
	httpClient *http.Client
	breakers   *resilience.BreakerRegistry
}

// NewClient validates the provider configuration and returns a ready
// client. Base URLs default per provider.
func NewClient(cfg config.LLMConfig, breakers *resilience.BreakerRegistry) (*Client, error) {
	if cfg.Model == "" {
		return nil, sqlwarderrors.New(sqlwarderrors.ErrTypeConfig, "LLM model is required")
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, sqlwarderrors.New(sqlwarderrors.ErrTypeConfig, "API key is required for OpenAI provider")
		}

		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, sqlwarderrors.New(sqlwarderrors.ErrTypeConfig, "API key is required for Anthropic provider")
		}

		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.anthropic.com/v1"
		}
	case ProviderOllama:
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434"
		}
	default:
		return nil, sqlwarderrors.Newf(sqlwarderrors.ErrTypeConfig, "unsupported provider: %s", cfg.Provider)
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.TimeoutDuration(),
		},
		breakers: breakers,
	}, nil
}

// GeneratePlan implements Service
func (c *Client) GeneratePlan(ctx context.Context, question, schemaDescription string, scopingRequired bool) (string, error) {
	return c.complete(ctx, buildPlanPrompt(question, schemaDescription, scopingRequired))
}

// GenerateSQLFromPlan implements Service
func (c *Client) GenerateSQLFromPlan(ctx context.Context, question, planJSON, schemaDescription, scopingHint string) (string, error) {
	raw, err := c.complete(ctx, buildSQLPrompt(question, planJSON, schemaDescription, scopingHint))
	if err != nil {
		return "", err
	}

	return stripCodeFences(raw), nil
}

// ExplainResults implements Service
func (c *Client) ExplainResults(ctx context.Context, question, sql string, rowCount int, sampleRows string) (string, error) {
	return c.complete(ctx, buildExplainPrompt(question, sql, rowCount, sampleRows))
}

// complete sends one prompt to the provider through its circuit breaker
// and returns the raw text completion.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	var result string

	err := c.breakers.Get(c.config.Provider).Execute(func() error {
		var err error

		switch c.config.Provider {
		case ProviderOpenAI:
			result, err = c.completeOpenAI(ctx, prompt)
		case ProviderAnthropic:
			result, err = c.completeAnthropic(ctx, prompt)
		case ProviderOllama:
			result, err = c.completeOllama(ctx, prompt)
		default:
			err = sqlwarderrors.Newf(sqlwarderrors.ErrTypeConfig, "unsupported provider: %s", c.config.Provider)
		}

		return err
	})

	return result, err
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	if newline := strings.IndexByte(s, '\n'); newline != -1 {
		s = s[newline+1:]
	} else {
		s = s[3:]
	}

	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	return strings.TrimSpace(s)
}

// OpenAI API structures
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (c *Client) completeOpenAI(ctx context.Context, prompt string) (string, error) {
	reqBody := openAIRequest{
		Model: c.config.Model,
		Messages: []openAIMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
		MaxTokens:   c.config.MaxTokens,
	}

	respBody, err := c.makeRequest(ctx, "/chat/completions", reqBody, map[string]string{
		"Authorization": "Bearer " + c.config.APIKey,
	})
	if err != nil {
		return "", err
	}

	var response openAIResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeProvider, "failed to parse OpenAI response")
	}

	if response.Error != nil {
		return "", sqlwarderrors.Newf(sqlwarderrors.ErrTypeProvider, "OpenAI API error: %s", response.Error.Message)
	}

	if len(response.Choices) == 0 {
		return "", sqlwarderrors.New(sqlwarderrors.ErrTypeProvider, "no response from OpenAI")
	}

	return response.Choices[0].Message.Content, nil
}

// Anthropic API structures
type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (c *Client) completeAnthropic(ctx context.Context, prompt string) (string, error) {
	reqBody := anthropicRequest{
		Model: c.config.Model,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens: c.config.MaxTokens,
	}

	respBody, err := c.makeRequest(ctx, "/messages", reqBody, map[string]string{
		"x-api-key":         c.config.APIKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", err
	}

	var response anthropicResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeProvider, "failed to parse Anthropic response")
	}

	if response.Error != nil {
		return "", sqlwarderrors.Newf(sqlwarderrors.ErrTypeProvider, "Anthropic API error: %s", response.Error.Message)
	}

	if len(response.Content) == 0 {
		return "", sqlwarderrors.New(sqlwarderrors.ErrTypeProvider, "no response from Anthropic")
	}

	return response.Content[0].Text, nil
}

// Ollama API structures
type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) completeOllama(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Stream: false,
	}

	respBody, err := c.makeRequest(ctx, "/api/generate", reqBody, nil)
	if err != nil {
		return "", err
	}

	var response ollamaResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeProvider, "failed to parse Ollama response")
	}

	if response.Error != "" {
		return "", sqlwarderrors.Newf(sqlwarderrors.ErrTypeProvider, "Ollama API error: %s", response.Error)
	}

	return response.Response, nil
}

func (c *Client) makeRequest(ctx context.Context, endpoint string, reqBody interface{}, headers map[string]string) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeProvider, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeProvider, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeProvider, "failed to make request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeProvider, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, sqlwarderrors.Newf(sqlwarderrors.ErrTypeProvider,
			"API request failed with status %d: %s", resp.StatusCode, fmt.Sprintf("%.200s", string(body)))
	}

	return body, nil
}
