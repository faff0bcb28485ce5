// Package llm wraps an OpenAI-compatible chat completion endpoint behind a
// single-turn Complete call shared by translation and relevance scoring.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ErrEmptyResponse is returned when the model answered without content.
var ErrEmptyResponse = errors.New("empty completion")

// Completer sends one system+user exchange and returns the assistant text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Config configures an OpenAI client.
type Config struct {
	APIKey  string
	BaseURL string // empty uses the SDK default
	Model   string
	// HTTPClient overrides the SDK transport, e.g. for tests.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements Completer with github.com/openai/openai-go.
type Client struct {
	api    openai.Client
	model  string
	logger *slog.Logger
}

var _ Completer = (*Client)(nil)

// New builds a client. Retries are left to the caller's timeout budget.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai client requires an api key")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai client requires a model")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		api:    openai.NewClient(opts...),
		model:  cfg.Model,
		logger: cfg.Logger.With("component", "llm", "model", cfg.Model),
	}, nil
}

// Complete runs a single chat completion.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	c.logger.Debug("completion received", "chars", len(content))
	return content, nil
}

// StripCodeFence removes a surrounding ``` or ```json fence that models often add.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
