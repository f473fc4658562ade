// Package ai is a small client for OpenAI-compatible chat completion APIs.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrDisabled is returned when no endpoint is configured.
var ErrDisabled = errors.New("ai: text generation is not configured")

// UpstreamError reports a failed call to the completion endpoint.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return "ai upstream: " + e.Message
	}
	return fmt.Sprintf("ai upstream: status %d: %s", e.Status, e.Message)
}

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Completion struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// Generator produces a completion for a conversation.
type Generator interface {
	Complete(ctx context.Context, messages []Message) (*Completion, error)
}

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	RetryCount  int
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls POST {BaseURL}/chat/completions.
type Client struct {
	http  *resty.Client
	model string
	temp  float64
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	h := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		h.SetAuthToken(cfg.APIKey)
	}
	return &Client{http: h, model: cfg.Model, temp: cfg.Temperature}
}

func (c *Client) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	if len(messages) == 0 {
		return nil, errors.New("ai: at least one message is required")
	}
	var out chatResponse
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{Model: c.model, Messages: messages, Temperature: c.temp}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return nil, &UpstreamError{Status: resp.StatusCode(), Message: msg}
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return nil, &UpstreamError{Status: resp.StatusCode(), Message: "empty completion"}
	}
	model := out.Model
	if model == "" {
		model = c.model
	}
	return &Completion{Text: strings.TrimSpace(out.Choices[0].Message.Content), Model: model}, nil
}

// Disabled is a Generator that always fails with ErrDisabled.
type Disabled struct{}

func (Disabled) Complete(context.Context, []Message) (*Completion, error) {
	return nil, ErrDisabled
}
