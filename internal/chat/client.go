package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const DefaultBaseURL = "https://api.openai.com/v1"

var (
	ErrInvalidAPIKey = errors.New("chat: upstream rejected the API key")
	ErrRateLimited   = errors.New("chat: upstream rate limit or quota exceeded")
	ErrEmptyReply    = errors.New("chat: upstream returned no choices")
)

type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// StatusError is a non-2xx answer from the completion endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat: upstream status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrInvalidAPIKey:
		return e.Code == http.StatusUnauthorized
	case ErrRateLimited:
		return e.Code == http.StatusTooManyRequests
	}
	return false
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL  string
	http     *http.Client
	maxTries uint
	initial  time.Duration
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }

// WithRetry sets the attempt budget and first backoff interval.
func WithRetry(maxTries uint, initial time.Duration) ClientOption {
	return func(c *Client) {
		c.maxTries = maxTries
		c.initial = initial
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		http:     &http.Client{Timeout: 60 * time.Second},
		maxTries: 3,
		initial:  500 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends req and returns the first choice. 5xx and 429 answers are
// retried with exponential backoff; other failures are returned at once.
func (c *Client) Complete(ctx context.Context, apiKey string, req CompletionRequest) (Message, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Message{}, err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initial
	exp.MaxInterval = 20 * c.initial

	op := func() (Message, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return Message{}, backoff.Permanent(err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return Message{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
			if retryable(resp.StatusCode) {
				return Message{}, serr
			}
			return Message{}, backoff.Permanent(serr)
		}

		var out completionResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return Message{}, backoff.Permanent(fmt.Errorf("chat: decode response: %w", err))
		}
		if len(out.Choices) == 0 {
			return Message{}, backoff.Permanent(ErrEmptyReply)
		}
		m := out.Choices[0].Message
		if m.Role == "" {
			m.Role = "assistant"
		}
		return m, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithMaxElapsedTime(2*time.Minute),
	)
}
