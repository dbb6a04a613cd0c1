// Package openai sends single chat-completion requests to a
// configurable endpoint and classifies the outcome. Transport failures
// are retried with exponential backoff; HTTP error statuses and
// malformed responses are surfaced immediately as an APIError.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"autoai/internal/secrets"
)

// DefaultModel is used when a task does not specify one.
const DefaultModel = "gpt-3.5-turbo"

const (
	maxSummaryRunes = 500
	maxErrorDetail  = 500
	maxAttempts     = 3
)

// APIError is a classified call failure. StatusCode is 0 when no HTTP
// status applies (network errors, exhausted retries).
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string { return e.Message }

// Response is the bounded result of a successful call. ElapsedMS covers
// the whole call including retries and response parsing.
type Response struct {
	Summary   string
	ElapsedMS int64
}

// Client performs chat-completion requests.
type Client struct {
	httpClient *http.Client
	log        zerolog.Logger
	newBackOff func() backoff.BackOff
}

// NewClient returns a Client with the production retry policy: up to 3
// attempts, 2s initial backoff doubling up to 10s.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log.With().Str("component", "openai").Logger(),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 2 * time.Second
			bo.RandomizationFactor = 0
			bo.Multiplier = 2
			bo.MaxInterval = 10 * time.Second
			bo.MaxElapsedTime = 0
			return bo
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string           `json:"content"`
			Images  []json.RawMessage `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

// SendMessage performs one chat-completion call. Only transport-level
// errors are retried; any HTTP response, whatever its status, ends the
// retry loop and is classified. The returned error is always an
// *APIError unless the request could not even be built.
func (c *Client) SendMessage(ctx context.Context, endpoint, apiKey, message, model string) (*Response, error) {
	if model == "" {
		model = DefaultModel
	}

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: message}},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	masked := secrets.Mask(apiKey)
	c.log.Debug().Str("endpoint", endpoint).Str("api_key", masked).Str("model", model).
		Msg("sending chat completion request")

	start := time.Now()

	attempt := 0
	operation := func() (*http.Response, error) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Warn().Str("api_key", masked).Int("attempt", attempt).Err(err).
				Msg("request failed, will retry")
			return nil, err
		}
		return resp, nil
	}

	resp, err := backoff.RetryWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), maxAttempts-1), ctx))
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("Network error: %s", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("API returned status %d: %s", resp.StatusCode, truncate(string(detail), maxErrorDetail)),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    "Unexpected response structure: body is not valid JSON",
		}
	}
	if len(parsed.Choices) == 0 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    "Unexpected response structure: response has no choices",
		}
	}

	msg := parsed.Choices[0].Message
	var summary string
	switch {
	case msg.Content != nil:
		summary = truncate(*msg.Content, maxSummaryRunes)
	case len(msg.Images) > 0:
		summary = fmt.Sprintf("[图像生成成功] 共 %d 张图片", len(msg.Images))
	default:
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    "Response content is null and no images were returned",
		}
	}

	elapsed := time.Since(start).Milliseconds()
	c.log.Debug().Int64("elapsed_ms", elapsed).Int("attempts", attempt).
		Msg("chat completion succeeded")

	return &Response{Summary: summary, ElapsedMS: elapsed}, nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
