package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "sk-test1234567890abcdef"

func newTestClient() *Client {
	c := NewClient(zerolog.Nop())
	// Keep retries but drop the waits so tests run fast.
	c.newBackOff = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Millisecond
		bo.MaxElapsedTime = 0
		return bo
	}
	return c
}

func successBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func TestSendMessageSuccess(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, successBody("Hello! How can I help you today?"))
	}))
	defer srv.Close()

	resp, err := newTestClient().SendMessage(context.Background(), srv.URL, testAPIKey, "Hello, AI!", "gpt-4o")
	require.NoError(t, err)

	assert.Equal(t, "Hello! How can I help you today?", resp.Summary)
	assert.GreaterOrEqual(t, resp.ElapsedMS, int64(0))
	assert.Equal(t, "Bearer "+testAPIKey, gotAuth)
	assert.Equal(t, "gpt-4o", gotBody.Model)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, chatMessage{Role: "user", Content: "Hello, AI!"}, gotBody.Messages[0])
}

func TestSendMessageDefaultModel(t *testing.T) {
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, successBody("ok"))
	}))
	defer srv.Close()

	_, err := newTestClient().SendMessage(context.Background(), srv.URL, testAPIKey, "hi", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, gotBody.Model)
}

func TestSendMessageTruncatesLongContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, successBody(strings.Repeat("A", 1000)))
	}))
	defer srv.Close()

	resp, err := newTestClient().SendMessage(context.Background(), srv.URL, testAPIKey, "hi", "")
	require.NoError(t, err)
	assert.Len(t, []rune(resp.Summary), 500)
}

func TestSendMessageHTTPErrorNoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "Invalid API key"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient().SendMessage(context.Background(), srv.URL, testAPIKey, "hi", "")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "401")
	assert.Contains(t, apiErr.Message, "Invalid API key")
	assert.Equal(t, 1, calls, "4xx responses must not be retried")
}

// flakyTransport fails the first n round trips at the transport level,
// then forwards to the real transport.
type flakyTransport struct {
	failures int
	calls    int
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection refused")
	}
	return http.DefaultTransport.RoundTrip(r)
}

func TestSendMessageRetriesNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, successBody("recovered"))
	}))
	defer srv.Close()

	client := newTestClient()
	transport := &flakyTransport{failures: 2}
	client.httpClient = &http.Client{Transport: transport}

	resp, err := client.SendMessage(context.Background(), srv.URL, testAPIKey, "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Summary)
	assert.Equal(t, 3, transport.calls)
}

func TestSendMessageExhaustedRetries(t *testing.T) {
	client := newTestClient()
	transport := &flakyTransport{failures: 10}
	client.httpClient = &http.Client{Transport: transport}

	_, err := client.SendMessage(context.Background(), "http://127.0.0.1:0", testAPIKey, "hi", "")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "Network error")
	assert.Equal(t, 3, transport.calls, "retry policy allows 3 total attempts")
}

func TestSendMessageImageOnlyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": null,
			"images": [{"type": "image_url", "image_url": {"url": "data:image/jpeg;base64,..."}},
			           {"type": "image_url", "image_url": {"url": "data:image/jpeg;base64,..."}}]}}]}`)
	}))
	defer srv.Close()

	resp, err := newTestClient().SendMessage(context.Background(), srv.URL, testAPIKey, "draw", "")
	require.NoError(t, err)
	assert.Equal(t, "[图像生成成功] 共 2 张图片", resp.Summary)
}

func TestSendMessageNullContentNoImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": null}}]}`)
	}))
	defer srv.Close()

	_, err := newTestClient().SendMessage(context.Background(), srv.URL, testAPIKey, "hi", "")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusOK, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "no images")
}

func TestSendMessageNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	}))
	defer srv.Close()

	_, err := newTestClient().SendMessage(context.Background(), srv.URL, testAPIKey, "hi", "")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusOK, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "no choices")
}

func TestSendMessageMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer srv.Close()

	_, err := newTestClient().SendMessage(context.Background(), srv.URL, testAPIKey, "hi", "")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusOK, apiErr.StatusCode)
}
