// Package client implements the HTTP client for the Ollama chat API.
// It owns a long-lived connection pool and wraps each chat completion call
// with a bounded timeout and a single retry with back-off.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sk0pp/ollabot/internal/config"
	"github.com/sk0pp/ollabot/internal/util"
)

const (
	chatAttempts = 2
	backoffStep  = 600 * time.Millisecond
	maxErrorBody = 300
)

// ErrNotStarted is returned when Chat is invoked before Start.
var ErrNotStarted = errors.New("ollama client not started")

// BackendError wraps the last failure after all attempts against one model
// are exhausted.
type BackendError struct {
	Model string
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("ollama chat failed for model %s: %v", e.Model, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Client talks to one Ollama server. It is safe for concurrent use by
// multiple message handlers once started.
type Client struct {
	baseURL    string
	proxyURL   string
	timeout    time.Duration
	backoff    time.Duration
	httpClient *http.Client
}

// New creates a client for the configured Ollama endpoint. The connection
// pool is not created until Start.
func New(cfg *config.Config) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.OllamaURL, "/"),
		proxyURL: cfg.ProxyURL,
		timeout:  cfg.RequestTimeout(),
		backoff:  backoffStep,
	}
}

// Start creates the long-lived HTTP connection pool.
func (c *Client) Start() {
	c.httpClient = util.SetProxy(c.proxyURL, &http.Client{Timeout: c.timeout})
	log.Infof("ollama client started, url=%s timeout=%s", c.baseURL, c.timeout)
}

// Close releases pooled connections. In-flight calls fail with a transport
// error rather than hanging.
func (c *Client) Close() {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
		c.httpClient = nil
	}
}

// Chat sends one chat completion request and returns the assistant's answer
// with surrounding whitespace trimmed. An empty answer is a valid result.
// Any failure is retried once after a back-off of backoff*attempt; when both
// attempts fail the last error is returned wrapped in a *BackendError.
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	httpClient := c.httpClient
	if httpClient == nil {
		return "", ErrNotStarted
	}

	payload, err := buildChatPayload(model, messages)
	if err != nil {
		return "", &BackendError{Model: model, Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= chatAttempts; attempt++ {
		answer, errDo := c.doChat(ctx, httpClient, payload)
		if errDo == nil {
			return answer, nil
		}
		lastErr = errDo
		log.Debugf("chat attempt %d/%d failed for model %s: %v", attempt, chatAttempts, model, errDo)

		if attempt == chatAttempts {
			break
		}
		select {
		case <-time.After(c.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return "", &BackendError{Model: model, Err: ctx.Err()}
		}
	}
	return "", &BackendError{Model: model, Err: lastErr}
}

// ListModels fetches the names of models installed on the server.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpClient := c.httpClient
	if httpClient == nil {
		return nil, ErrNotStarted
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("list models: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("list models: HTTP %d: %s", resp.StatusCode, truncateBody(body))
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("list models: invalid JSON response")
	}

	var names []string
	for _, m := range gjson.GetBytes(body, "models.#.name").Array() {
		names = append(names, m.String())
	}
	return names, nil
}

func (c *Client) doChat(ctx context.Context, httpClient *http.Client, payload string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", strings.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncateBody(body))
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("invalid JSON response")
	}

	// Missing message or content yields an empty string, which is a valid
	// answer rather than a failure.
	return strings.TrimSpace(gjson.GetBytes(body, "message.content").String()), nil
}

func buildChatPayload(model string, messages []Message) (string, error) {
	raw, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("marshal messages: %w", err)
	}

	payload := `{"stream":false}`
	if payload, err = sjson.Set(payload, "model", model); err != nil {
		return "", err
	}
	if payload, err = sjson.SetRaw(payload, "messages", string(raw)); err != nil {
		return "", err
	}
	return payload, nil
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}
