// Package openaicompat implements the sub-agent backend for any
// OpenAI-compatible chat completions API. It serves both Groq (cloud) and
// Ollama (local daemon); Ollama additionally supports dropping the model
// copy on agent deletion through its native delete endpoint.
package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

// Client implements hashiru.AgentBackend over the chat completions API.
type Client struct {
	apiKey       string
	model        string
	baseURL      string
	systemPrompt string
	name         string
	dropURL      string
	httpClient   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithName sets the provider name returned by Name() (default "openai").
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithDropEndpoint sets the native model-delete endpoint called by Drop.
// Ollama uses "http://host:11434/api/delete"; cloud providers leave it
// unset and Drop is a no-op.
func WithDropEndpoint(url string) Option {
	return func(c *Client) { c.dropURL = url }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a backend for an OpenAI-compatible API. baseURL is the API
// base (e.g. "https://api.groq.com/openai/v1", "http://localhost:11434/v1");
// the /chat/completions path is appended.
func New(apiKey, model, baseURL, systemPrompt string, opts ...Option) *Client {
	c := &Client{
		apiKey:       apiKey,
		model:        model,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		systemPrompt: systemPrompt,
		name:         "openai",
		httpClient:   &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the configured provider name.
func (c *Client) Name() string { return c.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Ask sends the prompt with the agent's system prompt and returns the
// complete reply.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	var messages []chatMessage
	if c.systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: c.systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body := map[string]any{
		"model":    c.model,
		"messages": messages,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", c.wrapErr("marshal body: " + err.Error())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", strings.NewReader(string(payload)))
	if err != nil {
		return "", c.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", c.wrapErr("request failed: " + err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.wrapErr("read response: " + err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return "", &hashiru.ErrBackend{
			Provider:  c.name,
			Message:   string(respBody),
			Status:    resp.StatusCode,
			Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", c.wrapErr("parse response: " + err.Error())
	}
	if len(parsed.Choices) == 0 {
		return "", c.wrapErr("response contains no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Drop deletes the backend-side model copy via the configured native
// endpoint. Without one it is a no-op.
func (c *Client) Drop(ctx context.Context) error {
	if c.dropURL == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]string{"model": c.model})
	if err != nil {
		return c.wrapErr("marshal drop body: " + err.Error())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.dropURL, strings.NewReader(string(payload)))
	if err != nil {
		return c.wrapErr("create drop request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.wrapErr("drop request failed: " + err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		b, _ := io.ReadAll(resp.Body)
		return c.wrapErr(fmt.Sprintf("drop failed: http %d: %s", resp.StatusCode, b))
	}
	return nil
}

func (c *Client) wrapErr(msg string) error {
	return &hashiru.ErrBackend{Provider: c.name, Message: msg}
}

// Compile-time interface assertion.
var _ hashiru.AgentBackend = (*Client)(nil)
