package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

// Agent implements hashiru.AgentBackend for cloud Gemini sub-agents: a
// non-streaming generateContent call with the agent's system prompt.
type Agent struct {
	apiKey       string
	model        string
	systemPrompt string
	httpClient   *http.Client
}

// NewAgent creates a Gemini sub-agent backend.
func NewAgent(apiKey, model, systemPrompt string) *Agent {
	return &Agent{
		apiKey:       apiKey,
		model:        model,
		systemPrompt: systemPrompt,
		httpClient:   &http.Client{},
	}
}

// Name returns "gemini".
func (a *Agent) Name() string { return "gemini" }

// Ask sends the prompt and returns the complete reply text.
func (a *Agent) Ask(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]any{{"text": prompt}}},
		},
	}
	if a.systemPrompt != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": a.systemPrompt}},
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", &hashiru.ErrBackend{Provider: "gemini", Message: "marshal body: " + err.Error()}
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, a.model, a.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return "", &hashiru.ErrBackend{Provider: "gemini", Message: "create request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", &hashiru.ErrBackend{Provider: "gemini", Message: "request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &hashiru.ErrBackend{Provider: "gemini", Message: "read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", httpErr(resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []wirePart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &hashiru.ErrBackend{Provider: "gemini", Message: "parse response: " + err.Error()}
	}
	var sb strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, p := range parsed.Candidates[0].Content.Parts {
			if p.Thought || p.Text == nil {
				continue
			}
			sb.WriteString(*p.Text)
		}
	}
	return sb.String(), nil
}

// Drop is a no-op: cloud agents hold no backend-side state.
func (a *Agent) Drop(ctx context.Context) error { return nil }

// Compile-time interface assertion.
var _ hashiru.AgentBackend = (*Agent)(nil)
