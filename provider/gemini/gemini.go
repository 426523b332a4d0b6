// Package gemini implements the Gemini chat, agent, and embedding backends.
package gemini

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

// safetyCategories are set to BLOCK_NONE on every request: the manager
// model sees raw tool output and must not have its replies suppressed.
var safetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// Gemini implements hashiru.ChatBackend over the Gemini REST API.
type Gemini struct {
	apiKey     string
	model      string
	httpClient *http.Client
	topP       float64
}

// New creates a Gemini chat backend.
func New(apiKey, model string, opts ...Option) *Gemini {
	g := &Gemini{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
		topP:       0.9,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// Stream sends a streaming generateContent request and forwards chunks into
// ch, closing it when the response completes.
func (g *Gemini) Stream(ctx context.Context, req hashiru.StreamRequest, ch chan<- hashiru.Chunk) (hashiru.StreamResult, error) {
	defer close(ch)

	body, err := g.buildBody(req)
	if err != nil {
		return hashiru.StreamResult{}, g.wrapErr("build body: " + err.Error())
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", baseURL, g.model, g.apiKey)

	resp, err := g.post(ctx, url, body)
	if err != nil {
		return hashiru.StreamResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return hashiru.StreamResult{}, httpErr(resp.StatusCode, string(b))
	}

	var result hashiru.StreamResult
	var fullText strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" || data == "[DONE]" {
			continue
		}
		chunk, usage := parseStreamChunk(data)
		if usage != nil {
			result.Usage = *usage
		}
		if chunk.Text == "" && len(chunk.Calls) == 0 {
			continue
		}
		fullText.WriteString(chunk.Text)
		result.Calls = append(result.Calls, chunk.Calls...)
		if chunk.Raw != nil {
			result.Raw = append(result.Raw, *chunk.Raw)
		}
		select {
		case ch <- chunk:
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return result, g.wrapErr("read stream: " + err.Error())
	}
	result.Text = fullText.String()
	return result, nil
}

// CountTokens returns the token count for a history via the countTokens
// endpoint.
func (g *Gemini) CountTokens(ctx context.Context, history []hashiru.ModelContent) (int, error) {
	contents, err := encodeContents(history)
	if err != nil {
		return 0, g.wrapErr("encode contents: " + err.Error())
	}
	url := fmt.Sprintf("%s/models/%s:countTokens?key=%s", baseURL, g.model, g.apiKey)

	resp, err := g.post(ctx, url, map[string]any{"contents": contents})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, g.wrapErr("read count response: " + err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, httpErr(resp.StatusCode, string(respBody))
	}
	var parsed struct {
		TotalTokens int `json:"totalTokens"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return 0, g.wrapErr("parse count response: " + err.Error())
	}
	return parsed.TotalTokens, nil
}

func (g *Gemini) post(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, g.wrapErr("marshal body: " + err.Error())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, g.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, g.wrapErr("request failed: " + err.Error())
	}
	return resp, nil
}

func (g *Gemini) wrapErr(msg string) error {
	return &hashiru.ErrBackend{Provider: "gemini", Message: msg}
}

// httpErr converts a non-2xx response into a backend error, marking the
// transient statuses retryable.
func httpErr(status int, body string) *hashiru.ErrBackend {
	return &hashiru.ErrBackend{
		Provider:  "gemini",
		Message:   body,
		Status:    status,
		Retryable: status == http.StatusTooManyRequests || status == http.StatusInternalServerError || status == http.StatusServiceUnavailable,
	}
}

// ---- request body ----

// buildBody constructs the generateContent request: contents, system
// instruction, function declarations, generation config, and the
// unconditional safety overrides.
func (g *Gemini) buildBody(req hashiru.StreamRequest) (map[string]any, error) {
	contents, err := encodeContents(req.History)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"contents": contents}

	if req.SystemPrompt != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.SystemPrompt}},
		}
	}

	if len(req.Tools) > 0 {
		declarations := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			var params any = map[string]any{}
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &params); err != nil {
					params = map[string]any{}
				}
			}
			declarations = append(declarations, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			})
		}
		body["tools"] = []map[string]any{{"functionDeclarations": declarations}}
	}

	body["generationConfig"] = map[string]any{
		"temperature": req.Temperature,
		"topP":        g.topP,
	}

	settings := make([]map[string]any, 0, len(safetyCategories))
	for _, cat := range safetyCategories {
		settings = append(settings, map[string]any{
			"category":  cat,
			"threshold": "BLOCK_NONE",
		})
	}
	body["safetySettings"] = settings

	return body, nil
}

// encodeContents maps backend-neutral content blocks to the Gemini wire
// format. Tool responses travel as user-role functionResponse parts.
func encodeContents(history []hashiru.ModelContent) ([]map[string]any, error) {
	contents := make([]map[string]any, 0, len(history))
	for _, c := range history {
		role := c.Role
		if role == hashiru.ContentRoleTool {
			role = "user"
		}
		parts := make([]map[string]any, 0, len(c.Parts))
		for _, p := range c.Parts {
			switch {
			case p.FunctionCall != nil:
				var args any = map[string]any{}
				if len(p.FunctionCall.Args) > 0 {
					if err := json.Unmarshal(p.FunctionCall.Args, &args); err != nil {
						args = map[string]any{}
					}
				}
				parts = append(parts, map[string]any{
					"functionCall": map[string]any{
						"name": p.FunctionCall.Name,
						"args": args,
					},
				})
			case p.FunctionResponse != nil:
				parts = append(parts, map[string]any{
					"functionResponse": map[string]any{
						"name":     p.FunctionResponse.Name,
						"response": p.FunctionResponse.Response,
					},
				})
			case p.Bytes != nil:
				parts = append(parts, map[string]any{
					"inlineData": map[string]any{
						"mimeType": p.Bytes.MIME,
						"data":     base64.StdEncoding.EncodeToString(p.Bytes.Data),
					},
				})
			default:
				parts = append(parts, map[string]any{"text": p.Text})
			}
		}
		if len(parts) == 0 {
			parts = append(parts, map[string]any{"text": ""})
		}
		contents = append(contents, map[string]any{"role": role, "parts": parts})
	}
	return contents, nil
}

// ---- stream parsing ----

type wirePart struct {
	Text         *string       `json:"text,omitempty"`
	FunctionCall *wireFuncCall `json:"functionCall,omitempty"`
	Thought      bool          `json:"thought,omitempty"`
}

type wireFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type wireUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// parseStreamChunk extracts the text and function-call parts from one SSE
// payload. Function-call parts are also packaged as a model-role content
// block for replay.
func parseStreamChunk(data string) (hashiru.Chunk, *hashiru.Usage) {
	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []wirePart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata *wireUsage `json:"usageMetadata"`
	}
	if err := json.Unmarshal([]byte(data), &parsed); err != nil {
		return hashiru.Chunk{}, nil
	}

	var chunk hashiru.Chunk
	var rawParts []hashiru.Part
	if len(parsed.Candidates) > 0 {
		for _, p := range parsed.Candidates[0].Content.Parts {
			if p.Thought {
				continue
			}
			if p.Text != nil {
				chunk.Text += *p.Text
			}
			if p.FunctionCall != nil {
				call := hashiru.FunctionCall{Name: p.FunctionCall.Name, Args: p.FunctionCall.Args}
				chunk.Calls = append(chunk.Calls, call)
				rawParts = append(rawParts, hashiru.CallPart(call))
			}
		}
	}
	if len(rawParts) > 0 {
		chunk.Raw = &hashiru.ModelContent{Role: hashiru.ContentRoleModel, Parts: rawParts}
	}

	var usage *hashiru.Usage
	if parsed.UsageMetadata != nil {
		usage = &hashiru.Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		}
	}
	return chunk, usage
}

// Compile-time interface assertion.
var _ hashiru.ChatBackend = (*Gemini)(nil)
