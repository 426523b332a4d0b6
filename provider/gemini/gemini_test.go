package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

// withTestServer points the package at a local server for one test.
func withTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	old := baseURL
	baseURL = srv.URL
	t.Cleanup(func() {
		baseURL = old
		srv.Close()
	})
	return srv
}

func sseBody(payloads ...string) string {
	var sb strings.Builder
	for _, p := range payloads {
		sb.WriteString("data: " + p + "\n\n")
	}
	sb.WriteString("data: [DONE]\n")
	return sb.String()
}

func TestStreamParsesSSE(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`,
			`{"candidates":[{"content":{"parts":[{"text":"lo"}]}}]}`,
			`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"GetBudget","args":{"detail":true}}}]}}],"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":7}}`,
		))
	})
	g := New("test-key", "gemini-2.0-flash")

	ch := make(chan hashiru.Chunk, 8)
	result, err := g.Stream(context.Background(), hashiru.StreamRequest{
		History: []hashiru.ModelContent{
			{Role: hashiru.ContentRoleUser, Parts: []hashiru.Part{hashiru.TextPart("hi")}},
		},
	}, ch)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if result.Text != "Hello" {
		t.Errorf("Text = %q, want Hello", result.Text)
	}
	if len(result.Calls) != 1 || result.Calls[0].Name != "GetBudget" {
		t.Errorf("Calls = %+v", result.Calls)
	}
	if len(result.Raw) != 1 || result.Raw[0].Role != hashiru.ContentRoleModel {
		t.Errorf("Raw = %+v", result.Raw)
	}
	if result.Usage.InputTokens != 12 || result.Usage.OutputTokens != 7 {
		t.Errorf("Usage = %+v", result.Usage)
	}

	var chunks []hashiru.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 3 {
		t.Errorf("forwarded chunks = %d, want 3", len(chunks))
	}
}

func TestStreamRequestBody(t *testing.T) {
	var body map[string]any
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &body); err != nil {
			t.Errorf("request body: %v", err)
		}
		fmt.Fprint(w, sseBody(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	})
	g := New("test-key", "gemini-2.0-flash")

	ch := make(chan hashiru.Chunk, 8)
	_, err := g.Stream(context.Background(), hashiru.StreamRequest{
		History: []hashiru.ModelContent{
			{Role: hashiru.ContentRoleUser, Parts: []hashiru.Part{hashiru.TextPart("hi")}},
		},
		Tools: []hashiru.ToolDefinition{{
			Name:        "GetBudget",
			Description: "returns the budget snapshot",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
		SystemPrompt: "You are the manager.",
		Temperature:  0.4,
	}, ch)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	for range ch {
	}

	if _, ok := body["systemInstruction"]; !ok {
		t.Error("systemInstruction missing")
	}
	tools, ok := body["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("tools = %v", body["tools"])
	}
	decls := tools[0].(map[string]any)["functionDeclarations"].([]any)
	if len(decls) != 1 || decls[0].(map[string]any)["name"] != "GetBudget" {
		t.Errorf("functionDeclarations = %v", decls)
	}
	gen, ok := body["generationConfig"].(map[string]any)
	if !ok || gen["temperature"] != 0.4 || gen["topP"] != 0.9 {
		t.Errorf("generationConfig = %v", body["generationConfig"])
	}
	settings, ok := body["safetySettings"].([]any)
	if !ok || len(settings) != 4 {
		t.Fatalf("safetySettings = %v", body["safetySettings"])
	}
	for _, s := range settings {
		if s.(map[string]any)["threshold"] != "BLOCK_NONE" {
			t.Errorf("safety threshold = %v", s)
		}
	}
}

func TestStreamHTTPErrors(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream says no", tc.status)
			})
			g := New("test-key", "gemini-2.0-flash")

			ch := make(chan hashiru.Chunk, 8)
			_, err := g.Stream(context.Background(), hashiru.StreamRequest{}, ch)
			var be *hashiru.ErrBackend
			if !errors.As(err, &be) {
				t.Fatalf("expected *ErrBackend, got %v", err)
			}
			if be.Status != tc.status || be.Retryable != tc.retryable {
				t.Errorf("status/retryable = %d/%v, want %d/%v",
					be.Status, be.Retryable, tc.status, tc.retryable)
			}
		})
	}
}

func TestCountTokens(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":countTokens") {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"totalTokens": 99}`)
	})
	g := New("test-key", "gemini-2.0-flash")

	n, err := g.CountTokens(context.Background(), []hashiru.ModelContent{
		{Role: hashiru.ContentRoleUser, Parts: []hashiru.Part{hashiru.TextPart("hi")}},
	})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if n != 99 {
		t.Errorf("CountTokens = %d, want 99", n)
	}
}

func TestEncodeContentsToolRoleBecomesUser(t *testing.T) {
	contents, err := encodeContents([]hashiru.ModelContent{
		{
			Role: hashiru.ContentRoleTool,
			Parts: []hashiru.Part{
				hashiru.ResponsePart("Adder", hashiru.SuccessResult("added", 5)),
			},
		},
	})
	if err != nil {
		t.Fatalf("encodeContents: %v", err)
	}
	if contents[0]["role"] != "user" {
		t.Errorf("role = %v, want user", contents[0]["role"])
	}
	parts := contents[0]["parts"].([]map[string]any)
	if _, ok := parts[0]["functionResponse"]; !ok {
		t.Errorf("parts = %v", parts)
	}
}

func TestParseStreamChunkSkipsThoughts(t *testing.T) {
	chunk, _ := parseStreamChunk(
		`{"candidates":[{"content":{"parts":[{"text":"secret","thought":true},{"text":"visible"}]}}]}`)
	if chunk.Text != "visible" {
		t.Errorf("Text = %q, want visible", chunk.Text)
	}
}

func TestEmbed(t *testing.T) {
	var requests int
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if !strings.Contains(r.URL.Path, ":embedContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &body); err != nil {
			t.Errorf("embed body: %v", err)
		}
		if body["outputDimensionality"] != float64(3) {
			t.Errorf("outputDimensionality = %v", body["outputDimensionality"])
		}
		fmt.Fprintf(w, `{"embedding":{"values":[%d,0,0]}}`, requests)
	})
	e := NewEmbedding("test-key", "gemini-embedding-001", 3)

	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("vectors = %d, want 2", len(vecs))
	}
	// One request per text, vectors in input order.
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("vectors out of order: %v", vecs)
	}
	if e.Dimensions() != 3 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}
}

func TestEmbedErrorStatus(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	e := NewEmbedding("test-key", "gemini-embedding-001", 3)

	_, err := e.Embed(context.Background(), []string{"text"})
	var be *hashiru.ErrBackend
	if !errors.As(err, &be) || !be.Retryable {
		t.Fatalf("expected retryable *ErrBackend, got %v", err)
	}
}

func TestAgentAsk(t *testing.T) {
	var body map[string]any
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &body); err != nil {
			t.Errorf("ask body: %v", err)
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"the reasoning","thought":true},{"text":"The answer "},{"text":"is 4."}]}}]}`)
	})
	a := NewAgent("test-key", "gemini-2.0-flash-lite", "You are a math tutor.")

	reply, err := a.Ask(context.Background(), "what is two plus two?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != "The answer is 4." {
		t.Errorf("reply = %q", reply)
	}
	if _, ok := body["systemInstruction"]; !ok {
		t.Error("systemInstruction missing from agent request")
	}
	if err := a.Drop(context.Background()); err != nil {
		t.Errorf("Drop: %v", err)
	}
}
