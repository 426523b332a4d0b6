package hashiru

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// streamScript is one scripted backend round: the chunks to deliver, then
// the result and error to return.
type streamScript struct {
	chunks []Chunk
	result StreamResult
	err    error
}

// scriptBackend replays a fixed sequence of stream rounds and records every
// request it sees.
type scriptBackend struct {
	mu        sync.Mutex
	scripts   []streamScript
	calls     int
	requests  []StreamRequest
	tokens    int
	tokenErrs []error
}

var _ ChatBackend = (*scriptBackend)(nil)

func (b *scriptBackend) Name() string { return "script" }

func (b *scriptBackend) Stream(ctx context.Context, req StreamRequest, ch chan<- Chunk) (StreamResult, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	i := b.calls
	b.calls++
	b.mu.Unlock()

	defer close(ch)
	if i >= len(b.scripts) {
		return StreamResult{}, fmt.Errorf("unscripted stream round %d", i)
	}
	s := b.scripts[i]
	for _, c := range s.chunks {
		select {
		case ch <- c:
		case <-ctx.Done():
			return StreamResult{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func (b *scriptBackend) CountTokens(context.Context, []ModelContent) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.tokenErrs) > 0 {
		err := b.tokenErrs[0]
		b.tokenErrs = b.tokenErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	return b.tokens, nil
}

func (b *scriptBackend) streamCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// stubRunner serves manifests and results keyed by source path and records
// dependency installs.
type stubRunner struct {
	mu          sync.Mutex
	manifests   map[string]ToolManifest
	describeErr map[string]error
	results     map[string]ToolResult
	runErr      map[string]error
	installErr  map[string]error
	installs    []string
}

var _ ToolRunner = (*stubRunner)(nil)

func (r *stubRunner) Describe(_ context.Context, path string) (ToolManifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.describeErr[path]; err != nil {
		return ToolManifest{}, err
	}
	m, ok := r.manifests[path]
	if !ok {
		return ToolManifest{}, fmt.Errorf("no manifest for %s", path)
	}
	return m, nil
}

func (r *stubRunner) Run(_ context.Context, path string, _ json.RawMessage) (ToolResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.runErr[path]; err != nil {
		return ToolResult{}, err
	}
	return r.results[path], nil
}

func (r *stubRunner) Install(_ context.Context, pkg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installs = append(r.installs, pkg)
	return r.installErr[pkg]
}

func (r *stubRunner) installed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.installs...)
}

// stubEmbedding returns fixed vectors keyed by input text. Unknown texts
// embed to the zero vector.
type stubEmbedding struct {
	dims int
	vecs map[string][]float32
	err  error
}

var _ EmbeddingProvider = (*stubEmbedding)(nil)

func (e *stubEmbedding) Name() string    { return "stub" }
func (e *stubEmbedding) Dimensions() int { return e.dims }

func (e *stubEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.vecs[t]; ok {
			out[i] = v
		} else {
			out[i] = make([]float32, e.dims)
		}
	}
	return out, nil
}

// stubAgentBackend records asks and drops.
type stubAgentBackend struct {
	mu      sync.Mutex
	reply   string
	askErr  error
	dropErr error
	asks    []string
	drops   int
}

var _ AgentBackend = (*stubAgentBackend)(nil)

func (b *stubAgentBackend) Name() string { return "stub" }

func (b *stubAgentBackend) Ask(_ context.Context, prompt string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.asks = append(b.asks, prompt)
	if b.askErr != nil {
		return "", b.askErr
	}
	return b.reply, nil
}

func (b *stubAgentBackend) Drop(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drops++
	return b.dropErr
}

// stubAgentFactory constructs stubAgentBackends and remembers them by agent
// name so tests can inspect calls.
type stubAgentFactory struct {
	mu    sync.Mutex
	err   error
	reply string
	made  map[string]*stubAgentBackend
}

func newStubAgentFactory(reply string) *stubAgentFactory {
	return &stubAgentFactory{reply: reply, made: make(map[string]*stubAgentBackend)}
}

func (f *stubAgentFactory) factory() AgentBackendFactory {
	return func(desc AgentDescriptor, _ AgentType) (AgentBackend, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.err != nil {
			return nil, f.err
		}
		b := &stubAgentBackend{reply: f.reply}
		f.made[desc.Name] = b
		return b, nil
	}
}

func (f *stubAgentFactory) backend(name string) *stubAgentBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made[name]
}

// echoTool builds a built-in that records its arguments and returns a fixed
// result.
func echoTool(name string, result ToolResult) (*FuncTool, *[]json.RawMessage) {
	var calls []json.RawMessage
	t := &FuncTool{
		Def: ToolDefinition{
			Name:        name,
			Description: name + " test tool",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		},
		Fn: func(_ context.Context, args json.RawMessage) (ToolResult, error) {
			calls = append(calls, append(json.RawMessage(nil), args...))
			return result, nil
		},
	}
	return t, &calls
}
