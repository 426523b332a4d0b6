package observer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockBackend for observer tests.
type mockBackend struct {
	name   string
	result hashiru.StreamResult
	err    error
	tokens int
}

func (m *mockBackend) Name() string { return m.name }
func (m *mockBackend) Stream(_ context.Context, _ hashiru.StreamRequest, ch chan<- hashiru.Chunk) (hashiru.StreamResult, error) {
	ch <- hashiru.Chunk{Text: "hello"}
	ch <- hashiru.Chunk{Text: " world"}
	close(ch)
	return m.result, m.err
}
func (m *mockBackend) CountTokens(_ context.Context, _ []hashiru.ModelContent) (int, error) {
	return m.tokens, m.err
}

// mockRunner for observer tests.
type mockRunner struct {
	manifest hashiru.ToolManifest
	result   hashiru.ToolResult
	err      error
}

func (m *mockRunner) Describe(_ context.Context, _ string) (hashiru.ToolManifest, error) {
	return m.manifest, m.err
}
func (m *mockRunner) Run(_ context.Context, _ string, _ json.RawMessage) (hashiru.ToolResult, error) {
	return m.result, m.err
}
func (m *mockRunner) Install(_ context.Context, _ string) error { return m.err }

// mockEmbedding for observer tests.
type mockEmbedding struct {
	name string
	dims int
	vecs [][]float32
	err  error
}

func (m *mockEmbedding) Name() string    { return m.name }
func (m *mockEmbedding) Dimensions() int { return m.dims }
func (m *mockEmbedding) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return m.vecs, m.err
}

// mockAgentBackend for observer tests.
type mockAgentBackend struct {
	name  string
	reply string
	err   error
}

func (m *mockAgentBackend) Name() string { return m.name }
func (m *mockAgentBackend) Ask(_ context.Context, _ string) (string, error) {
	return m.reply, m.err
}
func (m *mockAgentBackend) Drop(_ context.Context) error { return m.err }

// testInstruments creates a no-op Instruments using the global OTEL providers
// (which are no-ops by default). This is safe for testing delegation behavior
// without any real OTEL backend.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

// ---------------------------------------------------------------------------
// ObservedBackend tests
// ---------------------------------------------------------------------------

func TestObservedBackendName(t *testing.T) {
	inner := &mockBackend{name: "test-backend"}
	ob := WrapBackend(inner, "test-model", testInstruments(t))

	if got := ob.Name(); got != "test-backend" {
		t.Errorf("Name() = %q, want %q", got, "test-backend")
	}
}

func TestObservedBackendStream(t *testing.T) {
	want := hashiru.StreamResult{
		Text:  "hello world",
		Usage: hashiru.Usage{InputTokens: 10, OutputTokens: 5},
	}
	inner := &mockBackend{name: "b", result: want}
	ob := WrapBackend(inner, "m", testInstruments(t))

	ch := make(chan hashiru.Chunk, 8)
	got, err := ob.Stream(context.Background(), hashiru.StreamRequest{}, ch)
	if err != nil {
		t.Fatalf("Stream returned unexpected error: %v", err)
	}
	if got.Text != want.Text {
		t.Errorf("Text = %q, want %q", got.Text, want.Text)
	}

	var chunks []hashiru.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 forwarded chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "hello" || chunks[1].Text != " world" {
		t.Errorf("chunks not forwarded in order: %+v", chunks)
	}
}

func TestObservedBackendStreamError(t *testing.T) {
	wantErr := errors.New("backend down")
	inner := &mockBackend{name: "b", err: wantErr}
	ob := WrapBackend(inner, "m", testInstruments(t))

	ch := make(chan hashiru.Chunk, 8)
	_, err := ob.Stream(context.Background(), hashiru.StreamRequest{}, ch)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected wrapped backend error passthrough, got %v", err)
	}
	// Channel must still be closed.
	for range ch {
	}
}

func TestObservedBackendCountTokens(t *testing.T) {
	inner := &mockBackend{name: "b", tokens: 42}
	ob := WrapBackend(inner, "m", testInstruments(t))

	n, err := ob.CountTokens(context.Background(), nil)
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if n != 42 {
		t.Errorf("CountTokens = %d, want 42", n)
	}
}

// ---------------------------------------------------------------------------
// ObservedRunner tests
// ---------------------------------------------------------------------------

func TestObservedRunnerRun(t *testing.T) {
	inner := &mockRunner{result: hashiru.SuccessResult("ok", 7)}
	or := WrapRunner(inner, testInstruments(t))

	got, err := or.Run(context.Background(), "/tools/Adder.py", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != hashiru.StatusSuccess || got.Message != "ok" {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestObservedRunnerError(t *testing.T) {
	wantErr := errors.New("interpreter crashed")
	inner := &mockRunner{err: wantErr}
	or := WrapRunner(inner, testInstruments(t))

	if _, err := or.Run(context.Background(), "/tools/Broken.py", nil); !errors.Is(err, wantErr) {
		t.Errorf("expected error passthrough, got %v", err)
	}
	if _, err := or.Describe(context.Background(), "/tools/Broken.py"); !errors.Is(err, wantErr) {
		t.Errorf("expected describe error passthrough, got %v", err)
	}
	if err := or.Install(context.Background(), "requests"); !errors.Is(err, wantErr) {
		t.Errorf("expected install error passthrough, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// ObservedEmbedding tests
// ---------------------------------------------------------------------------

func TestObservedEmbedding(t *testing.T) {
	inner := &mockEmbedding{name: "e", dims: 4, vecs: [][]float32{{1, 0, 0, 0}}}
	oe := WrapEmbedding(inner, "embed-model", testInstruments(t))

	if oe.Name() != "e" || oe.Dimensions() != 4 {
		t.Errorf("delegation broken: %s/%d", oe.Name(), oe.Dimensions())
	}
	vecs, err := oe.Embed(context.Background(), []string{"hi"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 4 {
		t.Errorf("unexpected vectors: %v", vecs)
	}
}

// ---------------------------------------------------------------------------
// ObservedAgent tests
// ---------------------------------------------------------------------------

func TestObservedAgentAsk(t *testing.T) {
	inner := &mockAgentBackend{name: "ollama", reply: "42"}
	oa := WrapAgent(inner, "math_helper", testInstruments(t))

	reply, err := oa.Ask(context.Background(), "what is 6*7?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != "42" {
		t.Errorf("reply = %q, want 42", reply)
	}
	if err := oa.Drop(context.Background()); err != nil {
		t.Errorf("Drop: %v", err)
	}
}

func TestWrapAgentFactory(t *testing.T) {
	inner := &mockAgentBackend{name: "ollama", reply: "42"}
	factory := WrapAgentFactory(func(desc hashiru.AgentDescriptor, typ hashiru.AgentType) (hashiru.AgentBackend, error) {
		return inner, nil
	}, testInstruments(t))

	backend, err := factory(hashiru.AgentDescriptor{Name: "math_helper", BaseModel: "llama3.2"}, hashiru.AgentLocal)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if _, ok := backend.(*ObservedAgent); !ok {
		t.Fatalf("backend = %T, want instrumented wrapper", backend)
	}
	reply, err := backend.Ask(context.Background(), "what is 6*7?")
	if err != nil || reply != "42" {
		t.Errorf("Ask = %q, %v", reply, err)
	}
}

func TestWrapAgentFactoryError(t *testing.T) {
	wantErr := errors.New("no route for model")
	factory := WrapAgentFactory(func(desc hashiru.AgentDescriptor, typ hashiru.AgentType) (hashiru.AgentBackend, error) {
		return nil, wantErr
	}, testInstruments(t))

	if _, err := factory(hashiru.AgentDescriptor{Name: "x"}, hashiru.AgentCloud); !errors.Is(err, wantErr) {
		t.Errorf("expected construction error passthrough, got %v", err)
	}
}

func TestObservedAgentAskError(t *testing.T) {
	wantErr := errors.New("model unreachable")
	inner := &mockAgentBackend{name: "ollama", err: wantErr}
	oa := WrapAgent(inner, "math_helper", testInstruments(t))

	if _, err := oa.Ask(context.Background(), "hi"); !errors.Is(err, wantErr) {
		t.Errorf("expected error passthrough, got %v", err)
	}
}
