package hashiru

import (
	"context"
	"encoding/json"
)

// Chunk is one increment of a streamed backend response: a text delta, one
// or more function-call parts, or both. Raw carries the backend's content
// block for replay as a function_call Message.
type Chunk struct {
	Text  string
	Calls []FunctionCall
	Raw   *ModelContent
}

// StreamRequest is the input to ChatBackend.Stream.
type StreamRequest struct {
	History      []ModelContent
	Tools        []ToolDefinition
	SystemPrompt string
	Temperature  float64
}

// StreamResult is the accumulated outcome of one streamed response.
type StreamResult struct {
	Text  string
	Calls []FunctionCall
	Raw   []ModelContent
	Usage Usage
}

// ChatBackend abstracts the manager model. Implementations stream chunks
// into ch and close it when the response completes (including on error).
// Failures are reported as *ErrBackend; retryable ones (429, 500, 503) are
// retried by the orchestrator unless chunks were already delivered.
type ChatBackend interface {
	Stream(ctx context.Context, req StreamRequest, ch chan<- Chunk) (StreamResult, error)
	// CountTokens returns the backend's token count for a history, used for
	// pre-stream expense accounting.
	CountTokens(ctx context.Context, history []ModelContent) (int, error)
	// Name returns the backend name (e.g. "gemini").
	Name() string
}

// AgentBackend is the non-streaming contract for sub-agent delegates.
type AgentBackend interface {
	// Ask sends a prompt and returns the complete reply.
	Ask(ctx context.Context, prompt string) (string, error)
	// Drop releases backend-side state for the agent (local model copies,
	// cached chats). Deleting an agent calls Drop before removing the
	// catalog entry.
	Drop(ctx context.Context) error
	// Name returns the provider name.
	Name() string
}

// EmbeddingProvider abstracts text embedding for memory retrieval.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// ToolManifest is the descriptor a runtime tool source declares: the
// sidecar's describe handshake returns one. It mirrors the inputSchema
// contract of the Python tool format.
type ToolManifest struct {
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Parameters         json.RawMessage `json:"parameters"`
	Dependencies       []string        `json:"dependencies,omitempty"`
	CreateResourceCost float64         `json:"create_resource_cost,omitempty"`
	InvokeResourceCost float64         `json:"invoke_resource_cost,omitempty"`
	CreateExpenseCost  float64         `json:"create_expense_cost,omitempty"`
	InvokeExpenseCost  float64         `json:"invoke_expense_cost,omitempty"`
}

// ToolRunner executes runtime-authored tool sources in an isolated
// interpreter. The sandbox package provides subprocess and container
// implementations.
type ToolRunner interface {
	// Describe loads the source's manifest without running the tool body.
	Describe(ctx context.Context, path string) (ToolManifest, error)
	// Run invokes the tool's run entry point with JSON arguments.
	Run(ctx context.Context, path string, args json.RawMessage) (ToolResult, error)
	// Install installs one declared dependency into the interpreter
	// environment. Best-effort: callers record the attempt either way.
	Install(ctx context.Context, pkg string) error
}
