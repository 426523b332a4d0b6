package hashiru

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Orchestrator defaults.
const (
	defaultTemperature     = 0.2
	defaultMaxDepth        = 25
	defaultMemoryTopK      = 5
	defaultMemoryThreshold = 0.1
	defaultInputRate       = 0.10 / 1e6 // dollars per input token
	defaultOutputRate      = 0.40 / 1e6 // dollars per output word
)

// memoriesPrefix introduces retrieved memories when replayed as user text.
const memoriesPrefix = "Here are the relevant memories for the user's query:\n"

// Orchestrator drives the turn loop: it formats history for the backend,
// streams the manager model's output, dispatches function calls through the
// registries, appends the responses, and recurses until a round produces no
// calls. Each state change is published on the caller's snapshot channel.
type Orchestrator struct {
	backend ChatBackend
	tools   *ToolRegistry
	agents  *AgentRegistry

	mu        sync.Mutex
	modes     ModeSet
	budget    *BudgetController
	retriever *MemoryRetriever

	systemPrompt    string
	temperature     float64
	maxDepth        int
	memoryTopK      int
	memoryThreshold float32
	inputRate       float64
	outputRate      float64

	logger *slog.Logger
	tracer Tracer
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMemoryRetriever enables memory injection via r.
func WithMemoryRetriever(r *MemoryRetriever) OrchestratorOption {
	return func(o *Orchestrator) { o.retriever = r }
}

// WithBudget sets the budget controller charged for manager-model usage and
// toggled by SetModes.
func WithBudget(b *BudgetController) OrchestratorOption {
	return func(o *Orchestrator) { o.budget = b }
}

// WithSystemPrompt sets the manager model's system prompt.
func WithSystemPrompt(prompt string) OrchestratorOption {
	return func(o *Orchestrator) { o.systemPrompt = prompt }
}

// WithTemperature overrides the sampling temperature (default 0.2).
func WithTemperature(t float64) OrchestratorOption {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithMaxDepth bounds consecutive tool rounds within one Run (default 25).
func WithMaxDepth(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.maxDepth = n }
}

// WithRates overrides the manager-model expense rates: dollars per input
// token and dollars per output word.
func WithRates(input, output float64) OrchestratorOption {
	return func(o *Orchestrator) {
		o.inputRate = input
		o.outputRate = output
	}
}

// WithModes sets the initial mode flags. SetModes propagates later changes.
func WithModes(modes ModeSet) OrchestratorOption {
	return func(o *Orchestrator) { o.modes = modes.Clone() }
}

// WithOrchestratorLogger sets the structured logger for turn events.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithOrchestratorTracer sets the tracer for turn and dispatch spans.
func WithOrchestratorTracer(t Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// NewOrchestrator creates an orchestrator over backend, dispatching calls
// through tools (agent-control tools route to agents internally).
func NewOrchestrator(backend ChatBackend, tools *ToolRegistry, agents *AgentRegistry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		backend:         backend,
		tools:           tools,
		agents:          agents,
		modes:           NewModeSet(AllModes...),
		temperature:     defaultTemperature,
		maxDepth:        defaultMaxDepth,
		memoryTopK:      defaultMemoryTopK,
		memoryThreshold: defaultMemoryThreshold,
		inputRate:       defaultInputRate,
		outputRate:      defaultOutputRate,
		logger:          nopLogger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetModes atomically replaces the mode flags and writes them through to
// the budget controller and both registries. In-flight dispatches keep the
// flags they were admitted under.
func (o *Orchestrator) SetModes(modes ModeSet) {
	o.mu.Lock()
	o.modes = modes.Clone()
	budget := o.budget
	o.mu.Unlock()

	if budget != nil {
		budget.SetResourceEnabled(modes.Enabled(ModeResourceBudget))
		budget.SetExpenseEnabled(modes.Enabled(ModeEconomyBudget))
	}
	o.tools.SetModes(modes)
	o.agents.SetModes(modes)
}

// Modes returns a copy of the current mode flags.
func (o *Orchestrator) Modes() ModeSet {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.modes.Clone()
}

// Run executes one user turn: it takes the conversation so far and returns
// it extended with everything this turn produced. Every state change is
// published on ch as a conversation snapshot; ch may be nil for blocking
// use and is closed exactly once on return.
func (o *Orchestrator) Run(ctx context.Context, conv []Message, ch chan<- Snapshot) ([]Message, error) {
	if ch != nil {
		defer close(ch)
	}
	if o.tracer != nil {
		var span Span
		ctx, span = o.tracer.Start(ctx, "orchestrator.run",
			IntAttr("messages", len(conv)))
		defer span.End()
	}

	emit := func(snapshot []Message) {
		if ch == nil {
			return
		}
		select {
		case ch <- CloneConversation(snapshot):
		case <-ctx.Done():
		}
	}

	for depth := 0; depth < o.maxDepth; depth++ {
		conv = o.injectMemories(ctx, conv, emit)

		history, err := o.formatHistory(conv)
		if err != nil {
			conv = append(conv, errorBubble(err))
			emit(conv)
			return conv, err
		}

		o.chargeInput(ctx, history)

		result, err := o.streamRound(ctx, conv, history, emit)
		if err != nil {
			conv = append(conv, errorBubble(err))
			emit(conv)
			return conv, err
		}
		o.chargeOutput(result.Text)

		if result.Text != "" {
			conv = append(conv, AssistantMessage(result.Text))
			emit(conv)
		}
		for _, raw := range result.Raw {
			if !hasCalls(raw) {
				continue
			}
			msg, err := FunctionCallMessage(raw)
			if err != nil {
				conv = append(conv, errorBubble(err))
				emit(conv)
				return conv, err
			}
			conv = append(conv, msg)
		}
		if len(result.Calls) == 0 {
			if result.Text == "" {
				conv = append(conv, AssistantMessage("No response from the model."))
			}
			emit(conv)
			return conv, nil
		}
		emit(conv)

		conv, err = o.dispatchCalls(ctx, conv, result.Calls, emit)
		if err != nil {
			return conv, err
		}
	}

	err := fmt.Errorf("stopped after %d consecutive tool rounds", o.maxDepth)
	conv = append(conv, errorBubble(err))
	emit(conv)
	return conv, err
}

// injectMemories prepends retrieved memories when memory mode is on and the
// turn is user-initiated (the last message is not a tool response).
func (o *Orchestrator) injectMemories(ctx context.Context, conv []Message, emit func([]Message)) []Message {
	o.mu.Lock()
	enabled := o.modes.Enabled(ModeMemory)
	o.mu.Unlock()
	if !enabled || o.retriever == nil || len(conv) == 0 {
		return conv
	}
	if conv[len(conv)-1].Role == RoleTool {
		return conv
	}
	query := lastSpokenContent(conv)
	if query == "" {
		return conv
	}

	scored := o.retriever.TopK(ctx, query, o.memoryTopK, o.memoryThreshold)
	if len(scored) == 0 {
		return conv
	}
	records := make([]MemoryRecord, len(scored))
	for i, s := range scored {
		records[i] = s.MemoryRecord
	}
	memMsg, err := MemoriesMessage(records)
	if err != nil {
		o.logger.Warn("memory injection failed", "error", err)
		return conv
	}
	conv = append(conv, memMsg)
	conv = append(conv, ThinkingMessage("Memories", memMsg.Content, NewID(), StatusDone))
	emit(conv)
	return conv
}

// chargeInput counts the history's tokens and charges the input rate.
// Counting failures degrade to an uncharged round.
func (o *Orchestrator) chargeInput(ctx context.Context, history []ModelContent) {
	if o.budget == nil {
		return
	}
	tokens, err := o.backend.CountTokens(ctx, history)
	if err != nil {
		o.logger.Warn("token count failed, skipping input charge", "error", err)
		return
	}
	if err := o.budget.Reserve(0, o.inputRate*float64(tokens)); err != nil {
		o.logger.Warn("input charge exceeded expense budget", "tokens", tokens, "error", err)
	}
}

// chargeOutput charges the output rate against the streamed text's word
// count. The text was already produced, so an overdraft only logs.
func (o *Orchestrator) chargeOutput(text string) {
	if o.budget == nil || text == "" {
		return
	}
	charge := o.outputRate * float64(len(strings.Fields(text)))
	if err := o.budget.Reserve(0, charge); err != nil {
		o.logger.Warn("output charge exceeded expense budget", "error", err)
	}
}

// streamRound performs one backend round trip, emitting a partial assistant
// message after every non-empty text chunk.
func (o *Orchestrator) streamRound(ctx context.Context, conv []Message, history []ModelContent, emit func([]Message)) (StreamResult, error) {
	req := StreamRequest{
		History:      history,
		Tools:        o.tools.Schemas(),
		SystemPrompt: o.systemPrompt,
		Temperature:  o.temperature,
	}

	chunks := make(chan Chunk)
	type outcome struct {
		result StreamResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := o.backend.Stream(ctx, req, chunks)
		done <- outcome{result, err}
	}()

	var fullText string
	for c := range chunks {
		if c.Text != "" {
			fullText += c.Text
			emit(append(CloneConversation(conv), AssistantMessage(fullText)))
		}
	}
	out := <-done
	return out.result, out.err
}

// dispatchCalls executes a round's function calls sequentially, in order,
// and commits one tool message carrying all responses. Cancellation after
// the function_call messages were committed synthesizes error responses for
// the outstanding calls so no call is left unanswered.
func (o *Orchestrator) dispatchCalls(ctx context.Context, conv []Message, calls []FunctionCall, emit func([]Message)) ([]Message, error) {
	responses := make([]FunctionResponse, 0, len(calls))

	finish := func(conv []Message) ([]Message, error) {
		msg, err := ToolMessage(responses)
		if err != nil {
			conv = append(conv, errorBubble(err))
			emit(conv)
			return conv, err
		}
		conv = append(conv, msg)
		emit(conv)
		return conv, nil
	}

	for i, call := range calls {
		if ctx.Err() != nil {
			for _, rest := range calls[i:] {
				responses = append(responses, FunctionResponse{
					Name:     rest.Name,
					Response: ErrorResult("cancelled before dispatch"),
				})
			}
			conv, _ = finish(conv)
			return conv, ctx.Err()
		}

		id := NewID()
		conv = append(conv, ThinkingMessage(
			fmt.Sprintf("Invoking `%s`", call.Name), string(call.Args), id, StatusPending))
		emit(conv)

		result := o.dispatchOne(ctx, call)

		if call.Name == ToolNameCreator || call.Name == ToolNameDeletor {
			healed := o.tools.HealAuthoredFailures(ctx)
			if call.Name == ToolNameCreator && len(healed) > 0 {
				result = healed[0]
			}
		}

		encoded, err := json.Marshal(result)
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", result))
		}
		conv = append(conv, ThinkingMessage(
			fmt.Sprintf("Invoking `%s`", call.Name), string(encoded), id, StatusDone))
		emit(conv)

		responses = append(responses, FunctionResponse{Name: call.Name, Response: result})
	}
	conv, err := finish(conv)
	if err != nil {
		return conv, err
	}
	return conv, nil
}

// dispatchOne routes a single call through the tool registry, converting
// gating errors into error results the model can react to.
func (o *Orchestrator) dispatchOne(ctx context.Context, call FunctionCall) ToolResult {
	if o.tracer != nil {
		var span Span
		ctx, span = o.tracer.Start(ctx, "orchestrator.dispatch",
			StringAttr("tool", call.Name))
		defer span.End()
	}
	result, err := o.tools.Run(ctx, call.Name, call.Args)
	if err != nil {
		o.logger.Warn("dispatch rejected", "tool", call.Name, "error", err)
		return ErrorResult("%v", err)
	}
	return result
}

// formatHistory maps the conversation to backend-neutral content blocks.
// Assistant messages carrying metadata are UI-only bubbles and are skipped.
func (o *Orchestrator) formatHistory(conv []Message) ([]ModelContent, error) {
	out := make([]ModelContent, 0, len(conv))
	for _, m := range conv {
		switch m.Role {
		case RoleUser:
			parts := []Part{TextPart(m.Content)}
			if m.File != "" {
				bp, err := loadFilePart(m.File)
				if err != nil {
					o.logger.Warn("dropping unreadable attachment", "file", m.File, "error", err)
				} else {
					parts = append(parts, Part{Bytes: bp})
				}
			}
			out = append(out, ModelContent{Role: ContentRoleUser, Parts: parts})
		case RoleMemories:
			out = append(out, ModelContent{
				Role:  ContentRoleUser,
				Parts: []Part{TextPart(memoriesPrefix + m.Content)},
			})
		case RoleTool, RoleFunctionCall:
			c, err := DecodeContent(m.Content)
			if err != nil {
				return nil, fmt.Errorf("replay %s message: %w", m.Role, err)
			}
			out = append(out, c)
		default:
			if m.Metadata != nil {
				continue
			}
			out = append(out, ModelContent{Role: ContentRoleModel, Parts: []Part{TextPart(m.Content)}})
		}
	}
	return out, nil
}

// lastSpokenContent returns the content of the most recent user or
// assistant message that is not a UI bubble.
func lastSpokenContent(conv []Message) string {
	for i := len(conv) - 1; i >= 0; i-- {
		m := conv[i]
		if m.Metadata != nil {
			continue
		}
		if m.Role == RoleUser || m.Role == RoleAssistant {
			return m.Content
		}
	}
	return ""
}

// errorBubble builds the assistant message shown when a turn dies on a
// plumbing error (as opposed to a tool error the model can react to).
func errorBubble(err error) Message {
	return ThinkingMessage("Error generating response", err.Error(), NewID(), StatusDone)
}

// hasCalls reports whether a content block carries any function-call part.
func hasCalls(c ModelContent) bool {
	for _, p := range c.Parts {
		if p.FunctionCall != nil {
			return true
		}
	}
	return false
}

// loadFilePart reads an attachment and detects its MIME type, preferring
// the extension and falling back to content sniffing.
func loadFilePart(path string) (*BytesPart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	return &BytesPart{MIME: mt, Data: data}, nil
}
