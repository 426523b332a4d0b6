package hashiru

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// AgentType classifies where an agent's model runs. Local agents execute on
// the host daemon; cloud agents call a remote provider.
type AgentType string

const (
	AgentLocal AgentType = "local"
	AgentCloud AgentType = "cloud"
)

// ResolveAgentType derives the agent type from a base model identifier.
// Unknown families fail with *ErrUnsupportedModel.
func ResolveAgentType(baseModel string) (AgentType, error) {
	lower := strings.ToLower(baseModel)
	switch {
	case strings.HasPrefix(lower, "llama"),
		strings.HasPrefix(lower, "mistral"),
		strings.HasPrefix(lower, "deepseek"):
		return AgentLocal, nil
	case strings.Contains(lower, "gemini"):
		return AgentCloud, nil
	case strings.Contains(lower, "groq"):
		return AgentCloud, nil
	}
	return "", &ErrUnsupportedModel{BaseModel: baseModel}
}

// AgentDescriptor is the persisted definition of one sub-agent. The catalog
// file is an object keyed by agent name, so Name is not serialized inside
// the entry.
type AgentDescriptor struct {
	Name               string  `json:"-"`
	BaseModel          string  `json:"base_model"`
	SystemPrompt       string  `json:"system_prompt"`
	Description        string  `json:"description"`
	CreateResourceCost float64 `json:"create_resource_cost"`
	InvokeResourceCost float64 `json:"invoke_resource_cost"`
	CreateExpenseCost  float64 `json:"create_expense_cost"`
	InvokeExpenseCost  float64 `json:"invoke_expense_cost"`
	OutputExpenseCost  float64 `json:"output_expense_cost"`
}

// AskReply is the outcome of one delegated prompt: the agent's text plus
// the budgets remaining after charging the invocation.
type AskReply struct {
	Response          string  `json:"response"`
	RemainingResource float64 `json:"remaining_resource_budget"`
	RemainingExpense  float64 `json:"remaining_expense_budget"`
}

// AgentBackendFactory constructs the provider-specific backend for a
// descriptor. provider/resolve supplies the production implementation.
type AgentBackendFactory func(desc AgentDescriptor, typ AgentType) (AgentBackend, error)

// agentInstance is a live agent: descriptor, resolved type, and backend.
type agentInstance struct {
	desc    AgentDescriptor
	typ     AgentType
	backend AgentBackend
}

// AgentRegistry creates, invokes, and deletes named sub-agents, persisting
// their descriptors in a JSON catalog keyed by name. Catalog entries whose
// backend fails to construct at startup stay on disk but are not live;
// rewrites preserve them, along with any fields this version does not know.
type AgentRegistry struct {
	mu      sync.Mutex
	agents  map[string]*agentInstance
	catalog map[string]map[string]json.RawMessage // every on-disk entry, live or not
	modes   ModeSet

	catalogPath string
	factory     AgentBackendFactory
	budget      *BudgetController
	logger      *slog.Logger
}

// AgentRegistryOption configures an AgentRegistry.
type AgentRegistryOption func(*AgentRegistry)

// WithAgentLogger sets the structured logger for registry events.
func WithAgentLogger(l *slog.Logger) AgentRegistryOption {
	return func(r *AgentRegistry) { r.logger = l }
}

// WithAgentModes sets the initial mode flags.
func WithAgentModes(modes ModeSet) AgentRegistryOption {
	return func(r *AgentRegistry) { r.modes = modes.Clone() }
}

// NewAgentRegistry creates a registry persisting to catalogPath and
// charging costs against budget.
func NewAgentRegistry(catalogPath string, factory AgentBackendFactory, budget *BudgetController, opts ...AgentRegistryOption) *AgentRegistry {
	r := &AgentRegistry{
		agents:      make(map[string]*agentInstance),
		catalog:     make(map[string]map[string]json.RawMessage),
		modes:       NewModeSet(AllModes...),
		catalogPath: catalogPath,
		factory:     factory,
		budget:      budget,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetModes replaces the mode flags.
func (r *AgentRegistry) SetModes(modes ModeSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = modes.Clone()
}

// LoadCatalog reads the catalog file and reconstructs a live agent per
// entry, re-reserving its create-time resource cost so restored agents
// occupy budget exactly as freshly created ones do. An entry whose backend
// fails to construct, or whose reservation no longer fits, is logged and
// skipped; it remains on disk for a later process to retry. A missing file
// is an empty catalog.
func (r *AgentRegistry) LoadCatalog(ctx context.Context) error {
	data, err := os.ReadFile(r.catalogPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read agent catalog: %w", err)
	}
	var entries map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse agent catalog: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog = entries
	for name, raw := range entries {
		desc, err := decodeCatalogEntry(name, raw)
		if err != nil {
			r.logger.Warn("skipping agent with malformed entry", "agent", name, "error", err)
			continue
		}
		if err := r.budget.Reserve(desc.CreateResourceCost, 0); err != nil {
			r.logger.Warn("skipping agent that no longer fits the resource budget",
				"agent", name, "create_resource_cost", desc.CreateResourceCost, "error", err)
			continue
		}
		inst, err := r.instantiate(desc)
		if err != nil {
			if rerr := r.budget.RefundResource(desc.CreateResourceCost); rerr != nil {
				r.logger.Error("refund after failed restore", "agent", name, "error", rerr)
			}
			r.logger.Warn("skipping agent whose backend failed to construct",
				"agent", name, "base_model", desc.BaseModel, "error", err)
			continue
		}
		r.agents[name] = inst
		r.logger.Info("restored agent", "agent", name, "base_model", desc.BaseModel, "type", inst.typ)
	}
	return nil
}

// Create admits, constructs, and persists a new agent.
func (r *AgentRegistry) Create(ctx context.Context, desc AgentDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.modes.Enabled(ModeAgentCreation) {
		return &ErrModeDisabled{Mode: ModeAgentCreation}
	}
	if _, ok := r.catalog[desc.Name]; ok {
		return &ErrAgentExists{Name: desc.Name}
	}
	if err := r.budget.Reserve(desc.CreateResourceCost, desc.CreateExpenseCost); err != nil {
		return err
	}
	inst, err := r.instantiate(desc)
	if err != nil {
		if rerr := r.budget.RefundResource(desc.CreateResourceCost); rerr != nil {
			r.logger.Error("refund after failed construction", "agent", desc.Name, "error", rerr)
		}
		return err
	}

	entry, err := encodeCatalogEntry(desc, nil)
	if err != nil {
		if rerr := r.budget.RefundResource(desc.CreateResourceCost); rerr != nil {
			r.logger.Error("refund after failed encode", "agent", desc.Name, "error", rerr)
		}
		return err
	}
	r.catalog[desc.Name] = entry
	r.agents[desc.Name] = inst
	if err := r.writeCatalogLocked(); err != nil {
		// Nothing reached disk; undo the admission so a retry can succeed.
		delete(r.catalog, desc.Name)
		delete(r.agents, desc.Name)
		if rerr := r.budget.RefundResource(desc.CreateResourceCost); rerr != nil {
			r.logger.Error("refund after failed persist", "agent", desc.Name, "error", rerr)
		}
		return err
	}
	r.logger.Info("created agent", "agent", desc.Name, "base_model", desc.BaseModel, "type", inst.typ)
	return nil
}

// Ask delegates a prompt to an agent and charges the invocation: the flat
// invoke resource cost plus invoke_expense_cost scaled by the input token
// estimate before the call, and output_expense_cost scaled by the output
// estimate after. Token estimates are word counts over one million.
func (r *AgentRegistry) Ask(ctx context.Context, name, prompt string) (AskReply, error) {
	r.mu.Lock()
	inst, ok := r.agents[name]
	modes := r.modes
	r.mu.Unlock()
	if !ok {
		return AskReply{}, &ErrAgentNotFound{Name: name}
	}

	switch inst.typ {
	case AgentLocal:
		if !modes.Enabled(ModeLocalAgents) {
			return AskReply{}, &ErrModeDisabled{Mode: ModeLocalAgents}
		}
	case AgentCloud:
		if !modes.Enabled(ModeCloudAgents) {
			return AskReply{}, &ErrModeDisabled{Mode: ModeCloudAgents}
		}
	}

	inputTokens := wordTokens(prompt)
	resourceCost := 0.0
	if inst.typ == AgentLocal {
		resourceCost = inst.desc.InvokeResourceCost
	}
	if err := r.budget.Reserve(resourceCost, inst.desc.InvokeExpenseCost*inputTokens); err != nil {
		return AskReply{}, err
	}

	text, err := inst.backend.Ask(ctx, prompt)
	if err != nil {
		return AskReply{}, err
	}

	outputCharge := inst.desc.OutputExpenseCost * wordTokens(text)
	if err := r.budget.Reserve(0, outputCharge); err != nil {
		// The reply was already produced; record the overdraft and return it.
		r.logger.Warn("output charge exceeded expense budget", "agent", name, "error", err)
	}
	return AskReply{
		Response:          text,
		RemainingResource: r.budget.RemainingResource(),
		RemainingExpense:  r.budget.RemainingExpense(),
	}, nil
}

// Delete drops the agent's backend state, refunds its create-time resource
// reservation, and removes it from the catalog. Expense is never refunded.
func (r *AgentRegistry) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, live := r.agents[name]
	if _, ok := r.catalog[name]; !ok && !live {
		return &ErrAgentNotFound{Name: name}
	}
	if live {
		if err := inst.backend.Drop(ctx); err != nil {
			r.logger.Warn("backend drop failed", "agent", name, "error", err)
		}
		if err := r.budget.RefundResource(inst.desc.CreateResourceCost); err != nil {
			r.logger.Error("refund on delete failed", "agent", name, "error", err)
		}
	}
	delete(r.agents, name)
	delete(r.catalog, name)
	if err := r.writeCatalogLocked(); err != nil {
		return err
	}
	r.logger.Info("deleted agent", "agent", name)
	return nil
}

// List returns the descriptors of every catalog entry, live or not, sorted
// by name.
func (r *AgentRegistry) List() []AgentDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.catalog))
	for name := range r.catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]AgentDescriptor, 0, len(names))
	for _, name := range names {
		desc, err := decodeCatalogEntry(name, r.catalog[name])
		if err != nil {
			continue
		}
		out = append(out, desc)
	}
	return out
}

// Has reports whether an agent exists in the catalog.
func (r *AgentRegistry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.catalog[name]
	return ok
}

func (r *AgentRegistry) instantiate(desc AgentDescriptor) (*agentInstance, error) {
	typ, err := ResolveAgentType(desc.BaseModel)
	if err != nil {
		return nil, err
	}
	backend, err := r.factory(desc, typ)
	if err != nil {
		return nil, err
	}
	return &agentInstance{desc: desc, typ: typ, backend: backend}, nil
}

func (r *AgentRegistry) writeCatalogLocked() error {
	data, err := json.MarshalIndent(r.catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("encode agent catalog: %w", err)
	}
	return atomicWriteFile(r.catalogPath, data)
}

// decodeCatalogEntry extracts the known descriptor fields from a raw entry.
func decodeCatalogEntry(name string, raw map[string]json.RawMessage) (AgentDescriptor, error) {
	blob, err := json.Marshal(raw)
	if err != nil {
		return AgentDescriptor{}, err
	}
	var desc AgentDescriptor
	if err := json.Unmarshal(blob, &desc); err != nil {
		return AgentDescriptor{}, err
	}
	desc.Name = name
	return desc, nil
}

// encodeCatalogEntry overlays the descriptor's known fields onto an
// existing raw entry so fields this version does not model survive rewrite.
func encodeCatalogEntry(desc AgentDescriptor, prev map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	blob, err := json.Marshal(desc)
	if err != nil {
		return nil, err
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(blob, &known); err != nil {
		return nil, err
	}
	entry := make(map[string]json.RawMessage, len(prev)+len(known))
	for k, v := range prev {
		entry[k] = v
	}
	for k, v := range known {
		entry[k] = v
	}
	return entry, nil
}

// wordTokens is the whitespace-word token estimate scaled to millions.
func wordTokens(s string) float64 {
	return float64(len(strings.Fields(s))) / 1e6
}
