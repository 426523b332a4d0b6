package agentctl

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

type fakeBackend struct {
	reply string
	asks  []string
}

func (f *fakeBackend) Ask(ctx context.Context, prompt string) (string, error) {
	f.asks = append(f.asks, prompt)
	return f.reply, nil
}

func (f *fakeBackend) Drop(ctx context.Context) error { return nil }
func (f *fakeBackend) Name() string                   { return "fake" }

func newRegistry(t *testing.T) (*hashiru.AgentRegistry, *hashiru.BudgetController) {
	t.Helper()
	budget := hashiru.NewBudgetController(
		hashiru.WithTotalResource(1000),
		hashiru.WithTotalExpense(100),
	)
	factory := func(desc hashiru.AgentDescriptor, typ hashiru.AgentType) (hashiru.AgentBackend, error) {
		return &fakeBackend{reply: "pong"}, nil
	}
	catalog := filepath.Join(t.TempDir(), "agents.json")
	return hashiru.NewAgentRegistry(catalog, factory, budget), budget
}

func execute(t *testing.T, tool hashiru.Tool, args string) hashiru.ToolResult {
	t.Helper()
	var raw json.RawMessage
	if args != "" {
		raw = json.RawMessage(args)
	}
	result, err := tool.Execute(context.Background(), raw)
	if err != nil {
		t.Fatalf("Execute(%s): %v", args, err)
	}
	return result
}

func createHelper(t *testing.T, registry *hashiru.AgentRegistry, name string) {
	t.Helper()
	result := execute(t, AgentCreator(registry),
		`{"agent_name":"`+name+`","base_model":"llama3.2","system_prompt":"help","description":"a helper"}`)
	if result.Status != hashiru.StatusSuccess {
		t.Fatalf("create %s: %+v", name, result)
	}
}

func TestAgentCreatorAppliesCatalogCosts(t *testing.T) {
	registry, budget := newRegistry(t)

	createHelper(t, registry, "helper")

	if !registry.Has("helper") {
		t.Error("agent not registered")
	}
	// llama3.2 carries a create resource cost of 10.
	if remaining := budget.RemainingResource(); remaining != 990 {
		t.Errorf("RemainingResource = %g, want 990", remaining)
	}
}

func TestAgentCreatorOutputShape(t *testing.T) {
	registry, _ := newRegistry(t)

	result := execute(t, AgentCreator(registry),
		`{"agent_name":"helper","base_model":"llama3.2","system_prompt":"help","description":"a helper"}`)
	if result.Message != "Agent successfully created" {
		t.Errorf("Message = %q", result.Message)
	}
	out, ok := result.Output.(map[string]string)
	if !ok || out["agent_name"] != "helper" || out["base_model"] != "llama3.2" {
		t.Errorf("Output = %v", result.Output)
	}
}

func TestAgentCreatorUnknownBaseModel(t *testing.T) {
	registry, budget := newRegistry(t)

	result := execute(t, AgentCreator(registry),
		`{"agent_name":"helper","base_model":"gpt-4","system_prompt":"help","description":"a helper"}`)
	if result.Status != hashiru.StatusError {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Message, "AgentCostManager") {
		t.Errorf("Message = %q, want a pointer to AgentCostManager", result.Message)
	}
	if registry.Has("helper") {
		t.Error("agent created despite unknown model")
	}
	if budget.RemainingResource() != 1000 {
		t.Error("budget charged despite rejection")
	}
}

func TestAgentCreatorWrapsRegistryFailure(t *testing.T) {
	registry, _ := newRegistry(t)
	createHelper(t, registry, "helper")

	result := execute(t, AgentCreator(registry),
		`{"agent_name":"helper","base_model":"llama3.2","system_prompt":"help","description":"a helper"}`)
	if result.Status != hashiru.StatusError || !strings.Contains(result.Message, "creating agent failed") {
		t.Errorf("result = %+v", result)
	}
}

func TestAskAgent(t *testing.T) {
	registry, _ := newRegistry(t)
	createHelper(t, registry, "helper")

	result := execute(t, AskAgent(registry), `{"agent_name":"helper","prompt":"ping"}`)
	if result.Status != hashiru.StatusSuccess {
		t.Fatalf("result = %+v", result)
	}
	if result.Message != "Agent has replied to the given prompt" {
		t.Errorf("Message = %q", result.Message)
	}
	reply, ok := result.Output.(hashiru.AskReply)
	if !ok || reply.Response != "pong" {
		t.Errorf("Output = %v", result.Output)
	}
}

func TestAskAgentUnknown(t *testing.T) {
	registry, _ := newRegistry(t)

	result := execute(t, AskAgent(registry), `{"agent_name":"ghost","prompt":"ping"}`)
	if result.Status != hashiru.StatusError || !strings.Contains(result.Message, "asking agent failed") {
		t.Errorf("result = %+v", result)
	}
}

func TestFireAgent(t *testing.T) {
	registry, budget := newRegistry(t)
	createHelper(t, registry, "helper")

	result := execute(t, FireAgent(registry), `{"agent_name":"helper"}`)
	if result.Status != hashiru.StatusSuccess || result.Message != "Agent successfully fired" {
		t.Fatalf("result = %+v", result)
	}
	if registry.Has("helper") {
		t.Error("agent still registered after fire")
	}
	if budget.RemainingResource() != 1000 {
		t.Errorf("create cost not refunded: remaining %g", budget.RemainingResource())
	}

	result = execute(t, FireAgent(registry), `{"agent_name":"helper"}`)
	if result.Status != hashiru.StatusError || !strings.Contains(result.Message, "firing agent failed") {
		t.Errorf("double fire: %+v", result)
	}
}

func TestGetAgents(t *testing.T) {
	registry, _ := newRegistry(t)
	createHelper(t, registry, "alpha")
	createHelper(t, registry, "beta")

	result := execute(t, GetAgents(registry), "")
	if result.Status != hashiru.StatusSuccess {
		t.Fatalf("result = %+v", result)
	}
	out, ok := result.Output.(map[string]map[string]any)
	if !ok || len(out) != 2 {
		t.Fatalf("Output = %v", result.Output)
	}
	if out["alpha"]["base_model"] != "llama3.2" || out["alpha"]["description"] != "a helper" {
		t.Errorf("alpha entry = %v", out["alpha"])
	}
}

func TestAgentCostManager(t *testing.T) {
	result := execute(t, AgentCostManager(), "")
	if result.Status != hashiru.StatusSuccess {
		t.Fatalf("result = %+v", result)
	}
	costs, ok := result.Output.(map[string]ModelPricing)
	if !ok {
		t.Fatalf("Output = %T", result.Output)
	}
	if costs["llama3.2"].CreateResourceCost != 10 {
		t.Errorf("llama3.2 = %+v", costs["llama3.2"])
	}
	if costs["groq-qwen-qwq-32b"].InvokeExpenseCost != 0.29 {
		t.Errorf("groq pricing = %+v", costs["groq-qwen-qwq-32b"])
	}
}
