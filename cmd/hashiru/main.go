package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	hashiru "github.com/kunpai/AcadHASHIRU"
	"github.com/kunpai/AcadHASHIRU/internal/config"
	"github.com/kunpai/AcadHASHIRU/observer"
	"github.com/kunpai/AcadHASHIRU/provider/gemini"
	"github.com/kunpai/AcadHASHIRU/provider/resolve"
	"github.com/kunpai/AcadHASHIRU/sandbox"
	"github.com/kunpai/AcadHASHIRU/store/sqlite"
	"github.com/kunpai/AcadHASHIRU/tools/agentctl"
	"github.com/kunpai/AcadHASHIRU/tools/budgettool"
	"github.com/kunpai/AcadHASHIRU/tools/memtool"
	"github.com/kunpai/AcadHASHIRU/tools/toolsmith"
)

func main() {
	// 1. Load config
	cfg := config.Load(os.Getenv("HASHIRU_CONFIG"))
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		log.Fatalf(" [init] data dir: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// 2. Budget: a negative resource total means detect from host capacity.
	totalResource := cfg.Budget.TotalResource
	if totalResource < 0 {
		totalResource = hashiru.DetectCapacity(logger)
	}
	budget := hashiru.NewBudgetController(
		hashiru.WithTotalResource(totalResource),
		hashiru.WithTotalExpense(cfg.Budget.TotalExpense),
		hashiru.WithBudgetLogger(logger),
	)

	// 3. Observer (opt-in via config)
	var inst *observer.Instruments
	var tracer hashiru.Tracer
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}

		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(context.Background(), pricing)
		if err != nil {
			log.Fatalf(" [observer] init failed: %v", err)
		}
		defer shutdown(context.Background())
		tracer = observer.NewTracer()

		log.Println(" [observer] OTEL observability enabled")
	}

	// 4. Memory store + retriever
	memory := hashiru.NewMemoryStore(cfg.Paths.MemoryFile, hashiru.WithMemoryLogger(logger))
	var embedding hashiru.EmbeddingProvider = gemini.NewEmbedding(
		cfg.Providers.GeminiKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	if inst != nil {
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
	}
	retriever := hashiru.NewMemoryRetriever(memory, embedding, hashiru.WithRetrieverLogger(logger))

	// 5. Sandbox runner
	runner, err := buildRunner(cfg.Sandbox)
	if err != nil {
		log.Fatalf(" [sandbox] %v", err)
	}
	if inst != nil {
		runner = observer.WrapRunner(runner, inst)
	}

	// 6. Tool registry with built-ins, then directory tools
	tools := hashiru.NewToolRegistry(budget, runner,
		hashiru.WithToolDirs(cfg.Paths.DefaultToolDir, cfg.Paths.UserToolDir),
		hashiru.WithToolLogger(logger),
	)

	// 7. Agent registry
	keys := resolve.Keys{
		GeminiKey:     cfg.Providers.GeminiKey,
		GroqAPIKey:    cfg.Providers.GroqAPIKey,
		OllamaBaseURL: cfg.Providers.OllamaURL,
	}
	factory := resolve.Factory(keys)
	if inst != nil {
		factory = observer.WrapAgentFactory(factory, inst)
	}
	agents := hashiru.NewAgentRegistry(cfg.Paths.AgentCatalog, factory, budget,
		hashiru.WithAgentLogger(logger),
	)

	registerBuiltins(tools, agents, budget, memory, cfg.Paths.UserToolDir)

	ctx := context.Background()
	report := tools.Reload(ctx)
	for _, f := range report.Failures {
		log.Printf(" [tools] load failed: %s: %v", filepath.Base(f.Path), f.Err)
	}
	log.Printf(" [tools] loaded %d directory tools", len(report.Loaded))

	if err := agents.LoadCatalog(ctx); err != nil {
		log.Printf(" [agents] catalog: %v", err)
	}

	// 8. Manager backend: Gemini with retry, observer-wrapped when enabled
	var backend hashiru.ChatBackend = gemini.New(cfg.Providers.GeminiKey, cfg.Manager.Model)
	if inst != nil {
		backend = observer.WrapBackend(backend, cfg.Manager.Model, inst)
	}
	backend = hashiru.WithRetry(backend,
		hashiru.RetryBaseDelay(time.Second),
		hashiru.RetryLogger(logger),
	)

	// 9. Orchestrator
	opts := []hashiru.OrchestratorOption{
		hashiru.WithBudget(budget),
		hashiru.WithMemoryRetriever(retriever),
		hashiru.WithTemperature(cfg.Manager.Temperature),
		hashiru.WithRates(cfg.Manager.InputRate/1e6, cfg.Manager.OutputRate/1e6),
		hashiru.WithOrchestratorLogger(logger),
	}
	if cfg.Manager.SystemPrompt != "" {
		opts = append(opts, hashiru.WithSystemPrompt(cfg.Manager.SystemPrompt))
	}
	if tracer != nil {
		opts = append(opts, hashiru.WithOrchestratorTracer(tracer))
	}
	orch := hashiru.NewOrchestrator(backend, tools, agents, opts...)

	// Mode flags: empty config means everything on.
	modes := hashiru.NewModeSet(hashiru.AllModes...)
	if len(cfg.Modes.Enabled) > 0 {
		modes, err = hashiru.ParseModes(cfg.Modes.Enabled)
		if err != nil {
			log.Fatalf(" [modes] %v", err)
		}
	}
	orch.SetModes(modes)

	// 10. Transcript store + REPL
	transcripts := sqlite.New(cfg.Paths.TranscriptDB, sqlite.WithLogger(logger))
	defer transcripts.Close()
	if err := transcripts.Init(ctx); err != nil {
		log.Fatalf(" [store] init: %v", err)
	}

	repl := newREPL(orch, transcripts, os.Stdin, os.Stdout)
	if err := repl.RunWithSignal(); err != nil && err != context.Canceled {
		log.Fatalf(" [repl] %v", err)
	}
}

// buildRunner selects the tool isolation backend from config.
func buildRunner(cfg config.SandboxConfig) (hashiru.ToolRunner, error) {
	timeout := sandbox.WithTimeout(time.Duration(cfg.TimeoutS) * time.Second)
	if cfg.Runner == "docker" {
		r, err := sandbox.NewDockerRunner(
			sandbox.WithImage(cfg.Image),
			sandbox.WithDockerTimeout(time.Duration(cfg.TimeoutS)*time.Second),
		)
		if err != nil {
			return nil, err
		}
		if err := r.PullImage(context.Background()); err != nil {
			log.Printf(" [sandbox] image pull: %v", err)
		}
		return r, nil
	}
	return sandbox.NewSubprocessRunner(cfg.PythonBin, timeout)
}

// registerBuiltins wires the native tool surface: budget inspection, memory
// management, agent lifecycle, and runtime tool authoring.
func registerBuiltins(tools *hashiru.ToolRegistry, agents *hashiru.AgentRegistry, budget *hashiru.BudgetController, memory *hashiru.MemoryStore, userToolDir string) {
	builtins := []hashiru.Tool{
		budgettool.GetBudget(budget),
		memtool.MemoryManager(memory),
		toolsmith.ToolCreator(tools, userToolDir),
		toolsmith.ToolDeletor(userToolDir),
		agentctl.AgentCostManager(),
		agentctl.AgentCreator(agents),
		agentctl.AskAgent(agents),
		agentctl.FireAgent(agents),
		agentctl.GetAgents(agents),
	}
	for _, t := range builtins {
		if err := tools.Register(t); err != nil {
			log.Fatalf(" [tools] register %s: %v", t.Definition().Name, err)
		}
	}
}
