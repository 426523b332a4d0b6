package hashiru

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Reserved names of the registry's built-in tools.
const (
	ToolNameCreator = "ToolCreator"
	ToolNameDeletor = "ToolDeletor"
)

// loadedTool is one dispatchable entry: a built-in executable or a runtime
// source bound to the sandbox runner.
type loadedTool struct {
	def    ToolDefinition
	schema *jsonschema.Schema
	exec   Tool   // non-nil for built-ins
	path   string // non-empty for runtime sources
}

// LoadFailure records one source the registry rejected during a scan.
type LoadFailure struct {
	Name string
	Path string
	Err  error
}

// LoadReport is the outcome of one Reload: which runtime tools loaded,
// which were rejected, and any dependency-install errors (install errors do
// not reject a tool, but they are surfaced here).
type LoadReport struct {
	Loaded        []string
	Failures      []LoadFailure
	InstallErrors []string
}

// ToolRegistry holds the built-in tools plus runtime-authored sources
// discovered from two directories. Built-ins are registered once at startup
// and never unloaded; the runtime map is rebuilt wholesale on Reload and
// swapped under the write lock.
type ToolRegistry struct {
	mu           sync.RWMutex
	builtins     map[string]*loadedTool
	builtinOrder []string
	runtime      map[string]*loadedTool
	modes        ModeSet
	installed    map[string]bool
	authored     map[string]string // name -> path, sources written this session

	budget     *BudgetController
	runner     ToolRunner
	defaultDir string
	userDir    string
	logger     *slog.Logger
}

// ToolRegistryOption configures a ToolRegistry.
type ToolRegistryOption func(*ToolRegistry)

// WithToolDirs sets the system and user tool source directories.
func WithToolDirs(defaultDir, userDir string) ToolRegistryOption {
	return func(r *ToolRegistry) {
		r.defaultDir = defaultDir
		r.userDir = userDir
	}
}

// WithToolLogger sets the structured logger for registry events.
func WithToolLogger(l *slog.Logger) ToolRegistryOption {
	return func(r *ToolRegistry) { r.logger = l }
}

// WithToolModes sets the initial mode flags.
func WithToolModes(modes ModeSet) ToolRegistryOption {
	return func(r *ToolRegistry) { r.modes = modes.Clone() }
}

// NewToolRegistry creates a registry charging costs against budget and
// executing runtime sources through runner. Runner may be nil when only
// built-ins are used.
func NewToolRegistry(budget *BudgetController, runner ToolRunner, opts ...ToolRegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		builtins:  make(map[string]*loadedTool),
		runtime:   make(map[string]*loadedTool),
		modes:     NewModeSet(AllModes...),
		installed: make(map[string]bool),
		authored:  make(map[string]string),
		budget:    budget,
		runner:    runner,
		logger:    nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs a built-in tool. Fails on a name collision or an
// uncompilable parameter schema.
func (r *ToolRegistry) Register(t Tool) error {
	def := t.Definition()
	schema, err := compileParameters(def.Name, def.Parameters)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.builtins[def.Name]; ok {
		return fmt.Errorf("builtin tool %q already registered", def.Name)
	}
	r.builtins[def.Name] = &loadedTool{def: def, schema: schema, exec: t}
	r.builtinOrder = append(r.builtinOrder, def.Name)
	return nil
}

// SetModes replaces the mode flags. In-flight dispatches keep the flags
// they were admitted under.
func (r *ToolRegistry) SetModes(modes ModeSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = modes.Clone()
}

// NoteAuthored marks a source file as written this session, arming the
// self-healing delete for it. ToolCreator calls this after writing.
func (r *ToolRegistry) NoteAuthored(name, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authored[name] = path
}

// Schemas returns the definitions of every dispatchable tool: built-ins in
// registration order, then runtime tools sorted by name.
func (r *ToolRegistry) Schemas() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.builtins)+len(r.runtime))
	for _, name := range r.builtinOrder {
		defs = append(defs, r.builtins[name].def)
	}
	names := make([]string, 0, len(r.runtime))
	for name := range r.runtime {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		defs = append(defs, r.runtime[name].def)
	}
	return defs
}

// Reload rescans both source directories and atomically replaces the
// runtime-tool map. Built-ins are unaffected. Resource reservations for
// tools that survive the reload are kept; tools that disappear or fail are
// refunded their create-time reservation.
func (r *ToolRegistry) Reload(ctx context.Context) LoadReport {
	var report LoadReport
	next := make(map[string]*loadedTool)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dir := range []string{r.defaultDir, r.userDir} {
		if dir == "" {
			continue
		}
		paths, err := discoverSources(dir)
		if err != nil {
			r.logger.Warn("tool scan failed", "dir", dir, "error", err)
			continue
		}
		for _, path := range paths {
			lt, installErrs, err := r.loadSourceLocked(ctx, path, next)
			report.InstallErrors = append(report.InstallErrors, installErrs...)
			if err != nil {
				name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				if lt != nil {
					name = lt.def.Name
				}
				report.Failures = append(report.Failures, LoadFailure{Name: name, Path: path, Err: err})
				r.logger.Warn("tool rejected", "path", path, "error", err)
				continue
			}
			next[lt.def.Name] = lt
			report.Loaded = append(report.Loaded, lt.def.Name)
		}
	}

	// Refund create reservations for runtime tools that did not survive.
	for name, lt := range r.runtime {
		if _, ok := next[name]; ok {
			continue
		}
		if lt.def.CreateResourceCost > 0 {
			if err := r.budget.RefundResource(lt.def.CreateResourceCost); err != nil {
				r.logger.Error("refund on unload failed", "tool", name, "error", err)
			}
		}
	}
	r.runtime = next
	sort.Strings(report.Loaded)
	return report
}

// loadSourceLocked runs the load pipeline for one source file: describe,
// collision check, schema compile, dependency install, create-cost reserve.
// The returned loadedTool is non-nil once the manifest was readable, even
// on failure, so callers can name the rejected tool.
func (r *ToolRegistry) loadSourceLocked(ctx context.Context, path string, next map[string]*loadedTool) (*loadedTool, []string, error) {
	if r.runner == nil {
		return nil, nil, fmt.Errorf("no tool runner configured")
	}
	manifest, err := r.runner.Describe(ctx, path)
	if err != nil {
		return nil, nil, &ErrSchemaViolation{Tool: filepath.Base(path), Path: path,
			Reason: fmt.Sprintf("describe failed: %v", err)}
	}
	lt := &loadedTool{
		def: ToolDefinition{
			Name:               manifest.Name,
			Description:        manifest.Description,
			Parameters:         manifest.Parameters,
			Dependencies:       manifest.Dependencies,
			CreateResourceCost: manifest.CreateResourceCost,
			InvokeResourceCost: manifest.InvokeResourceCost,
			CreateExpenseCost:  manifest.CreateExpenseCost,
			InvokeExpenseCost:  manifest.InvokeExpenseCost,
		},
		path: path,
	}
	if manifest.Name == "" || manifest.Description == "" {
		return lt, nil, &ErrSchemaViolation{Tool: manifest.Name, Path: path,
			Reason: "manifest missing name or description"}
	}
	if _, ok := r.builtins[manifest.Name]; ok {
		return lt, nil, &ErrSchemaViolation{Tool: manifest.Name, Path: path,
			Reason: "name collides with a built-in tool"}
	}
	if prev, ok := next[manifest.Name]; ok {
		return lt, nil, &ErrSchemaViolation{Tool: manifest.Name, Path: path,
			Reason: fmt.Sprintf("name collides with %s", prev.path)}
	}
	lt.schema, err = compileParameters(manifest.Name, manifest.Parameters)
	if err != nil {
		return lt, nil, err
	}

	var installErrs []string
	for _, dep := range manifest.Dependencies {
		if r.installed[dep] {
			continue
		}
		// Recorded regardless of outcome so a broken package is not
		// re-attempted on every reload.
		r.installed[dep] = true
		if err := r.runner.Install(ctx, dep); err != nil {
			installErrs = append(installErrs, fmt.Sprintf("%s: %v", dep, err))
			r.logger.Warn("dependency install failed", "tool", manifest.Name,
				"dependency", dep, "error", err)
		}
	}

	// Tools already loaded hold their reservation; only charge new arrivals.
	if _, held := r.runtime[manifest.Name]; !held {
		if err := r.budget.Reserve(manifest.CreateResourceCost, manifest.CreateExpenseCost); err != nil {
			return lt, installErrs, err
		}
	}
	return lt, installErrs, nil
}

// Run dispatches a tool call. Gating failures (modes, lookup, budget)
// return a typed error; execution failures are captured into an
// error-status result so the model can react. Invoke costs are never
// refunded: a failed invocation still consumed resources.
func (r *ToolRegistry) Run(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	r.mu.RLock()
	modes := r.modes
	lt, ok := r.builtins[name]
	if !ok {
		lt, ok = r.runtime[name]
	}
	r.mu.RUnlock()

	if !modes.Enabled(ModeToolInvocation) {
		return ToolResult{}, &ErrModeDisabled{Mode: ModeToolInvocation}
	}
	if name == ToolNameCreator && !modes.Enabled(ModeToolCreation) {
		return ToolResult{}, &ErrModeDisabled{Mode: ModeToolCreation}
	}
	if !ok {
		return ToolResult{}, &ErrToolNotFound{Name: name}
	}

	if lt.schema != nil {
		if res := validateArgs(lt.schema, args); res != nil {
			return *res, nil
		}
	}

	if err := r.budget.Reserve(lt.def.InvokeResourceCost, lt.def.InvokeExpenseCost); err != nil {
		return ToolResult{}, err
	}

	var result ToolResult
	var err error
	if lt.exec != nil {
		result, err = lt.exec.Execute(ctx, args)
	} else {
		result, err = r.runner.Run(ctx, lt.path, args)
	}
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", name, "error", err)
		return ToolResult{Status: StatusError,
			Message: fmt.Sprintf("tool %s failed", name),
			Output:  err.Error()}, nil
	}
	return result, nil
}

// HealAuthoredFailures reloads the registry and, for any failure matching a
// source authored this session, deletes the file and returns a synthesized
// error result describing the rejection. Returns nil when nothing needed
// healing.
func (r *ToolRegistry) HealAuthoredFailures(ctx context.Context) []ToolResult {
	report := r.Reload(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	var healed []ToolResult
	for _, f := range report.Failures {
		path, ok := r.authored[f.Name]
		if !ok || path != f.Path {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.logger.Error("self-heal remove failed", "tool", f.Name, "path", path, "error", err)
		}
		delete(r.authored, f.Name)
		r.logger.Info("removed broken authored tool", "tool", f.Name, "path", path)
		healed = append(healed, ErrorResult(
			"the newly created tool %s doesn't follow the required format and was removed: %v",
			f.Name, f.Err))
	}
	return healed
}

// Installed reports whether a dependency token was already attempted.
func (r *ToolRegistry) Installed(dep string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.installed[dep]
}

// Has reports whether a tool (built-in or runtime) is dispatchable.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.builtins[name]; ok {
		return true
	}
	_, ok := r.runtime[name]
	return ok
}

// discoverSources lists the .py tool sources directly under dir, sorted.
func discoverSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".py") || strings.HasPrefix(e.Name(), "_") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// compileParameters compiles a tool's JSON Schema. An absent schema is a
// rejection, not a wildcard.
func compileParameters(name string, params json.RawMessage) (*jsonschema.Schema, error) {
	if len(params) == 0 {
		return nil, &ErrSchemaViolation{Tool: name, Reason: "missing parameter schema"}
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(params))
	if err != nil {
		return nil, &ErrSchemaViolation{Tool: name,
			Reason: fmt.Sprintf("parameter schema does not compile: %v", err)}
	}
	return schema, nil
}

// validateArgs checks args against the compiled schema, returning an
// error-status result on violation and nil when valid.
func validateArgs(schema *jsonschema.Schema, args json.RawMessage) *ToolResult {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		res := ErrorResult("arguments are not valid JSON: %v", err)
		return &res
	}
	if err := schema.Validate(v); err != nil {
		res := ErrorResult("arguments do not match the tool schema: %v", err)
		return &res
	}
	return nil
}
