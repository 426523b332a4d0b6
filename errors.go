package hashiru

import "fmt"

// Budget dimensions used in ErrBudgetExceeded.
const (
	DimensionResource = "resource"
	DimensionExpense  = "expense"
)

// ErrBudgetExceeded reports an admission failure on one budget dimension.
type ErrBudgetExceeded struct {
	Dimension string
	Requested float64
	Remaining float64
}

func (e *ErrBudgetExceeded) Error() string {
	return fmt.Sprintf("%s budget exceeded: requested %g but only %g remaining",
		e.Dimension, e.Requested, e.Remaining)
}

// ErrModeDisabled reports an operation rejected by a mode flag
// (creation or invocation gating).
type ErrModeDisabled struct {
	Mode Mode
}

func (e *ErrModeDisabled) Error() string {
	switch e.Mode {
	case ModeAgentCreation:
		return "agent creation mode is disabled"
	case ModeLocalAgents:
		return "local invocation mode is disabled"
	case ModeCloudAgents:
		return "cloud invocation mode is disabled"
	case ModeToolCreation:
		return "tool creation mode is disabled"
	case ModeToolInvocation:
		return "tool invocation mode is disabled"
	case ModeMemory:
		return "memory mode is disabled"
	}
	return fmt.Sprintf("mode %s is disabled", e.Mode)
}

// ErrToolNotFound reports a dispatch to an unknown tool name.
type ErrToolNotFound struct {
	Name string
}

func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

// ErrAgentNotFound reports an operation on a nonexistent agent.
type ErrAgentNotFound struct {
	Name string
}

func (e *ErrAgentNotFound) Error() string {
	return fmt.Sprintf("agent %q does not exist", e.Name)
}

// ErrAgentExists reports a create with a name already in the registry.
type ErrAgentExists struct {
	Name string
}

func (e *ErrAgentExists) Error() string {
	return fmt.Sprintf("agent %q already exists", e.Name)
}

// ErrDuplicateKey reports a memory add with a key already in the store.
type ErrDuplicateKey struct {
	Key string
}

func (e *ErrDuplicateKey) Error() string {
	return fmt.Sprintf("memory key %q already exists", e.Key)
}

// ErrNotFound reports a memory delete for an absent key.
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("memory key %q not found", e.Key)
}

// ErrUnsupportedModel reports a base_model that resolves to no backend type.
type ErrUnsupportedModel struct {
	BaseModel string
}

func (e *ErrUnsupportedModel) Error() string {
	return fmt.Sprintf("unsupported base model %q", e.BaseModel)
}

// ErrBackend wraps a provider failure. Retryable errors (HTTP 429, 500, 503)
// are retried by the orchestrator's backoff wrapper; everything else
// propagates on the first attempt.
type ErrBackend struct {
	Provider  string
	Message   string
	Status    int
	Retryable bool
}

func (e *ErrBackend) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrSchemaViolation reports a tool source that failed to load: bad manifest,
// uncompilable parameter schema, or a describe handshake failure. For tools
// authored during the session it triggers the self-healing delete.
type ErrSchemaViolation struct {
	Tool   string
	Path   string
	Reason string
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("tool %q (%s) doesn't follow the required format: %s",
		e.Tool, e.Path, e.Reason)
}

// ErrInvariant reports internal state corruption (for example a refund that
// would drive a budget counter negative). It is never converted to a
// function response; sessions abort rather than continue on corrupt state.
type ErrInvariant struct {
	Message string
}

func (e *ErrInvariant) Error() string {
	return "invariant violated: " + e.Message
}
