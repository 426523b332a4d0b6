// Package hashiru is a hierarchical agent orchestrator and tool dispatcher
// for LLM-driven task execution.
//
// A manager model decomposes a user request and, at each turn, either answers
// directly or issues function calls that create and invoke specialized
// sub-agents, execute tools (including tools the manager authors at runtime),
// or manage persistent memories. The orchestrator enforces a two-dimensional
// budget (machine resources and monetary expense) across every create and
// invoke operation and drives a streaming, tool-call-aware dialogue loop.
//
// The core pieces compose through interfaces:
//
//   - ChatBackend streams manager responses (text and function-call parts).
//   - ToolRegistry loads, validates, and dispatches tools; runtime-authored
//     tools run through a ToolRunner sidecar (see the sandbox package).
//   - AgentRegistry manages named sub-agents bound to local or cloud models.
//   - BudgetController admits or rejects every create/invoke against the
//     resource and expense budgets.
//   - MemoryStore and MemoryRetriever provide the retrieval side-channel.
//   - Orchestrator ties it together: one Run call is one user turn, looping
//     over backend rounds and tool dispatches until the model answers with
//     text alone.
package hashiru
