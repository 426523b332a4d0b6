package hashiru

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool statuses. Every ToolResult carries exactly one of these.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ToolResult is the structured outcome of a tool execution. Errors the
// manager model should see and react to are reported as a result with
// Status "error", not as a Go error.
type ToolResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Output  any    `json:"output,omitempty"`
}

// SuccessResult builds a success result carrying output.
func SuccessResult(message string, output any) ToolResult {
	return ToolResult{Status: StatusSuccess, Message: message, Output: output}
}

// ErrorResult builds an error result from a message.
func ErrorResult(format string, args ...any) ToolResult {
	return ToolResult{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// ToolDefinition is what the manager model sees: a name, a description, and
// a JSON Schema for the arguments. The cost fields feed budget admission;
// zero costs mean free.
type ToolDefinition struct {
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Parameters         json.RawMessage `json:"parameters"` // JSON Schema
	Dependencies       []string        `json:"dependencies,omitempty"`
	CreateResourceCost float64         `json:"create_resource_cost,omitempty"`
	InvokeResourceCost float64         `json:"invoke_resource_cost,omitempty"`
	CreateExpenseCost  float64         `json:"create_expense_cost,omitempty"`
	InvokeExpenseCost  float64         `json:"invoke_expense_cost,omitempty"`
}

// Tool is one dispatchable capability. Built-ins implement it directly;
// runtime-authored sources are wrapped by the registry around a ToolRunner.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// FuncTool adapts a plain function into a Tool. Most built-ins are
// constructed this way.
type FuncTool struct {
	Def ToolDefinition
	Fn  func(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

func (t *FuncTool) Definition() ToolDefinition { return t.Def }

func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	return t.Fn(ctx, args)
}

// DecodeArgs unmarshals tool arguments into dst, converting decode failures
// into the error-result shape the model can recover from.
func DecodeArgs(args json.RawMessage, dst any) *ToolResult {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, dst); err != nil {
		r := ErrorResult("invalid arguments: %v", err)
		return &r
	}
	return nil
}
