// Package budgettool exposes the budget controller to the manager model.
package budgettool

import (
	"context"
	"encoding/json"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

var getBudgetSchema = json.RawMessage(`{
	"type": "object",
	"properties": {},
	"required": []
}`)

// GetBudget returns a tool reporting all six budget fields.
func GetBudget(budget *hashiru.BudgetController) hashiru.Tool {
	return &hashiru.FuncTool{
		Def: hashiru.ToolDefinition{
			Name:        "GetBudget",
			Description: "Retrieves the current budget available.",
			Parameters:  getBudgetSchema,
		},
		Fn: func(ctx context.Context, args json.RawMessage) (hashiru.ToolResult, error) {
			return hashiru.SuccessResult("Budget retrieved successfully", budget.Snapshot()), nil
		},
	}
}
