package agentctl

import (
	"context"
	"encoding/json"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

// ModelPricing holds the per-model costs the manager consults before
// creating an agent. Resource costs are dimensionless budget units; expense
// costs are dollars per million tokens.
type ModelPricing struct {
	Description        string  `json:"description"`
	CreateResourceCost float64 `json:"create_resource_cost,omitempty"`
	InvokeResourceCost float64 `json:"invoke_resource_cost,omitempty"`
	CreateExpenseCost  float64 `json:"create_expense_cost,omitempty"`
	InvokeExpenseCost  float64 `json:"invoke_expense_cost,omitempty"`
	OutputExpenseCost  float64 `json:"output_expense_cost,omitempty"`
}

// ModelCosts is the static catalog of supported base models. Local models
// carry resource costs; cloud models carry expense costs.
var ModelCosts = map[string]ModelPricing{
	"llama3.2": {
		Description:        "Avg Accuracy: 49.75%, Latency 0.9s, 63.4% on multi-task understanding, 40.8% on rewriting, 78.6% on reasoning.",
		CreateResourceCost: 10,
		InvokeResourceCost: 40,
	},
	"mistral": {
		Description:        "Avg Accuracy: 51.3%, Latency 9.7s, 51% on LegalBench, 60.1% on multi-task understanding, 69.9% on TriviaQA, 67.9% on reasoning",
		CreateResourceCost: 20,
		InvokeResourceCost: 100,
	},
	"deepseek-r1": {
		Description:        "Avg Accuracy: 77.3%, Latency: 120s, 69.9% on LegalBench, 71.1% on multi-task understanding, 92.2% on Math",
		CreateResourceCost: 20,
		InvokeResourceCost: 150,
	},
	"gemini-2.5-flash-preview-05-20": {
		Description:       "Avg Accuracy: 75.8%, 82.8% on LegalBench, 81.6% on multi-task understanding, 91.6% on Math",
		InvokeExpenseCost: 0.15,
		OutputExpenseCost: 0.60,
	},
	"gemini-2.5-pro-exp-03-25": {
		Description:       "Avg Accuracy: 64.3%, 83.6% on LegalBench, 84.1% on multi-task understanding, 95.2% on Math, 63.8% on Coding",
		InvokeExpenseCost: 1.25,
		OutputExpenseCost: 10.00,
	},
	"gemini-2.0-flash": {
		Description:       "Avg Accuracy: 64.3%, 79.9% on LegalBench, 77.4% on multi-task understanding, 90.9% on Math, 34.5% on Coding",
		InvokeExpenseCost: 0.10,
		OutputExpenseCost: 0.40,
	},
	"gemini-2.0-flash-lite": {
		Description:       "Avg Accuracy: 64.1%, 71.6% on multi-task understanding, 86.8% on Math, 28.9% on Coding",
		InvokeExpenseCost: 0.075,
		OutputExpenseCost: 0.30,
	},
	"gemini-1.5-flash": {
		Description:       "62.0% on LegalBench, 61.0% on MMLU, 59.0% on MATH",
		InvokeExpenseCost: 0.075,
		OutputExpenseCost: 0.30,
	},
	"gemini-1.5-flash-8b": {
		Description:       "High volume and lower intelligence tasks",
		InvokeExpenseCost: 0.0375,
		OutputExpenseCost: 0.15,
	},
	"groq-qwen-qwq-32b": {
		Description:       "79.5% on AIME24, is comparable to o1-mini and DeepSeek-R1 on all reasoning tasks",
		InvokeExpenseCost: 0.29,
		OutputExpenseCost: 0.39,
	},
}

var costManagerSchema = json.RawMessage(`{
	"type": "object",
	"properties": {},
	"required": []
}`)

// AgentCostManager returns the built-in serving the static model catalog.
func AgentCostManager() hashiru.Tool {
	return &hashiru.FuncTool{
		Def: hashiru.ToolDefinition{
			Name:        "AgentCostManager",
			Description: "Retrieves the cost of creating and invoking an agent. Also includes the strengths of each model. Please make sure to use this before creating an agent.",
			Parameters:  costManagerSchema,
		},
		Fn: func(ctx context.Context, args json.RawMessage) (hashiru.ToolResult, error) {
			return hashiru.SuccessResult("Cost of creating and invoking an agent", ModelCosts), nil
		},
	}
}
