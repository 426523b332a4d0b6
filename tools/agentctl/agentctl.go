// Package agentctl holds the built-in tools the manager model uses to
// create, query, invoke, and fire sub-agents. They are thin wrappers over
// the agent registry; all gating and accounting happens there.
package agentctl

import (
	"context"
	"encoding/json"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

var creatorSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"agent_name": {
			"type": "string",
			"description": "Name of the AI agent that is to be created. This name cannot have spaces or special characters. It should be a single word."
		},
		"base_model": {
			"type": "string",
			"description": "A base model from which the new agent is to be created. Check the available models using the AgentCostManager tool."
		},
		"system_prompt": {
			"type": "string",
			"description": "The system prompt that will be used to create the agent. It should describe the role of the agent and its capabilities."
		},
		"description": {
			"type": "string",
			"description": "Single line description of the agent and its capabilities."
		}
	},
	"required": ["agent_name", "base_model", "system_prompt", "description"]
}`)

type creatorArgs struct {
	AgentName    string `json:"agent_name"`
	BaseModel    string `json:"base_model"`
	SystemPrompt string `json:"system_prompt"`
	Description  string `json:"description"`
}

// AgentCreator returns the built-in that creates a sub-agent. Costs come
// from the static model catalog; an unknown base model is rejected so the
// manager consults AgentCostManager first.
func AgentCreator(agents *hashiru.AgentRegistry) hashiru.Tool {
	return &hashiru.FuncTool{
		Def: hashiru.ToolDefinition{
			Name:        "AgentCreator",
			Description: "Creates an AI agent for you. Please make sure to invoke the created agent using the AskAgent tool.",
			Parameters:  creatorSchema,
		},
		Fn: func(ctx context.Context, args json.RawMessage) (hashiru.ToolResult, error) {
			var a creatorArgs
			if res := hashiru.DecodeArgs(args, &a); res != nil {
				return *res, nil
			}
			pricing, ok := ModelCosts[a.BaseModel]
			if !ok {
				return hashiru.ErrorResult("unknown base model %q: check AgentCostManager for the available models", a.BaseModel), nil
			}
			desc := hashiru.AgentDescriptor{
				Name:               a.AgentName,
				BaseModel:          a.BaseModel,
				SystemPrompt:       a.SystemPrompt,
				Description:        a.Description,
				CreateResourceCost: pricing.CreateResourceCost,
				InvokeResourceCost: pricing.InvokeResourceCost,
				CreateExpenseCost:  pricing.CreateExpenseCost,
				InvokeExpenseCost:  pricing.InvokeExpenseCost,
				OutputExpenseCost:  pricing.OutputExpenseCost,
			}
			if err := agents.Create(ctx, desc); err != nil {
				return hashiru.ErrorResult("creating agent failed: %v", err), nil
			}
			return hashiru.SuccessResult("Agent successfully created", map[string]string{
				"agent_name": a.AgentName,
				"base_model": a.BaseModel,
			}), nil
		},
	}
}

var askSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"agent_name": {
			"type": "string",
			"description": "Name of the AI agent that is to be asked a question. This name cannot have spaces or special characters. It should be a single word."
		},
		"prompt": {
			"type": "string",
			"description": "The prompt that will be used to ask the agent a question."
		}
	},
	"required": ["agent_name", "prompt"]
}`)

type askArgs struct {
	AgentName string `json:"agent_name"`
	Prompt    string `json:"prompt"`
}

// AskAgent returns the built-in that delegates a prompt to a sub-agent.
func AskAgent(agents *hashiru.AgentRegistry) hashiru.Tool {
	return &hashiru.FuncTool{
		Def: hashiru.ToolDefinition{
			Name:        "AskAgent",
			Description: "Asks an AI agent a question and gets a response. The agent must be created using the AgentCreator tool before using this tool.",
			Parameters:  askSchema,
		},
		Fn: func(ctx context.Context, args json.RawMessage) (hashiru.ToolResult, error) {
			var a askArgs
			if res := hashiru.DecodeArgs(args, &a); res != nil {
				return *res, nil
			}
			reply, err := agents.Ask(ctx, a.AgentName, a.Prompt)
			if err != nil {
				return hashiru.ErrorResult("asking agent failed: %v", err), nil
			}
			return hashiru.SuccessResult("Agent has replied to the given prompt", reply), nil
		},
	}
}

var fireSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"agent_name": {
			"type": "string",
			"description": "Name of the AI agent that is to be fired. This name cannot have spaces or special characters. It should be a single word."
		}
	},
	"required": ["agent_name"]
}`)

type fireArgs struct {
	AgentName string `json:"agent_name"`
}

// FireAgent returns the built-in that deletes a sub-agent, refunding its
// create-time resource reservation.
func FireAgent(agents *hashiru.AgentRegistry) hashiru.Tool {
	return &hashiru.FuncTool{
		Def: hashiru.ToolDefinition{
			Name:        "FireAgent",
			Description: "Fires an AI agent for you.",
			Parameters:  fireSchema,
		},
		Fn: func(ctx context.Context, args json.RawMessage) (hashiru.ToolResult, error) {
			var a fireArgs
			if res := hashiru.DecodeArgs(args, &a); res != nil {
				return *res, nil
			}
			if err := agents.Delete(ctx, a.AgentName); err != nil {
				return hashiru.ErrorResult("firing agent failed: %v", err), nil
			}
			return hashiru.SuccessResult("Agent successfully fired", nil), nil
		},
	}
}

var getAgentsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {},
	"required": []
}`)

// GetAgents returns the built-in that lists the agent catalog.
func GetAgents(agents *hashiru.AgentRegistry) hashiru.Tool {
	return &hashiru.FuncTool{
		Def: hashiru.ToolDefinition{
			Name:        "GetAgents",
			Description: "Retrieves a list of available AI agents. This tool is used to get the list of available models that can be invoked using the AskAgent tool.",
			Parameters:  getAgentsSchema,
		},
		Fn: func(ctx context.Context, args json.RawMessage) (hashiru.ToolResult, error) {
			list := agents.List()
			out := make(map[string]map[string]any, len(list))
			for _, d := range list {
				out[d.Name] = map[string]any{
					"base_model":  d.BaseModel,
					"description": d.Description,
				}
			}
			return hashiru.SuccessResult("Agents list retrieved successfully", out), nil
		},
	}
}
