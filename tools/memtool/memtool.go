// Package memtool exposes the memory store to the manager model.
package memtool

import (
	"context"
	"encoding/json"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

var memoryManagerSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"action": {
			"type": "string",
			"enum": ["add_memory", "get_memory", "delete_memory"],
			"description": "The action to perform: add_memory, get_memory, or delete_memory."
		},
		"key": {
			"type": "string",
			"description": "Unique key naming the memory. Required for add_memory and delete_memory."
		},
		"memory": {
			"type": "string",
			"description": "The memory text to add. Required for add_memory."
		}
	},
	"required": ["action"]
}`)

type memoryArgs struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Memory string `json:"memory"`
}

// MemoryManager returns a tool that adds, lists, and deletes keyed
// memories in store.
func MemoryManager(store *hashiru.MemoryStore) hashiru.Tool {
	return &hashiru.FuncTool{
		Def: hashiru.ToolDefinition{
			Name:        "MemoryManager",
			Description: "Updates, retrieves, or deletes the memory of an AI agent. The memory is stored in a JSON file.",
			Parameters:  memoryManagerSchema,
		},
		Fn: func(ctx context.Context, args json.RawMessage) (hashiru.ToolResult, error) {
			var a memoryArgs
			if res := hashiru.DecodeArgs(args, &a); res != nil {
				return *res, nil
			}
			switch a.Action {
			case "get_memory":
				records, err := store.List()
				if err != nil {
					return hashiru.ErrorResult("listing memories failed: %v", err), nil
				}
				return hashiru.SuccessResult("Memory retrieved successfully", records), nil
			case "add_memory":
				if a.Key == "" || a.Memory == "" {
					return hashiru.ErrorResult("key and memory are required for add_memory"), nil
				}
				if err := store.Add(a.Key, a.Memory); err != nil {
					return hashiru.ErrorResult("adding memory failed: %v", err), nil
				}
				return hashiru.SuccessResult("Memory created successfully", nil), nil
			case "delete_memory":
				if a.Key == "" {
					return hashiru.ErrorResult("key is required for delete_memory"), nil
				}
				if err := store.Delete(a.Key); err != nil {
					return hashiru.ErrorResult("deleting memory failed: %v", err), nil
				}
				return hashiru.SuccessResult("Memory deleted successfully", nil), nil
			}
			return hashiru.ErrorResult("unknown action %q", a.Action), nil
		},
	}
}
