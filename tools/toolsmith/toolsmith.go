// Package toolsmith holds the tools the manager model uses to author and
// remove runtime tools.
package toolsmith

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

// toolNameRe constrains authored tool names to a single identifier-like
// word so the file name stays inside the user-tools directory.
var toolNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

var creatorSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {
			"type": "string",
			"description": "The name of the tool to create"
		},
		"tool_code": {
			"type": "string",
			"description": "The code of the tool to create"
		}
	},
	"required": ["name", "tool_code"]
}`)

var deletorSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {
			"type": "string",
			"description": "The name of the tool to delete"
		},
		"file_path": {
			"type": "string",
			"description": "The path of the tool source to delete"
		}
	},
	"required": ["name", "file_path"]
}`)

// created is the structured output of a ToolCreator or ToolDeletor call.
type created struct {
	ToolName     string `json:"tool_name"`
	ToolFilePath string `json:"tool_file_path"`
}

type creatorArgs struct {
	Name     string `json:"name"`
	ToolCode string `json:"tool_code"`
}

// ToolCreator returns the built-in that writes a new tool source into
// userDir and arms the registry's self-healing for it. The registry reload
// that actually loads (or rejects) the source happens after the call.
func ToolCreator(registry *hashiru.ToolRegistry, userDir string) hashiru.Tool {
	return &hashiru.FuncTool{
		Def: hashiru.ToolDefinition{
			Name:        hashiru.ToolNameCreator,
			Description: "Creates a tool for the given function",
			Parameters:  creatorSchema,
		},
		Fn: func(ctx context.Context, args json.RawMessage) (hashiru.ToolResult, error) {
			var a creatorArgs
			if res := hashiru.DecodeArgs(args, &a); res != nil {
				return *res, nil
			}
			if !toolNameRe.MatchString(a.Name) {
				return hashiru.ErrorResult("invalid tool name %q: must be a single word", a.Name), nil
			}
			if a.ToolCode == "" {
				return hashiru.ErrorResult("tool_code is required"), nil
			}
			if err := os.MkdirAll(userDir, 0o755); err != nil {
				return hashiru.ErrorResult("creating tool directory failed: %v", err), nil
			}
			path := filepath.Join(userDir, a.Name+".py")
			if err := os.WriteFile(path, []byte(a.ToolCode), 0o644); err != nil {
				return hashiru.ErrorResult("writing tool file failed: %v", err), nil
			}
			registry.NoteAuthored(a.Name, path)
			return hashiru.SuccessResult("Tool created successfully",
				created{ToolName: a.Name, ToolFilePath: path}), nil
		},
	}
}

type deletorArgs struct {
	Name     string `json:"name"`
	FilePath string `json:"file_path"`
}

// ToolDeletor returns the built-in that removes a runtime tool source.
// Only files inside userDir may be removed.
func ToolDeletor(userDir string) hashiru.Tool {
	return &hashiru.FuncTool{
		Def: hashiru.ToolDefinition{
			Name:        hashiru.ToolNameDeletor,
			Description: "Deletes a tool for the given function",
			Parameters:  deletorSchema,
		},
		Fn: func(ctx context.Context, args json.RawMessage) (hashiru.ToolResult, error) {
			var a deletorArgs
			if res := hashiru.DecodeArgs(args, &a); res != nil {
				return *res, nil
			}
			inside, err := pathInside(userDir, a.FilePath)
			if err != nil {
				return hashiru.ErrorResult("resolving tool path failed: %v", err), nil
			}
			if !inside {
				return hashiru.ErrorResult("refusing to delete %s: outside the user tools directory", a.FilePath), nil
			}
			if err := os.Remove(a.FilePath); err != nil {
				return hashiru.ErrorResult("deleting tool failed: %v", err), nil
			}
			return hashiru.SuccessResult("Tool deleted successfully",
				created{ToolName: a.Name, ToolFilePath: a.FilePath}), nil
		},
	}
}

func pathInside(dir, path string) (bool, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false, err
	}
	if rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(os.PathSeparator) {
		return false, nil
	}
	return rel != ".", nil
}
