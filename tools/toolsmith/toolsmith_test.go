package toolsmith

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

const toolSource = `class Greeter:
    dependencies = []
    inputSchema = {"name": "Greeter", "description": "Greets.", "parameters": {"type": "object"}}
    def run(self):
        return {"status": "success", "message": "hi"}
`

func newCreator(t *testing.T) (hashiru.Tool, string) {
	t.Helper()
	userDir := filepath.Join(t.TempDir(), "user_tools")
	registry := hashiru.NewToolRegistry(hashiru.NewBudgetController(), nil)
	return ToolCreator(registry, userDir), userDir
}

func execute(t *testing.T, tool hashiru.Tool, args string) hashiru.ToolResult {
	t.Helper()
	result, err := tool.Execute(context.Background(), json.RawMessage(args))
	if err != nil {
		t.Fatalf("Execute(%s): %v", args, err)
	}
	return result
}

func TestToolCreatorWritesSource(t *testing.T) {
	tool, userDir := newCreator(t)

	args, _ := json.Marshal(map[string]string{"name": "Greeter", "tool_code": toolSource})
	result := execute(t, tool, string(args))
	if result.Status != hashiru.StatusSuccess {
		t.Fatalf("result = %+v", result)
	}
	if result.Message != "Tool created successfully" {
		t.Errorf("Message = %q", result.Message)
	}

	path := filepath.Join(userDir, "Greeter.py")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("tool source not written: %v", err)
	}
	if string(data) != toolSource {
		t.Errorf("written source differs from tool_code")
	}

	out, _ := json.Marshal(result.Output)
	var got map[string]string
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("Output: %v", err)
	}
	if got["tool_name"] != "Greeter" || got["tool_file_path"] != path {
		t.Errorf("Output = %v", got)
	}
}

func TestToolCreatorRejectsBadNames(t *testing.T) {
	tool, userDir := newCreator(t)

	for _, name := range []string{"bad name", "1abc", "a/b", "..", ""} {
		args, _ := json.Marshal(map[string]string{"name": name, "tool_code": toolSource})
		result := execute(t, tool, string(args))
		if result.Status != hashiru.StatusError {
			t.Errorf("name %q accepted: %+v", name, result)
		}
	}
	entries, _ := os.ReadDir(userDir)
	if len(entries) != 0 {
		t.Errorf("files written for rejected names: %v", entries)
	}
}

func TestToolCreatorRequiresCode(t *testing.T) {
	tool, _ := newCreator(t)

	result := execute(t, tool, `{"name":"Greeter","tool_code":""}`)
	if result.Status != hashiru.StatusError || !strings.Contains(result.Message, "tool_code") {
		t.Errorf("result = %+v", result)
	}
}

func TestToolDeletorRemovesInsideUserDir(t *testing.T) {
	userDir := t.TempDir()
	path := filepath.Join(userDir, "Greeter.py")
	if err := os.WriteFile(path, []byte(toolSource), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := ToolDeletor(userDir)

	args, _ := json.Marshal(map[string]string{"name": "Greeter", "file_path": path})
	result := execute(t, tool, string(args))
	if result.Status != hashiru.StatusSuccess || result.Message != "Tool deleted successfully" {
		t.Fatalf("result = %+v", result)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still present after delete")
	}
}

func TestToolDeletorRefusesOutsidePaths(t *testing.T) {
	root := t.TempDir()
	userDir := filepath.Join(root, "user_tools")
	victim := filepath.Join(root, "config.json")
	if err := os.WriteFile(victim, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := ToolDeletor(userDir)

	for _, path := range []string{
		victim,
		filepath.Join(userDir, "..", "config.json"),
		userDir,
	} {
		args, _ := json.Marshal(map[string]string{"name": "x", "file_path": path})
		result := execute(t, tool, string(args))
		if result.Status != hashiru.StatusError {
			t.Errorf("path %q accepted: %+v", path, result)
		}
	}
	if _, err := os.Stat(victim); err != nil {
		t.Errorf("file outside the user dir was removed: %v", err)
	}
}

func TestToolDeletorMissingFile(t *testing.T) {
	userDir := t.TempDir()
	tool := ToolDeletor(userDir)

	args, _ := json.Marshal(map[string]string{
		"name": "Ghost", "file_path": filepath.Join(userDir, "Ghost.py"),
	})
	result := execute(t, tool, string(args))
	if result.Status != hashiru.StatusError || !strings.Contains(result.Message, "deleting tool failed") {
		t.Errorf("result = %+v", result)
	}
}
