package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

func TestFactoryRoutesLocalToOllama(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/v1/chat/completions" {
			fmt.Fprint(w, `{"choices":[{"message":{"content":"hello from llama"}}]}`)
		}
	}))
	defer srv.Close()

	factory := Factory(Keys{OllamaBaseURL: srv.URL + "/v1"})
	backend, err := factory(hashiru.AgentDescriptor{
		Name: "helper", BaseModel: "llama3.2", SystemPrompt: "be brief",
	}, hashiru.AgentLocal)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if backend.Name() != "ollama" {
		t.Errorf("Name = %q, want ollama", backend.Name())
	}

	reply, err := backend.Ask(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != "hello from llama" {
		t.Errorf("reply = %q", reply)
	}

	// The delete endpoint is derived from the daemon address.
	if err := backend.Drop(context.Background()); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if len(paths) != 2 || paths[1] != "/api/delete" {
		t.Errorf("paths = %v, want derived /api/delete", paths)
	}
}

func TestFactoryRoutesGemini(t *testing.T) {
	factory := Factory(Keys{GeminiKey: "k"})
	backend, err := factory(hashiru.AgentDescriptor{
		Name: "cloudy", BaseModel: "gemini-2.0-flash-lite",
	}, hashiru.AgentCloud)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if backend.Name() != "gemini" {
		t.Errorf("Name = %q, want gemini", backend.Name())
	}
}

func TestFactoryRoutesGroq(t *testing.T) {
	factory := Factory(Keys{GroqAPIKey: "k"})
	backend, err := factory(hashiru.AgentDescriptor{
		Name: "fast", BaseModel: "groq-qwen-qwq-32b",
	}, hashiru.AgentCloud)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if backend.Name() != "groq" {
		t.Errorf("Name = %q, want groq", backend.Name())
	}
}

func TestFactoryUnsupportedCloudModel(t *testing.T) {
	factory := Factory(Keys{})
	_, err := factory(hashiru.AgentDescriptor{
		Name: "mystery", BaseModel: "gpt-4",
	}, hashiru.AgentCloud)
	var um *hashiru.ErrUnsupportedModel
	if !errors.As(err, &um) {
		t.Fatalf("expected *ErrUnsupportedModel, got %v", err)
	}
	if um.BaseModel != "gpt-4" {
		t.Errorf("BaseModel = %q", um.BaseModel)
	}
}
