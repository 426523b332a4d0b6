// Package resolve maps base model identifiers to concrete agent backends.
package resolve

import (
	"strings"

	hashiru "github.com/kunpai/AcadHASHIRU"
	"github.com/kunpai/AcadHASHIRU/provider/gemini"
	"github.com/kunpai/AcadHASHIRU/provider/openaicompat"
)

// Default endpoints.
const (
	groqBaseURL     = "https://api.groq.com/openai/v1"
	ollamaBaseURL   = "http://localhost:11434/v1"
	groqModelPrefix = "groq-"
)

// Keys holds the provider credentials the factory hands out to backends.
type Keys struct {
	GeminiKey  string
	GroqAPIKey string

	// OllamaBaseURL overrides the local daemon address (tests, remote
	// daemons). Empty means localhost.
	OllamaBaseURL string
	// OllamaDeleteURL overrides the native delete endpoint. Empty derives
	// it from the daemon address.
	OllamaDeleteURL string
}

// Factory returns a hashiru.AgentBackendFactory that constructs the
// provider-specific backend for each agent descriptor:
//
//   - local models (llama*, mistral, deepseek*) go to the Ollama daemon;
//   - base models containing "gemini" go to the Gemini API;
//   - base models containing "groq" go to Groq's OpenAI-compatible API.
func Factory(keys Keys) hashiru.AgentBackendFactory {
	return func(desc hashiru.AgentDescriptor, typ hashiru.AgentType) (hashiru.AgentBackend, error) {
		if typ == hashiru.AgentLocal {
			base := keys.OllamaBaseURL
			if base == "" {
				base = ollamaBaseURL
			}
			drop := keys.OllamaDeleteURL
			if drop == "" {
				drop = strings.TrimSuffix(base, "/v1") + "/api/delete"
			}
			return openaicompat.New("", desc.BaseModel, base, desc.SystemPrompt,
				openaicompat.WithName("ollama"),
				openaicompat.WithDropEndpoint(drop)), nil
		}

		lower := strings.ToLower(desc.BaseModel)
		switch {
		case strings.Contains(lower, "gemini"):
			return gemini.NewAgent(keys.GeminiKey, desc.BaseModel, desc.SystemPrompt), nil
		case strings.Contains(lower, "groq"):
			model := strings.TrimPrefix(lower, groqModelPrefix)
			return openaicompat.New(keys.GroqAPIKey, model, groqBaseURL, desc.SystemPrompt,
				openaicompat.WithName("groq")), nil
		}
		return nil, &hashiru.ErrUnsupportedModel{BaseModel: desc.BaseModel}
	}
}
