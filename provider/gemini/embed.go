package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

// Embedding implements hashiru.EmbeddingProvider for Gemini embedding
// models.
type Embedding struct {
	apiKey     string
	model      string
	dims       int
	httpClient *http.Client
}

// NewEmbedding creates a Gemini embedding provider.
func NewEmbedding(apiKey, model string, dims int) *Embedding {
	return &Embedding{
		apiKey:     apiKey,
		model:      model,
		dims:       dims,
		httpClient: &http.Client{},
	}
}

// Name returns "gemini".
func (e *Embedding) Name() string { return "gemini" }

// Dimensions returns the configured embedding dimensionality.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed embeds each text sequentially and returns the vectors in order.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", baseURL, e.model, e.apiKey)

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body := map[string]any{
			"content": map[string]any{
				"parts": []map[string]any{{"text": text}},
			},
			"outputDimensionality": e.dims,
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, wrapEmbedErr("marshal embed body: " + err.Error())
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
		if err != nil {
			return nil, wrapEmbedErr("create embed request: " + err.Error())
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(httpReq)
		if err != nil {
			return nil, wrapEmbedErr("embed request failed: " + err.Error())
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, wrapEmbedErr("read embed response: " + err.Error())
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, httpErr(resp.StatusCode, string(respBody))
		}

		var parsed struct {
			Embedding *struct {
				Values []float64 `json:"values"`
			} `json:"embedding"`
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, wrapEmbedErr("parse embed response: " + err.Error())
		}
		if parsed.Embedding == nil {
			return nil, wrapEmbedErr("missing embedding.values in response")
		}
		vec := make([]float32, len(parsed.Embedding.Values))
		for i, v := range parsed.Embedding.Values {
			vec[i] = float32(v)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func wrapEmbedErr(msg string) error {
	return &hashiru.ErrBackend{Provider: "gemini", Message: msg}
}

// Compile-time interface assertion.
var _ hashiru.EmbeddingProvider = (*Embedding)(nil)
