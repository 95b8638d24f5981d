package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIEmbedder embeds text batches through the OpenAI embeddings API or
// any compatible server.
type OpenAIEmbedder struct {
	URL    string
	Model  string
	APIKey string
	Dim    int
	Client *http.Client
}

func NewOpenAIEmbedder(url, model, apiKey string, dim int, timeout time.Duration) *OpenAIEmbedder {
	if url == "" {
		url = "https://api.openai.com/v1/embeddings"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIEmbedder{
		URL:    url,
		Model:  model,
		APIKey: apiKey,
		Dim:    dim,
		Client: &http.Client{Timeout: timeout},
	}
}

func (e *OpenAIEmbedder) Dimension() int { return e.Dim }

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload := map[string]any{
		"input": texts,
		"model": e.Model,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, &BackendError{Backend: "openai", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &BackendError{
			Backend: "openai",
			Err:     fmt.Errorf("status %s: %s", resp.Status, bytes.TrimSpace(body)),
		}
	}

	// Response shape: { "data": [ { "index": i, "embedding": [...] } ] }.
	// Entries are re-ordered by index since the API does not guarantee
	// input order.
	var openAIResp struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&openAIResp); err != nil {
		return nil, &BackendError{Backend: "openai", Err: fmt.Errorf("decoding response: %w", err)}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range openAIResp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, &BackendError{
				Backend: "openai",
				Err:     fmt.Errorf("embedding index %d out of range for %d inputs", d.Index, len(texts)),
			}
		}
		vectors[d.Index] = d.Embedding
	}
	if err := checkBatch("openai", vectors, texts, e.Dim); err != nil {
		return nil, err
	}
	return vectors, nil
}
