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

// OllamaEmbedder embeds text batches through a remote Ollama instance using
// the /api/embed endpoint, which accepts a list of inputs per request.
type OllamaEmbedder struct {
	URL    string
	Model  string
	Dim    int
	Client *http.Client
}

func NewOllamaEmbedder(url, model string, dim int, timeout time.Duration) *OllamaEmbedder {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaEmbedder{
		URL:    url,
		Model:  model,
		Dim:    dim,
		Client: &http.Client{Timeout: timeout},
	}
}

func (e *OllamaEmbedder) Dimension() int { return e.Dim }

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload := map[string]any{
		"model": e.Model,
		"input": texts,
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

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, &BackendError{Backend: "ollama", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &BackendError{
			Backend: "ollama",
			Err:     fmt.Errorf("status %s: %s", resp.Status, bytes.TrimSpace(body)),
		}
	}

	var ollamaResp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, &BackendError{Backend: "ollama", Err: fmt.Errorf("decoding response: %w", err)}
	}

	if err := checkBatch("ollama", ollamaResp.Embeddings, texts, e.Dim); err != nil {
		return nil, err
	}
	return ollamaResp.Embeddings, nil
}
