// Package embedding implements the embedding port against an
// OpenAI-compatible embeddings HTTP endpoint.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lancejames221b/haivemind/internal/adapter/otel"
	"github.com/lancejames221b/haivemind/internal/config"
	"github.com/lancejames221b/haivemind/internal/resilience"
)

// Client implements embedding.Provider against an OpenAI-compatible
// embeddings endpoint (URL/Model configurable to point at a local model server).
type Client struct {
	httpClient *http.Client
	url        string
	model      string
	apiKey     string
	dimension  int
	breaker    *resilience.Breaker
}

// NewClient creates a Client from embedding configuration.
func NewClient(cfg config.Embedding) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        cfg.URL,
		model:      cfg.Model,
		apiKey:     cfg.MasterKey,
		dimension:  cfg.Dimension,
	}
}

// SetBreaker attaches a circuit breaker to the embedding call path.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Dimension returns the configured embedding vector length.
func (c *Client) Dimension() int {
	return c.dimension
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns one embedding vector per input text, in the same order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := otel.StartEmbeddingSpan(ctx, c.model, len(texts))
	defer span.End()

	var result [][]float32

	call := func() error {
		body, err := json.Marshal(embedRequest{Input: texts, Model: c.model})
		if err != nil {
			return fmt.Errorf("marshal embed request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/embeddings", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build embed request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("embed request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("embed request returned %d: %s", resp.StatusCode, string(b))
		}

		var parsed embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("decode embed response: %w", err)
		}

		out := make([][]float32, len(texts))
		for _, d := range parsed.Data {
			if d.Index >= 0 && d.Index < len(out) {
				out[d.Index] = d.Embedding
			}
		}
		result = out
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
