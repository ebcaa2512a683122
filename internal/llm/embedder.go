// Package llm provides embedding and completion services using langchaingo.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/ragserve/internal/config"
	"github.com/raphaelgruber/ragserve/internal/metrics"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// maxEmbedBatch bounds the number of texts per embedding request to respect
// provider request-size limits.
const maxEmbedBatch = 100

// embedRetries is the number of attempts per sub-batch for retryable
// failures.
const embedRetries = 3

// Embedder wraps a langchaingo embedding client with batching, retry and
// dimension validation. Query and document embeddings use the same model so
// their vectors are comparable.
type Embedder struct {
	client    embeddings.EmbedderClient
	dimension int
	modelName string
	timeout   time.Duration
	metrics   *metrics.Collector
}

// NewEmbedder creates an embedder based on configuration.
func NewEmbedder(cfg config.Config, mc *metrics.Collector) (*Embedder, error) {
	var client embeddings.EmbedderClient

	switch cfg.EmbedProvider {
	case config.ProviderOllama, "":
		llm, err := ollama.New(
			ollama.WithModel(cfg.EmbedModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedding client: %w", err)
		}
		client = llm

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required for openai embeddings")
		}
		llm, err := openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithEmbeddingModel(cfg.EmbedModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai embedding client: %w", err)
		}
		client = llm

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.EmbedProvider)
	}

	return &Embedder{
		client:    client,
		dimension: cfg.EmbedDimension,
		modelName: cfg.EmbedModel,
		timeout:   cfg.EmbedTimeout,
		metrics:   mc,
	}, nil
}

// NewEmbedderWithClient wires an explicit client (used by tests).
func NewEmbedderWithClient(client embeddings.EmbedderClient, dimension int, timeout time.Duration) *Embedder {
	return &Embedder{client: client, dimension: dimension, timeout: timeout}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.modelName }

// Dimension returns the embedding vector width.
func (e *Embedder) Dimension() int { return e.dimension }

// EmbedDocuments embeds texts in order, one vector per input. Inputs are
// split into request-size-limited batches; a failed batch is retried for
// transient errors and otherwise fails the whole call, so the result never
// has fewer vectors than inputs.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := start + maxEmbedBatch
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single query text with the same model as documents.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		var svcErr *ServiceError
		if errors.As(err, &svcErr) {
			svcErr.Op = "embed_query"
		}
		return nil, err
	}
	return vecs[0], nil
}

// embedBatch performs one bounded request with retries on transient errors.
func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr *ServiceError

	for attempt := 0; attempt < embedRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, wrapServiceError("embed", ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		vecs, err := e.callOnce(ctx, texts)
		if err == nil {
			return vecs, nil
		}

		lastErr = wrapServiceError("embed", err)
		if !lastErr.Retryable {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (e *Embedder) callOnce(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	vecs, err := e.client.CreateEmbedding(callCtx, texts)
	if e.metrics != nil {
		e.metrics.RecordTiming(metrics.OpEmbedding, time.Since(start))
	}
	if err != nil {
		return nil, err
	}

	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("embedding %d dimension mismatch: got %d, want %d (model: %s)",
				i, len(v), e.dimension, e.modelName)
		}
	}
	return vecs, nil
}
