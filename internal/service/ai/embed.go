package ai

import (
	"context"
	"fmt"
	"time"

	"filevault/internal/config"

	openaiembed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
)

// Embedder computes fixed-dimension vectors. Enrichment and semantic search
// must share one implementation: vectors from different models live in
// different spaces and cannot be compared.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
}

// OpenAIEmbedder backs Embedder with the eino openai embedding adapter.
type OpenAIEmbedder struct {
	embedder embedding.Embedder
	model    string
	timeout  time.Duration
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewEmbedder builds the embedding gateway. Returns
// ErrEmbeddingUnavailable when no api key is configured, so callers can
// degrade instead of failing the pipeline.
func NewEmbedder(ctx context.Context, cfg *config.Config) (*OpenAIEmbedder, error) {
	embCfg := cfg.Embedding
	if embCfg.APIKey == "" {
		return nil, ErrEmbeddingUnavailable
	}
	conf := &openaiembed.EmbeddingConfig{
		APIKey:  embCfg.APIKey,
		Model:   embCfg.Model,
		BaseURL: embCfg.BaseURL,
	}
	if embCfg.Dimensions > 0 {
		dims := embCfg.Dimensions
		conf.Dimensions = &dims
	}
	inner, err := openaiembed.NewEmbedder(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	timeout := time.Duration(cfg.BasicConfig.AITimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultAITimeout
	}
	return &OpenAIEmbedder{embedder: inner, model: embCfg.Model, timeout: timeout}, nil
}

// Embed returns the vector for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("embed: empty text")
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vecs, err := e.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embed: empty vector")
	}
	return vecs[0], nil
}

// Model reports the embedding model identifier stored alongside vectors.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}
