package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filevault/internal/config"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// ErrEmbeddingUnavailable signals that no embedding service is configured or
// reachable. Callers degrade: metadata persists without a vector.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// Result is the structured response contract of the analysis model. Any
// upstream reply that does not decode into this shape is treated as an
// analysis failure by the caller.
type Result struct {
	Category        string         `json:"category"`
	Subcategory     string         `json:"subcategory"`
	Summary         string         `json:"summary"`
	Tags            []string       `json:"tags"`
	Entities        map[string]any `json:"entities"`
	KeyInfo         map[string]any `json:"key_info"`
	ConfidenceScore float64        `json:"confidence_score"`
}

// Analyzer is the content-analysis collaborator. Implementations are
// stateless request/response adapters.
type Analyzer interface {
	AnalyzeText(ctx context.Context, content, filename, mediaType string) (*Result, error)
	AnalyzeImage(ctx context.Context, image []byte, mediaType, filename string) (*Result, error)
}

const defaultAITimeout = 60 * time.Second

// Gateway talks to a hosted chat model through eino and maps its replies
// onto the Result schema.
type Gateway struct {
	chatModel model.ToolCallingChatModel
	timeout   time.Duration
}

var _ Analyzer = (*Gateway)(nil)

// NewGateway builds the analysis gateway for the configured provider.
func NewGateway(ctx context.Context, provider string, cfg *config.Config) (*Gateway, error) {
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 2000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	timeout := time.Duration(cfg.BasicConfig.AITimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultAITimeout
	}
	return &Gateway{chatModel: chatModel, timeout: timeout}, nil
}
