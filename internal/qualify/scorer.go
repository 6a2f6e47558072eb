package qualify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/amishk599/leadflow/internal/config"
)

// Scorer sends a rendered qualification prompt to an LLM and returns its raw
// JSON answer.
type Scorer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// NewScorer builds the scorer selected by cfg.Backend.
func NewScorer(ctx context.Context, cfg config.ScoringConfig, httpClient *http.Client) (Scorer, error) {
	switch cfg.Backend {
	case "openai":
		return NewOpenAIScorer(cfg.BaseURL, cfg.APIKey, cfg.Model, httpClient), nil
	case "gemini":
		return NewGeminiScorer(ctx, GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	default:
		return nil, fmt.Errorf("unknown scoring backend %q", cfg.Backend)
	}
}
