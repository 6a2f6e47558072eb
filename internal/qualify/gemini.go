package qualify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"

	"github.com/amishk599/leadflow/internal/model"
)

// GeminiConfig configures the Gemini scoring backend.
type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the Gemini API base URL. Useful for proxies and tests.
	BaseURL string
}

// GeminiScorer scores profiles with the Gemini API using a response schema.
type GeminiScorer struct {
	client *genai.Client
	model  string
}

var _ Scorer = (*GeminiScorer)(nil)

// NewGeminiScorer creates a Gemini client for cfg.
func NewGeminiScorer(ctx context.Context, cfg GeminiConfig) (*GeminiScorer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("gemini model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiScorer{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

// Model returns the configured model name.
func (s *GeminiScorer) Model() string { return s.model }

var verdictGeminiSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"score":     {Type: genai.TypeInteger},
		"reasoning": {Type: genai.TypeString},
		"passed":    {Type: genai.TypeBoolean},
	},
	Required: []string{"score", "reasoning", "passed"},
}

// Complete sends prompt to Gemini and returns the JSON verdict.
func (s *GeminiScorer) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := s.client.Models.GenerateContent(
		ctx,
		s.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   verdictGeminiSchema,
		},
	)
	if err != nil {
		return "", classifyGeminiErr(err)
	}
	return resp.Text(), nil
}

// classifyGeminiErr marks rate limits, server errors and timeouts transient.
func classifyGeminiErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &model.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &model.TransientError{Err: err}
	}
	return err
}
