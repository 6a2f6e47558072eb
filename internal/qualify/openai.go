package qualify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/amishk599/leadflow/internal/model"
	"github.com/amishk599/leadflow/internal/provider"
)

const openAIProvider = "openai"

// OpenAIScorer calls the OpenAI /v1/chat/completions endpoint with structured outputs.
type OpenAIScorer struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ Scorer = (*OpenAIScorer)(nil)

// NewOpenAIScorer creates a scorer targeting an OpenAI-compatible API.
func NewOpenAIScorer(baseURL, apiKey, model string, httpClient *http.Client) *OpenAIScorer {
	return &OpenAIScorer{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
	}
}

// Model returns the configured model name.
func (s *OpenAIScorer) Model() string { return s.model }

// chatRequest mirrors the OpenAI /v1/chat/completions request body.
type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    int            `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema jsonSchemaSpec `json:"json_schema"`
}

type jsonSchemaSpec struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

// chatResponse mirrors the relevant fields of the OpenAI response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends prompt to OpenAI and returns the JSON verdict. Non-2xx
// responses and transport failures are *model.ProviderError.
func (s *OpenAIScorer) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You evaluate professional profiles against hiring and sales qualification criteria."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		MaxTokens:   1024,
		ResponseFormat: responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaSpec{
				Name:   "qualification_verdict",
				Strict: true,
				Schema: verdictRequestSchema,
			},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal scoring request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &model.ProviderError{Provider: openAIProvider, Err: err}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &model.ProviderError{Provider: openAIProvider, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", provider.StatusError(openAIProvider, resp, respBytes)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBytes, &chatResp); err != nil {
		return "", fmt.Errorf("parse scoring response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("scoring error (%s): %s", chatResp.Error.Type, model.Redact(chatResp.Error.Message))
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("scoring backend returned no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}
