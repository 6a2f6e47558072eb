package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/amishk599/leadflow/internal/config"
	"github.com/amishk599/leadflow/internal/model"
)

// Ensure DeepScrapeClient implements model.ScrapeSubmitter.
var _ model.ScrapeSubmitter = (*DeepScrapeClient)(nil)

// DeepScrapeClient submits batches of profile URLs to an asynchronous scraping
// provider. It never polls; results are pushed back to the webhook or bucket.
type DeepScrapeClient struct {
	cfg        config.DeepScrapeConfig
	httpClient *http.Client
}

// NewDeepScrapeClient returns a client for the deep-scrape provider.
func NewDeepScrapeClient(cfg config.DeepScrapeConfig, httpClient *http.Client) *DeepScrapeClient {
	return &DeepScrapeClient{cfg: cfg, httpClient: httpClient}
}

// Configured reports whether the client has credentials and a dataset.
func (c *DeepScrapeClient) Configured() bool {
	return c.cfg.Configured()
}

type scrapeInput struct {
	URL string `json:"url"`
}

type triggerResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

// Submit triggers a scrape of urls and returns the provider's snapshot id.
func (c *DeepScrapeClient) Submit(ctx context.Context, urls []string) (string, error) {
	name := string(model.ProviderDeepScrape)
	if !c.Configured() {
		return "", &model.ProviderError{Provider: name, Err: errors.New("api key or dataset not configured")}
	}
	if len(urls) == 0 {
		return "", fmt.Errorf("deep scrape: no urls to submit")
	}

	inputs := make([]scrapeInput, len(urls))
	for i, u := range urls {
		inputs[i] = scrapeInput{URL: u}
	}
	body, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("deep scrape: marshal request: %w", err)
	}

	params := url.Values{}
	params.Set("dataset_id", c.cfg.DatasetID)
	params.Set("format", "json")
	params.Set("include_errors", "true")
	if c.cfg.WebhookURL != "" {
		params.Set("endpoint", c.cfg.WebhookURL)
		params.Set("uncompressed_webhook", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("deep scrape: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &model.ProviderError{Provider: name, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := readBody(resp)
	if err != nil {
		return "", &model.ProviderError{Provider: name, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", StatusError(name, resp, respBody)
	}

	var tr triggerResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", &model.ProviderError{Provider: name, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if tr.SnapshotID == "" {
		return "", &model.ProviderError{Provider: name, StatusCode: resp.StatusCode, Err: errors.New("response has no snapshot_id"), Body: model.Snippet(respBody, maxErrorSnippet)}
	}
	return tr.SnapshotID, nil
}
