package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/amishk599/leadflow/internal/model"
)

// Ensure LookupClient implements model.LookupProvider.
var _ model.LookupProvider = (*LookupClient)(nil)

// LookupClient calls a person-lookup API: one GET per profile, answered synchronously.
type LookupClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewLookupClient returns a client for the lookup provider at baseURL.
func NewLookupClient(baseURL, apiKey string, httpClient *http.Client) *LookupClient {
	return &LookupClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// Configured reports whether the client has credentials.
func (c *LookupClient) Configured() bool {
	return c.apiKey != ""
}

type lookupResponse struct {
	Status     int             `json:"status"`
	Likelihood int             `json:"likelihood"`
	Data       json.RawMessage `json:"data"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Lookup resolves one person. A recognized "not found" answer returns
// Found=false with a nil error; every other failure is a *model.ProviderError.
func (c *LookupClient) Lookup(ctx context.Context, q model.LookupQuery) (model.LookupResult, error) {
	if !c.Configured() {
		return model.LookupResult{}, &model.ProviderError{Provider: string(model.ProviderLookup), Err: errors.New("api key not configured")}
	}

	params := url.Values{}
	switch {
	case q.ProfileURL != "":
		params.Set("profile", q.ProfileURL)
	case q.Name != "":
		params.Set("name", q.Name)
		if q.Company != "" {
			params.Set("company", q.Company)
		}
	default:
		return model.LookupResult{}, fmt.Errorf("lookup: query needs a profile url or a name")
	}

	reqURL := c.baseURL
	if strings.Contains(reqURL, "?") {
		reqURL += "&" + params.Encode()
	} else {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.LookupResult{}, fmt.Errorf("lookup: create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.LookupResult{}, &model.ProviderError{Provider: string(model.ProviderLookup), Err: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return model.LookupResult{}, &model.ProviderError{Provider: string(model.ProviderLookup), StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusNotFound && isNotFoundBody(body) {
		return model.LookupResult{Found: false}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.LookupResult{}, StatusError(string(model.ProviderLookup), resp, body)
	}

	var lr lookupResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return model.LookupResult{}, &model.ProviderError{Provider: string(model.ProviderLookup), StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(bytes.TrimSpace(lr.Data)) == 0 || string(bytes.TrimSpace(lr.Data)) == "null" {
		return model.LookupResult{Found: false, Likelihood: lr.Likelihood}, nil
	}
	return model.LookupResult{Found: true, Likelihood: lr.Likelihood, Data: lr.Data}, nil
}

// isNotFoundBody recognizes the provider's "no match" 404, as opposed to a
// 404 from a wrong base URL.
func isNotFoundBody(body []byte) bool {
	var lr lookupResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return false
	}
	if lr.Error != nil {
		if lr.Error.Type == "not_found" {
			return true
		}
		return strings.Contains(strings.ToLower(lr.Error.Message), "no records were found") ||
			strings.Contains(strings.ToLower(lr.Error.Message), "not found")
	}
	return lr.Status == http.StatusNotFound
}
