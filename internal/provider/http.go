package provider

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/leadflow/internal/model"
)

const maxErrorSnippet = 512

// maxResponseBytes caps a provider response body. A single profile or a
// trigger acknowledgement is far smaller.
const maxResponseBytes = 4 << 20

// readBody reads resp.Body up to maxResponseBytes and fails if it is longer.
func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)
	}
	return body, nil
}

// parseRetryAfter parses the Retry-After header value into a duration.
// Supports seconds format (e.g. "120"). Returns zero if absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// StatusError builds a ProviderError for a non-2xx response. The body is read
// for a redacted snippet only.
func StatusError(name string, resp *http.Response, body []byte) *model.ProviderError {
	if body == nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet*2))
	}
	return &model.ProviderError{
		Provider:   name,
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		Body:       model.Snippet(body, maxErrorSnippet),
	}
}
