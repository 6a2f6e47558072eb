package model

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist or belongs to another organization.
	ErrNotFound = errors.New("not found")
	// ErrStaleState is returned when a conditional transition finds the job in a different state.
	ErrStaleState = errors.New("job state changed concurrently")
	// ErrInvalidTransition is returned for edges the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrQualificationLocked is returned when editing criteria that already have results.
	ErrQualificationLocked = errors.New("qualification has results and can no longer be edited")
	// ErrCriteriaChanged is returned when a result was scored against criteria
	// that have since been edited.
	ErrCriteriaChanged = errors.New("qualification criteria changed during scoring")
)

// ValidationError reports malformed or unresolvable input. No job is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotConfiguredError reports that no provider credentials are available for an organization.
type NotConfiguredError struct {
	OrganizationID int64
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("no enrichment provider configured for organization %d", e.OrganizationID)
}

// ProviderError is a failed call to an external provider or scoring backend.
type ProviderError struct {
	Provider   string
	StatusCode int           // zero for transport failures
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Body       string        // redacted and truncated response snippet
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the call may succeed.
func (e *ProviderError) Transient() bool {
	if e.StatusCode == 0 {
		var ne net.Error
		return errors.As(e.Err, &ne)
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// PartialDeliveryError lists profiles that received no data. It is informational only.
type PartialDeliveryError struct {
	JobID   string
	Missing []int64
}

func (e *PartialDeliveryError) Error() string {
	return fmt.Sprintf("job %s: no provider data for %d profile(s)", e.JobID, len(e.Missing))
}

// ScoringError summarizes per-profile scoring failures for a job.
type ScoringError struct {
	JobID    string
	Failures map[int64]string
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("job %s: scoring failed for all %d profile(s)", e.JobID, len(e.Failures))
}

// TransientError marks a failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err (or anything it wraps) is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._\-]+`),
	regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret)["']?\s*[=:]\s*["']?)[^\s"'&,}]+`),
}

// Redact masks credentials that providers sometimes echo back in error bodies.
func Redact(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, "${1}[redacted]")
	}
	return s
}

// Snippet returns a redacted body truncated to n bytes.
func Snippet(body []byte, n int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > n {
		s = s[:n] + "..."
	}
	return Redact(s)
}
