package model

import (
	"context"
	"time"
)

// Status is the lifecycle state of an enrichment job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScraping   Status = "scraping"
	StatusEnriching  Status = "enriching"
	StatusQualifying Status = "qualifying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScraping, StatusEnriching, StatusQualifying, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// forward lists the legal non-failure edges. Any non-terminal state may also move to failed.
var forward = map[Status][]Status{
	StatusPending:    {StatusScraping},
	StatusScraping:   {StatusEnriching},
	StatusEnriching:  {StatusQualifying, StatusCompleted},
	StatusQualifying: {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal edge of the job state machine.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Provider identifies which enrichment provider a job was submitted to.
type Provider string

const (
	ProviderDeepScrape Provider = "deep_scrape"
	ProviderLookup     Provider = "lookup"
)

// EnrichmentJob is one batch request to enrich (and optionally qualify) a set of profiles.
type EnrichmentJob struct {
	ID              string
	OrganizationID  int64
	ProfileIDs      []int64
	ProfileURLs     []string // canonical URLs submitted to the provider, parallel to ProfileIDs
	QualificationID *int64   // nil means enrich only
	Provider        Provider
	SnapshotID      *string // nil until submitted
	Status          Status
	Error           string           // set only when Status is failed
	ScoringErrors   map[int64]string // per-profile scoring failures
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// ProfileURL returns the submitted URL for profile id, or "" if the job does not contain it.
func (j *EnrichmentJob) ProfileURL(id int64) string {
	for i, pid := range j.ProfileIDs {
		if pid == id && i < len(j.ProfileURLs) {
			return j.ProfileURLs[i]
		}
	}
	return ""
}

// Snapshot returns the provider snapshot id, or "" before submission.
func (j *EnrichmentJob) Snapshot() string {
	if j.SnapshotID == nil {
		return ""
	}
	return *j.SnapshotID
}

// TransitionOpts carries the optional fields written alongside a status change.
type TransitionOpts struct {
	SnapshotID    *string
	Error         string
	ScoringErrors map[int64]string
}

// JobEvent describes a terminal job transition for notification.
type JobEvent struct {
	Job      EnrichmentJob
	Enriched int
	Scored   int
	Passed   int
}

// Notifier announces jobs that reached a terminal state.
type Notifier interface {
	Notify(ctx context.Context, events []JobEvent) error
}
