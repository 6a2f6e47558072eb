package model

import (
	"encoding/json"
	"time"
)

// Profile is a previously captured social profile. Rows are written by the capture side.
type Profile struct {
	ID             int64
	OrganizationID int64
	CanonicalURL   string
	FullName       string
	Company        string
	EnrichedAt     *time.Time
}

// Experience is one position in an enriched work history.
type Experience struct {
	Title     string `json:"title,omitempty"`
	Company   string `json:"company,omitempty"`
	Location  string `json:"location,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// Education is one entry of an enriched education history.
type Education struct {
	School    string `json:"school,omitempty"`
	Degree    string `json:"degree,omitempty"`
	Field     string `json:"field,omitempty"`
	StartYear string `json:"start_year,omitempty"`
	EndYear   string `json:"end_year,omitempty"`
}

// EnrichmentRecord is the normalized provider payload for one profile.
type EnrichmentRecord struct {
	ProfileID      int64
	Source         Provider
	SnapshotID     string
	FullName       string
	Headline       string
	Location       string
	CurrentCompany string
	CurrentTitle   string
	Summary        string
	Experience     []Experience
	Education      []Education
	Skills         []string
	Connections    int
	Followers      int
	RawPayload     json.RawMessage
	EnrichedAt     time.Time
}

// Criteria is the user-authored qualification document.
type Criteria struct {
	Summary            string   `json:"summary"`
	MustHave           []string `json:"must_have,omitempty"`
	NiceToHave         []string `json:"nice_to_have,omitempty"`
	Disqualifiers      []string `json:"disqualifiers,omitempty"`
	TargetTitles       []string `json:"target_titles,omitempty"`
	TargetLocations    []string `json:"target_locations,omitempty"`
	MinYearsExperience float64  `json:"min_years_experience,omitempty"`
}

// DefaultPassThreshold is the score at or above which a profile passes.
const DefaultPassThreshold = 70

// Qualification is a named set of criteria owned by an organization.
type Qualification struct {
	ID             int64
	OrganizationID int64
	Name           string
	Description    string
	Criteria       Criteria
	CriteriaHash   string
	PassThreshold  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// QualificationResult is the score of one profile against one qualification.
type QualificationResult struct {
	ProfileID       int64
	QualificationID int64
	JobID           string
	Score           int
	Passed          bool
	Reasoning       string
	LowConfidence   bool
	CriteriaHash    string
	Model           string
	EvaluatedAt     time.Time
}
