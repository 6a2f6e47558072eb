package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/amishk599/leadflow/internal/dispatch"
	"github.com/amishk599/leadflow/internal/model"
)

type enrichRequest struct {
	ProfileIDs      []int64 `json:"profileIds"`
	QualificationID *int64  `json:"qualificationId"`
}

// Enrich creates a job for the caller's profiles and submits it to a provider.
func (s *Server) Enrich(c *gin.Context) {
	var req enrichRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	receipt, err := s.deps.Dispatcher.Dispatch(c.Request.Context(), dispatch.Request{
		OrganizationID:  organizationID(c),
		ProfileIDs:      req.ProfileIDs,
		QualificationID: req.QualificationID,
	})
	if err != nil {
		var providerErr *model.ProviderError
		if errors.As(err, &providerErr) && receipt.JobID != "" {
			c.AbortWithStatusJSON(http.StatusBadGateway, errorResponse{
				Error: model.Redact(providerErr.Error()),
				JobID: receipt.JobID,
			})
			return
		}
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, receipt)
}

type jobResponse struct {
	ID              string       `json:"id"`
	Status          model.Status `json:"status"`
	Provider        string       `json:"provider"`
	SnapshotID      *string      `json:"snapshotId,omitempty"`
	QualificationID *int64       `json:"qualificationId,omitempty"`
	ProfileCount    int          `json:"profileCount"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	CompletedAt     *time.Time   `json:"completedAt,omitempty"`
	Summary         *jobSummary  `json:"summary,omitempty"`
}

type jobSummary struct {
	Enriched      int              `json:"enriched"`
	NotEnriched   int              `json:"notEnriched"`
	Scored        int              `json:"scored"`
	ScoringErrors int              `json:"scoringErrors"`
	Profiles      []profileOutcome `json:"profiles"`
}

type profileOutcome struct {
	ProfileID     int64  `json:"profileId"`
	URL           string `json:"url"`
	Enriched      bool   `json:"enriched"`
	Score         *int   `json:"score,omitempty"`
	Passed        *bool  `json:"passed,omitempty"`
	LowConfidence *bool  `json:"lowConfidence,omitempty"`
	Error         string `json:"error,omitempty"`
}

func newJobResponse(job *model.EnrichmentJob) jobResponse {
	return jobResponse{
		ID:              job.ID,
		Status:          job.Status,
		Provider:        string(job.Provider),
		SnapshotID:      job.SnapshotID,
		QualificationID: job.QualificationID,
		ProfileCount:    len(job.ProfileIDs),
		Error:           job.Error,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		CompletedAt:     job.CompletedAt,
	}
}

// GetJob reports a job's status, with a per-profile summary once it is terminal.
// Jobs of other organizations are reported as not found.
func (s *Server) GetJob(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := s.deps.Store.GetJob(ctx, organizationID(c), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	resp := newJobResponse(job)
	if job.Status.IsTerminal() {
		summary, err := s.summarize(c, job)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		resp.Summary = summary
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) summarize(c *gin.Context, job *model.EnrichmentJob) (*jobSummary, error) {
	ctx := c.Request.Context()
	records, err := s.deps.Store.RecordsForSnapshot(ctx, job.Snapshot(), job.ProfileIDs)
	if err != nil {
		return nil, err
	}
	var results map[int64]model.QualificationResult
	if job.QualificationID != nil {
		results, err = s.deps.Store.ResultsForProfiles(ctx, *job.QualificationID, job.ProfileIDs)
		if err != nil {
			return nil, err
		}
	}

	summary := &jobSummary{Profiles: make([]profileOutcome, 0, len(job.ProfileIDs))}
	for _, id := range job.ProfileIDs {
		out := profileOutcome{ProfileID: id, URL: job.ProfileURL(id)}
		if _, ok := records[id]; ok {
			out.Enriched = true
			summary.Enriched++
		} else {
			summary.NotEnriched++
		}
		// Results written by a later job for the same qualification are not
		// attributed to this one.
		if r, ok := results[id]; ok && r.JobID == job.ID {
			score, passed, low := r.Score, r.Passed, r.LowConfidence
			out.Score, out.Passed, out.LowConfidence = &score, &passed, &low
			summary.Scored++
		}
		if msg, ok := job.ScoringErrors[id]; ok {
			out.Error = msg
			summary.ScoringErrors++
		}
		summary.Profiles = append(summary.Profiles, out)
	}
	return summary, nil
}

// AbandonJob stops local processing of an in-flight job. Finished jobs answer 409.
func (s *Server) AbandonJob(c *gin.Context) {
	job, err := s.deps.Dispatcher.Abandon(c.Request.Context(), organizationID(c), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobResponse(job))
}
