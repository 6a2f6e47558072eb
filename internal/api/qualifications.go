package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/amishk599/leadflow/internal/model"
	"github.com/amishk599/leadflow/internal/qualify"
)

type qualificationRequest struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Criteria      model.Criteria `json:"criteria"`
	PassThreshold int            `json:"passThreshold"`
}

type qualificationResponse struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Criteria      model.Criteria `json:"criteria"`
	CriteriaHash  string         `json:"criteriaHash"`
	PassThreshold int            `json:"passThreshold"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func newQualificationResponse(q *model.Qualification) qualificationResponse {
	return qualificationResponse{
		ID:            q.ID,
		Name:          q.Name,
		Description:   q.Description,
		Criteria:      q.Criteria,
		CriteriaHash:  q.CriteriaHash,
		PassThreshold: q.PassThreshold,
		CreatedAt:     q.CreatedAt,
		UpdatedAt:     q.UpdatedAt,
	}
}

// bindQualification decodes and validates a qualification body into q.
func bindQualification(c *gin.Context, q *model.Qualification) error {
	var req qualificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return &model.ValidationError{Message: "invalid request body"}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return &model.ValidationError{Field: "name", Message: "is required"}
	}
	if req.PassThreshold < 0 || req.PassThreshold > 100 {
		return &model.ValidationError{Field: "passThreshold", Message: "must be between 0 and 100"}
	}
	if err := qualify.ValidateCriteria(req.Criteria); err != nil {
		return err
	}

	q.Name = name
	q.Description = strings.TrimSpace(req.Description)
	q.Criteria = req.Criteria
	q.CriteriaHash = qualify.HashCriteria(req.Criteria)
	q.PassThreshold = req.PassThreshold
	if q.PassThreshold == 0 {
		q.PassThreshold = model.DefaultPassThreshold
	}
	return nil
}

// CreateQualification stores a new set of criteria for the caller's organization.
func (s *Server) CreateQualification(c *gin.Context) {
	q := &model.Qualification{OrganizationID: organizationID(c)}
	if err := bindQualification(c, q); err != nil {
		s.abortWithError(c, err)
		return
	}
	if err := s.deps.Store.CreateQualification(c.Request.Context(), q); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newQualificationResponse(q))
}

// GetQualification returns one of the caller's qualifications.
func (s *Server) GetQualification(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	q, err := s.deps.Store.GetQualification(c.Request.Context(), organizationID(c), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newQualificationResponse(q))
}

// UpdateQualification replaces a qualification's criteria. Qualifications
// that already have results answer 409.
func (s *Server) UpdateQualification(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	q, err := s.deps.Store.GetQualification(ctx, organizationID(c), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if err := bindQualification(c, q); err != nil {
		s.abortWithError(c, err)
		return
	}
	if err := s.deps.Store.UpdateQualification(ctx, q); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newQualificationResponse(q))
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportResults downloads the qualification's results as a workbook.
func (s *Server) ExportResults(c *gin.Context) {
	if s.deps.Exporter == nil {
		abortNotFound(c)
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	data, err := s.deps.Exporter.ExportResultsXLSX(c.Request.Context(), organizationID(c), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="qualification-%d.xlsx"`, id))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// idParam parses the :id path segment. Malformed ids answer 404 like unknown ones.
func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abortNotFound(c)
		return 0, false
	}
	return id, true
}
