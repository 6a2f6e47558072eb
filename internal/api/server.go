package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/gin-gonic/gin"

	"github.com/amishk599/leadflow/internal/config"
	"github.com/amishk599/leadflow/internal/dispatch"
	"github.com/amishk599/leadflow/internal/ingest"
	"github.com/amishk599/leadflow/internal/model"
)

// Dispatcher creates and abandons enrichment jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Receipt, error)
	Abandon(ctx context.Context, orgID int64, jobID string) (*model.EnrichmentJob, error)
}

// Store is the subset of the job store the API reads and writes directly.
type Store interface {
	GetJob(ctx context.Context, orgID int64, id string) (*model.EnrichmentJob, error)
	RecordsForSnapshot(ctx context.Context, snapshotID string, ids []int64) (map[int64]model.EnrichmentRecord, error)
	ResultsForProfiles(ctx context.Context, qualificationID int64, ids []int64) (map[int64]model.QualificationResult, error)
	CreateQualification(ctx context.Context, q *model.Qualification) error
	GetQualification(ctx context.Context, orgID, id int64) (*model.Qualification, error)
	UpdateQualification(ctx context.Context, q *model.Qualification) error
}

// WebhookHandler ingests deep-scrape deliveries pushed by the provider.
type WebhookHandler interface {
	Handle(ctx context.Context, snapshotID, secret string, body []byte) (ingest.Summary, error)
}

// EventHandler receives storage notifications.
type EventHandler interface {
	Authorize(token string) error
	HandleEvent(ctx context.Context, e cloudevents.Event) (bool, error)
}

// Exporter renders qualification results as a workbook.
type Exporter interface {
	ExportResultsXLSX(ctx context.Context, orgID, qualificationID int64) ([]byte, error)
}

// Deps are the components the API routes call into. Webhook, Events and
// Exporter are optional; their routes answer 404 when unset.
type Deps struct {
	Dispatcher Dispatcher
	Store      Store
	Webhook    WebhookHandler
	Events     EventHandler
	Exporter   Exporter
}

// Server is the inbound HTTP API.
type Server struct {
	deps            Deps
	keys            []orgKey
	engine          *gin.Engine
	addr            string
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewServer builds the router. Organizations without an API key cannot call
// the /v1 routes.
func NewServer(cfg config.ServerConfig, orgs []config.OrganizationConfig, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		deps:            deps,
		addr:            cfg.Addr,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
	}
	for _, o := range orgs {
		if o.APIKey != "" {
			s.keys = append(s.keys, orgKey{orgID: o.ID, key: []byte(o.APIKey)})
		}
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/webhooks/deep-scrape", s.DeepScrapeWebhook)
	r.POST("/events/storage", s.StorageEvent)

	v1 := r.Group("/v1", s.APIKeyRequired())
	v1.POST("/enrich", s.Enrich)
	v1.GET("/jobs/:id", s.GetJob)
	v1.POST("/jobs/:id/abandon", s.AbandonJob)
	v1.POST("/qualifications", s.CreateQualification)
	v1.GET("/qualifications/:id", s.GetQualification)
	v1.PUT("/qualifications/:id", s.UpdateQualification)
	v1.GET("/qualifications/:id/results.xlsx", s.ExportResults)
	return r
}

// Handler returns the router for use with httptest or a custom listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("api shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}
