package api

import (
	"io"
	"net/http"

	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/gin-gonic/gin"
)

// maxDeliveryBytes caps a pushed webhook body.
const maxDeliveryBytes = 64 << 20

// DeepScrapeWebhook ingests a snapshot pushed by the deep-scrape provider.
// Non-2xx answers make the provider retry the delivery.
func (s *Server) DeepScrapeWebhook(c *gin.Context) {
	if s.deps.Webhook == nil {
		abortNotFound(c)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxDeliveryBytes))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "delivery body too large"})
		return
	}

	summary, err := s.deps.Webhook.Handle(c.Request.Context(),
		c.Query("snapshot_id"), c.GetHeader("X-Webhook-Secret"), body)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// StorageEvent receives object-finalized CloudEvents for snapshot files. The
// shared token comes in the X-Event-Token header or, for push subscriptions
// that cannot set headers, the token query parameter.
func (s *Server) StorageEvent(c *gin.Context) {
	if s.deps.Events == nil {
		abortNotFound(c)
		return
	}
	token := c.GetHeader("X-Event-Token")
	if token == "" {
		token = c.Query("token")
	}
	if err := s.deps.Events.Authorize(token); err != nil {
		s.abortWithError(c, err)
		return
	}
	event, err := cehttp.NewEventFromHTTPRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid cloudevent"})
		return
	}

	accepted, err := s.deps.Events.HandleEvent(c.Request.Context(), *event)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if !accepted {
		c.Status(http.StatusNoContent)
		return
	}
	c.Status(http.StatusAccepted)
}
