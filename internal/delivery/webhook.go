package delivery

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/amishk599/leadflow/internal/ingest"
	"github.com/amishk599/leadflow/internal/model"
)

// ErrBadSecret is returned when a delivery or notification carries the wrong shared secret.
var ErrBadSecret = errors.New("invalid delivery secret")

// Ingester stores provider deliveries.
type Ingester interface {
	Ingest(ctx context.Context, d ingest.Delivery) (ingest.Summary, error)
}

// Webhook accepts deep-scrape deliveries pushed by the provider.
type Webhook struct {
	ingestor Ingester
	secret   string
}

// NewWebhook creates a webhook receiver. With an empty secret every delivery is rejected.
func NewWebhook(ingestor Ingester, secret string) *Webhook {
	return &Webhook{ingestor: ingestor, secret: secret}
}

// Handle verifies secret and ingests body as the final delivery for snapshotID.
func (w *Webhook) Handle(ctx context.Context, snapshotID, secret string, body []byte) (ingest.Summary, error) {
	if !secretMatches(w.secret, secret) {
		return ingest.Summary{}, ErrBadSecret
	}
	if snapshotID == "" {
		return ingest.Summary{}, &model.ValidationError{Field: "snapshot_id", Message: "is required"}
	}
	records, err := ingest.ParseRecords(body)
	if err != nil {
		return ingest.Summary{}, &model.ValidationError{Field: "body", Message: err.Error()}
	}
	summary, err := w.ingestor.Ingest(ctx, ingest.Delivery{
		SnapshotID: snapshotID,
		Records:    records,
		Source:     model.ProviderDeepScrape,
		Final:      true,
	})
	if err != nil {
		return summary, fmt.Errorf("ingesting snapshot %s: %w", snapshotID, err)
	}
	return summary, nil
}

// secretMatches compares in constant time. An unset expected secret matches nothing.
func secretMatches(want, got string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
