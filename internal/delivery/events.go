package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/amishk599/leadflow/internal/queue"
)

// ObjectFinalizedType is the CloudEvents type GCS emits when an upload completes.
const ObjectFinalizedType = "google.cloud.storage.object.v1.finalized"

// DefaultPrefix is where the deep-scrape provider writes snapshot files.
const DefaultPrefix = "snapshots/"

// GCSEvent is the payload of a Cloud Storage CloudEvent.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// Enqueuer hands object ingestion to the background workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind queue.Kind, payload queue.Payload, dedupeKey string) (bool, error)
}

// EventReceiver turns storage notifications for snapshot files into
// ingest_object tasks. Fetching and ingesting happen on a worker so the
// notification is acknowledged quickly.
type EventReceiver struct {
	queue  Enqueuer
	bucket string
	prefix string
	token  string
	logger *slog.Logger
}

// NewEventReceiver creates a receiver for snapshot files under prefix in
// bucket. An empty bucket accepts any bucket. Notifications must present
// token; with an empty token every notification is rejected.
func NewEventReceiver(q Enqueuer, bucket, prefix, token string, logger *slog.Logger) *EventReceiver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &EventReceiver{queue: q, bucket: bucket, prefix: prefix, token: token, logger: logger}
}

// Authorize checks the token presented with a notification.
func (r *EventReceiver) Authorize(token string) error {
	if !secretMatches(r.token, token) {
		return ErrBadSecret
	}
	return nil
}

// HandleEvent enqueues ingestion of the object named by e. Events for other
// types, buckets, or objects outside the snapshot prefix are ignored and
// reported as not accepted.
func (r *EventReceiver) HandleEvent(ctx context.Context, e cloudevents.Event) (bool, error) {
	if e.Type() != ObjectFinalizedType {
		r.logger.Debug("ignoring storage event", "type", e.Type(), "id", e.ID())
		return false, nil
	}

	var gcsEvent GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		return false, fmt.Errorf("decoding storage event %s: %w", e.ID(), err)
	}
	logger := r.logger.With("bucket", gcsEvent.Bucket, "object", gcsEvent.Name)

	if r.bucket != "" && gcsEvent.Bucket != r.bucket {
		logger.Debug("ignoring object in unexpected bucket")
		return false, nil
	}
	snapshotID, ok := SnapshotFromObject(r.prefix, gcsEvent.Name)
	if !ok {
		logger.Debug("ignoring object outside snapshot prefix")
		return false, nil
	}

	payload := queue.Payload{SnapshotID: snapshotID, Bucket: gcsEvent.Bucket, Object: gcsEvent.Name}
	created, err := r.queue.Enqueue(ctx, queue.KindIngestObject, payload, "object:"+gcsEvent.Bucket+"/"+gcsEvent.Name)
	if err != nil {
		return false, err
	}
	logger.Info("snapshot object queued", "snapshot_id", snapshotID, "duplicate", !created)
	return true, nil
}

// SnapshotFromObject extracts the snapshot id from an object named
// <prefix><snapshot_id>.json or .ndjson.
func SnapshotFromObject(prefix, name string) (string, bool) {
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	base := strings.TrimPrefix(name, prefix)
	if strings.Contains(base, "/") {
		return "", false
	}
	ext := path.Ext(base)
	if ext != ".json" && ext != ".ndjson" {
		return "", false
	}
	id := strings.TrimSuffix(base, ext)
	return id, id != ""
}

// ObjectName is the inverse of SnapshotFromObject for .json files.
func ObjectName(prefix, snapshotID string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + snapshotID + ".json"
}
