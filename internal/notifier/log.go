package notifier

import (
	"context"
	"log/slog"

	"github.com/amishk599/leadflow/internal/model"
)

// Ensure LogNotifier implements model.Notifier.
var _ model.Notifier = (*LogNotifier)(nil)

// LogNotifier writes finished jobs to the given logger as structured messages.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that logs each job event via slog.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs each event. Returns nil (stdout logging does not fail).
func (n *LogNotifier) Notify(_ context.Context, events []model.JobEvent) error {
	for _, e := range events {
		args := []any{
			"job_id", e.Job.ID,
			"organization_id", e.Job.OrganizationID,
			"status", e.Job.Status,
			"profiles", len(e.Job.ProfileIDs),
			"enriched", e.Enriched,
		}
		if e.Job.QualificationID != nil {
			args = append(args, "scored", e.Scored, "passed", e.Passed)
		}
		if e.Job.Error != "" {
			args = append(args, "error", e.Job.Error)
		}
		n.logger.Info("job finished", args...)
	}
	return nil
}
