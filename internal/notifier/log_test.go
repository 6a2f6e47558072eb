package notifier

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/amishk599/leadflow/internal/model"
)

func TestLogNotifier_Notify_zeroEvents(t *testing.T) {
	n := NewLogNotifier(discardLogger())
	if err := n.Notify(context.Background(), nil); err != nil {
		t.Errorf("Notify(nil) = %v, want nil", err)
	}
}

func TestLogNotifier_Notify_writesFields(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	qualID := int64(3)
	failed := sampleEvent("job-2", model.StatusFailed)
	failed.Job.QualificationID = &qualID
	failed.Job.Error = "abandoned by caller"
	events := []model.JobEvent{sampleEvent("job-1", model.StatusCompleted), failed}

	if err := n.Notify(context.Background(), events); err != nil {
		t.Fatalf("Notify = %v, want nil", err)
	}
	out := buf.String()
	for _, want := range []string{"job_id=job-1", "status=completed", "job_id=job-2", "scored=0", `error="abandoned by caller"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
