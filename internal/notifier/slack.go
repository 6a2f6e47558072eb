package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/leadflow/internal/model"
)

// Ensure SlackNotifier implements model.Notifier.
var _ model.Notifier = (*SlackNotifier)(nil)

// SlackNotifier sends job outcomes to a Slack channel via Incoming Webhooks.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackNotifier returns a notifier that posts each job event to Slack via webhook.
func NewSlackNotifier(webhookURL string, httpClient *http.Client, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Notify sends each event as a separate Slack message using Block Kit.
// Returns an error only if ALL messages fail. Individual failures are logged.
func (s *SlackNotifier) Notify(ctx context.Context, events []model.JobEvent) error {
	if len(events) == 0 {
		return nil
	}

	failures := 0
	for i, e := range events {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}

		if err := s.sendMessage(ctx, e); err != nil {
			s.logger.Error("slack notification failed", "job_id", e.Job.ID, "status", e.Job.Status, "error", err)
			failures++
		}
	}

	sent := len(events) - failures
	if failures == len(events) {
		return fmt.Errorf("all %d slack notifications failed", failures)
	}
	s.logger.Info("slack notifications complete", "sent", sent, "failed", failures)
	return nil
}

func (s *SlackNotifier) sendMessage(ctx context.Context, e model.JobEvent) error {
	body, err := json.Marshal(buildPayload(e))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	resp, err := s.post(ctx, body)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		if secs <= 0 {
			secs = 1
		}
		s.logger.Warn("slack rate limited, retrying", "retry_after_secs", secs)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(secs) * time.Second):
		}

		resp2, err := s.post(ctx, body)
		if err != nil {
			return fmt.Errorf("post to slack (retry): %w", err)
		}
		defer resp2.Body.Close()

		if resp2.StatusCode != http.StatusOK {
			return fmt.Errorf("slack returned %d on retry", resp2.StatusCode)
		}
		s.logger.Info("slack message sent", "job_id", e.Job.ID, "retried", true)
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	s.logger.Info("slack message sent", "job_id", e.Job.ID)
	return nil
}

func (s *SlackNotifier) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.httpClient.Do(req)
}

// Block Kit payload types.

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendTestMessage sends a sample job event to verify the integration works.
func SendTestMessage(ctx context.Context, n model.Notifier) error {
	now := time.Now()
	qualID := int64(1)
	event := model.JobEvent{
		Job: model.EnrichmentJob{
			ID:              "test-0001",
			OrganizationID:  1,
			ProfileIDs:      []int64{1, 2, 3},
			QualificationID: &qualID,
			Provider:        model.ProviderDeepScrape,
			Status:          model.StatusCompleted,
			CreatedAt:       now.Add(-4 * time.Minute),
			CompletedAt:     &now,
		},
		Enriched: 3,
		Scored:   3,
		Passed:   1,
	}
	return n.Notify(ctx, []model.JobEvent{event})
}

func buildPayload(e model.JobEvent) slackPayload {
	j := e.Job
	title := "✅ Enrichment job completed"
	if j.Status == model.StatusFailed {
		title = "❌ Enrichment job failed"
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: title},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Job:*\n`" + j.ID + "`"},
				{Type: "mrkdwn", Text: "*Provider:*\n" + string(j.Provider)},
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Profiles:*\n" + strconv.Itoa(len(j.ProfileIDs))},
				{Type: "mrkdwn", Text: "*Enriched:*\n" + strconv.Itoa(e.Enriched)},
			},
		},
	}

	if j.QualificationID != nil {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Scored:*\n" + strconv.Itoa(e.Scored)},
				{Type: "mrkdwn", Text: "*Passed:*\n" + strconv.Itoa(e.Passed)},
			},
		})
	}

	if j.Error != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "*Error:* " + j.Error},
		})
	}

	footer := fmt.Sprintf("Organization %d", j.OrganizationID)
	if j.CompletedAt != nil && !j.CreatedAt.IsZero() {
		footer += " • took " + j.CompletedAt.Sub(j.CreatedAt).Round(time.Second).String()
	}
	blocks = append(blocks,
		slackBlock{
			Type:     "context",
			Elements: []slackText{{Type: "mrkdwn", Text: footer}},
		},
		slackBlock{Type: "divider"},
	)

	return slackPayload{Blocks: blocks}
}
