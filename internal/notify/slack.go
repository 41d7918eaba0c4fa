package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"github.com/dockpulse/internal/models"
)

// Slack posts alerts to a channel through the Slack Web API.
type Slack struct {
	client   *slack.Client
	channel  string
	minLevel models.AlertLevel
}

func NewSlack(token, channel string, minLevel models.AlertLevel, opts ...slack.Option) *Slack {
	return &Slack{
		client:   slack.New(token, opts...),
		channel:  channel,
		minLevel: minLevel,
	}
}

// Notify satisfies alert.Callback.
func (s *Slack) Notify(ctx context.Context, alert models.Alert) error {
	if alert.Level.Rank() < s.minLevel.Rank() {
		return nil
	}

	attachment := slack.Attachment{
		Color:    getAlertColor(alert.Level),
		Title:    fmt.Sprintf("%s alert: %s", alert.Level, alert.ContainerName),
		Text:     alert.Message,
		Fallback: alert.Message,
		Fields: []slack.AttachmentField{
			{Title: "Container", Value: alert.ContainerName, Short: true},
			{Title: "Level", Value: string(alert.Level), Short: true},
			{Title: "Metric", Value: string(alert.Metric), Short: true},
			{Title: "Value", Value: fmt.Sprintf("%.2f", alert.Value), Short: true},
			{Title: "Threshold", Value: fmt.Sprintf("%.2f", alert.Threshold), Short: true},
			{Title: "Time", Value: alert.Timestamp.Format(time.RFC3339), Short: true},
		},
		Footer: "dockpulse",
		Ts:     json.Number(strconv.FormatInt(alert.Timestamp.Unix(), 10)),
	}

	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(alert.Message, false),
		slack.MsgOptionAttachments(attachment),
	)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	return nil
}

func getAlertColor(level models.AlertLevel) string {
	switch level {
	case models.AlertLevelCritical:
		return "#FF0000"
	case models.AlertLevelWarning:
		return "#FFA500"
	case models.AlertLevelInfo:
		return "#36A64F"
	default:
		return "#808080"
	}
}
