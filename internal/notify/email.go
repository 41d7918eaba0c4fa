package notify

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/dockpulse/internal/models"
)

type EmailConfig struct {
	SMTPHost  string
	SMTPPort  int
	From      string
	Password  string
	Receivers []string
}

// Email sends alerts over SMTP.
type Email struct {
	config   EmailConfig
	dialer   *gomail.Dialer
	sender   gomail.Sender
	minLevel models.AlertLevel
}

func NewEmail(config EmailConfig, minLevel models.AlertLevel) *Email {
	return &Email{
		config:   config,
		dialer:   gomail.NewDialer(config.SMTPHost, config.SMTPPort, config.From, config.Password),
		minLevel: minLevel,
	}
}

// Notify satisfies alert.Callback. The context is not consulted because
// gomail has no cancellable send.
func (e *Email) Notify(_ context.Context, alert models.Alert) error {
	if alert.Level.Rank() < e.minLevel.Rank() {
		return nil
	}
	if len(e.config.Receivers) == 0 {
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.config.From)
	m.SetHeader("To", e.config.Receivers...)
	m.SetHeader("Subject", fmt.Sprintf("[%s] Container alert: %s", alert.Level, alert.ContainerName))
	m.SetBody("text/plain", fmt.Sprintf(`Container: %s (%s)
Alert Level: %s
Metric: %s
Current Value: %.2f
Threshold: %.2f
Message: %s
Time: %s
`, alert.ContainerName, alert.ContainerID, alert.Level, alert.Metric,
		alert.Value, alert.Threshold, alert.Message,
		alert.Timestamp.Format(time.RFC3339)))

	var err error
	if e.sender != nil {
		err = gomail.Send(e.sender, m)
	} else {
		err = e.dialer.DialAndSend(m)
	}
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}
