package channel

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/textback/notify-api/pkg/metrics"

	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/service/render"
)

// mailDialer lets tests swap the SMTP transport.
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type EmailSender struct {
	dialer  mailDialer
	from    string
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewEmailSender(cfg EmailConfig, m *metrics.Metrics) *EmailSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &EmailSender{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		timeout: cfg.Timeout,
		metrics: m,
	}
}

func (s *EmailSender) Channel() model.Channel {
	return model.ChannelEmail
}

func (s *EmailSender) Send(ctx context.Context, to Recipient, content render.Content) error {
	err := sendWithRetry(ctx, model.ChannelEmail, s.metrics, func() error {
		return s.deliver(ctx, to.To, content)
	})
	s.observe(err)
	return err
}

// deliver runs the blocking gomail call under a bounded timeout; SMTP has
// no context support of its own.
func (s *EmailSender) deliver(ctx context.Context, to string, content render.Content) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", content.Subject)
	m.SetBody("text/plain", content.Body)

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("smtp send timed out after %s", s.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *EmailSender) observe(err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.ChannelSends.WithLabelValues(string(model.ChannelEmail), status).Inc()
}
