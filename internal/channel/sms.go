package channel

import (
	"context"

	"github.com/google/uuid"

	"github.com/textback/notify-api/pkg/metrics"

	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/service/render"
)

// SMSGateway is the slice of the provider gateway this adapter needs.
type SMSGateway interface {
	SendSMS(ctx context.Context, customerID uuid.UUID, to, body string) (string, error)
}

type SMSSender struct {
	gateway SMSGateway
	metrics *metrics.Metrics
}

func NewSMSSender(gateway SMSGateway, m *metrics.Metrics) *SMSSender {
	return &SMSSender{gateway: gateway, metrics: m}
}

func (s *SMSSender) Channel() model.Channel {
	return model.ChannelSMS
}

func (s *SMSSender) Send(ctx context.Context, to Recipient, content render.Content) error {
	err := sendWithRetry(ctx, model.ChannelSMS, s.metrics, func() error {
		_, sendErr := s.gateway.SendSMS(ctx, to.CustomerID, to.To, content.Body)
		return sendErr
	})
	s.observe(err)
	return err
}

func (s *SMSSender) observe(err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.ChannelSends.WithLabelValues(string(model.ChannelSMS), status).Inc()
}
