package channel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	apperrors "github.com/textback/notify-api/pkg/errors"

	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/service/render"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := sendWithRetry(context.Background(), model.ChannelEmail, nil, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterThreeAttempts(t *testing.T) {
	calls := 0
	boom := fmt.Errorf("provider 503")
	err := sendWithRetry(context.Background(), model.ChannelSMS, nil, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetrySkipsConfigErrors(t *testing.T) {
	calls := 0
	err := sendWithRetry(context.Background(), model.ChannelSMS, nil, func() error {
		calls++
		return apperrors.MissingSMSPhone()
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "config errors are terminal")
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := sendWithRetry(ctx, model.ChannelEmail, nil, func() error {
		calls++
		return fmt.Errorf("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancelled during backoff, no further attempts")
}

type fakeDialer struct {
	sent []*gomail.Message
	errs []error
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func TestEmailSenderRetriesThenSends(t *testing.T) {
	dialer := &fakeDialer{errs: []error{fmt.Errorf("451 try again")}}
	s := &EmailSender{dialer: dialer, from: "alerts@textback.io", timeout: time.Second}

	err := s.Send(context.Background(), Recipient{To: "owner@shop.com"}, render.Content{
		Subject: "New lead",
		Body:    "hello",
	})
	require.NoError(t, err)
	assert.Len(t, dialer.sent, 2)
	assert.Equal(t, []string{"owner@shop.com"}, dialer.sent[1].GetHeader("To"))
}

type fakeGateway struct {
	calls int
	errs  []error
	to    string
}

func (f *fakeGateway) SendSMS(ctx context.Context, customerID uuid.UUID, to, body string) (string, error) {
	f.calls++
	f.to = to
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	return "msg-123", nil
}

func TestSMSSenderDelegatesToGateway(t *testing.T) {
	gw := &fakeGateway{}
	s := NewSMSSender(gw, nil)

	err := s.Send(context.Background(), Recipient{CustomerID: uuid.New(), To: "+15551234567"},
		render.Content{Body: "New lead from +15557654321"})
	require.NoError(t, err)
	assert.Equal(t, 1, gw.calls)
	assert.Equal(t, "+15551234567", gw.to)
}

func TestSMSSenderDoesNotRetryUnconfiguredProvider(t *testing.T) {
	gw := &fakeGateway{errs: []error{
		apperrors.ProviderNotConfigured("fonecloud"),
		apperrors.ProviderNotConfigured("fonecloud"),
	}}
	s := NewSMSSender(gw, nil)

	err := s.Send(context.Background(), Recipient{CustomerID: uuid.New(), To: "+15551234567"},
		render.Content{Body: "hi"})
	assert.Error(t, err)
	assert.Equal(t, 1, gw.calls)
}
