package channel

import (
	"context"
	"time"

	apperrors "github.com/textback/notify-api/pkg/errors"
	"github.com/textback/notify-api/pkg/metrics"

	"github.com/textback/notify-api/internal/model"
)

const (
	maxAttempts = 3
	retryBase   = time.Second
	retryFactor = 2
)

// sendWithRetry runs fn up to maxAttempts times with exponential backoff.
// Configuration errors are terminal and returned immediately; retrying
// cannot fix a missing address or an unconfigured provider.
func sendWithRetry(ctx context.Context, ch model.Channel, m *metrics.Metrics, fn func() error) error {
	var err error
	delay := retryBase
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if m != nil {
				m.ChannelRetries.WithLabelValues(string(ch)).Inc()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= retryFactor
		}

		if err = fn(); err == nil {
			return nil
		}
		if apperrors.IsConfig(err) {
			return err
		}
	}
	return err
}
