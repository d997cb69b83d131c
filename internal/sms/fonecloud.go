package sms

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/textback/notify-api/pkg/circuitbreaker"
	"github.com/textback/notify-api/pkg/metrics"

	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/repository"
)

type FonecloudConfig struct {
	BaseURL       string
	APIKey        string
	SigningSecret string
	Timeout       time.Duration
	RateLimit     rate.Limit
}

// Fonecloud sends through the fonecloud REST API. Outbound numbers come
// from the shared pool, so provisioning is a database allocation rather
// than a carrier purchase.
type Fonecloud struct {
	cfg     FonecloudConfig
	pool    repository.PoolNumberRepository
	client  *http.Client
	cb      *circuitbreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

func NewFonecloud(cfg FonecloudConfig, pool repository.PoolNumberRepository, m *metrics.Metrics) *Fonecloud {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	return &Fonecloud{
		cfg:    cfg,
		pool:   pool,
		client: &http.Client{Timeout: cfg.Timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "fonecloud",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		limiter: rate.NewLimiter(cfg.RateLimit, int(cfg.RateLimit)),
		metrics: m,
	}
}

func (f *Fonecloud) Name() string {
	return model.ProviderFonecloud
}

func (f *Fonecloud) Send(ctx context.Context, req SendRequest) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]string{
		"from": req.From,
		"to":   req.To,
		"body": req.Body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal fonecloud request: %w", err)
	}

	var resp struct {
		MessageID string `json:"message_id"`
	}
	start := time.Now()
	err = f.cb.Execute(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build fonecloud request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)

		httpResp, err := f.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("fonecloud send failed: %w", err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
			return fmt.Errorf("fonecloud send returned %d: %s", httpResp.StatusCode, string(detail))
		}
		return json.NewDecoder(httpResp.Body).Decode(&resp)
	})
	f.observe("send", start, err)
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

func (f *Fonecloud) ProvisionNumber(ctx context.Context, customerID uuid.UUID) (*model.SMSProviderBinding, error) {
	number, err := f.pool.Allocate(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return &model.SMSProviderBinding{
		CustomerID:   customerID,
		Provider:     model.ProviderFonecloud,
		PhoneNumber:  number.PhoneNumber,
		PoolNumberID: &number.ID,
	}, nil
}

func (f *Fonecloud) ReleaseNumber(ctx context.Context, binding *model.SMSProviderBinding) error {
	if binding == nil {
		return nil
	}
	// Already-released is a no-op by contract; the repo reports it via the
	// bool, which the gateway surfaces to the caller.
	_, err := f.pool.Release(ctx, binding.CustomerID)
	return err
}

func (f *Fonecloud) HandleIncoming(_ context.Context, raw []byte) (*model.InboundSMS, error) {
	var payload struct {
		From      string `json:"from"`
		To        string `json:"to"`
		Body      string `json:"body"`
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse fonecloud webhook body: %w", err)
	}
	return &model.InboundSMS{
		From:              payload.From,
		To:                payload.To,
		Body:              payload.Body,
		ProviderMessageID: payload.MessageID,
	}, nil
}

// VerifyWebhookSignature checks X-Fonecloud-Signature: hex HMAC-SHA256
// over the raw body.
func (f *Fonecloud) VerifyWebhookSignature(req *http.Request, body []byte) error {
	signature := req.Header.Get("X-Fonecloud-Signature")
	if signature == "" {
		return fmt.Errorf("missing fonecloud signature")
	}

	mac := hmac.New(sha256.New, []byte(f.cfg.SigningSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("invalid fonecloud signature")
	}
	return nil
}

func (f *Fonecloud) observe(op string, start time.Time, err error) {
	if f.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	f.metrics.ProviderCalls.WithLabelValues(model.ProviderFonecloud, op, status).Inc()
	f.metrics.ProviderLatency.WithLabelValues(model.ProviderFonecloud, op).Observe(time.Since(start).Seconds())
}
