package sms

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/textback/notify-api/pkg/circuitbreaker"
	"github.com/textback/notify-api/pkg/metrics"

	"github.com/textback/notify-api/internal/model"
)

const twilioAPIBase = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// DefaultFrom is the shared number used when a customer has no binding
	// and fallback routing is enabled.
	DefaultFrom string
	// AreaCode steers dedicated-number purchases.
	AreaCode string
	// WebhookURL is the public URL twilio signs inbound requests against.
	WebhookURL string
	BaseURL    string
	Timeout    time.Duration
	RateLimit  rate.Limit
}

type Twilio struct {
	cfg     TwilioConfig
	client  *http.Client
	cb      *circuitbreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

func NewTwilio(cfg TwilioConfig, m *metrics.Metrics) *Twilio {
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	return &Twilio{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "twilio",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		limiter: rate.NewLimiter(cfg.RateLimit, int(cfg.RateLimit)),
		metrics: m,
	}
}

func (t *Twilio) Name() string {
	return model.ProviderTwilio
}

func (t *Twilio) Send(ctx context.Context, req SendRequest) (string, error) {
	from := req.From
	if from == "" {
		from = t.cfg.DefaultFrom
	}

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", req.To)
	form.Set("Body", req.Body)

	var resp struct {
		SID string `json:"sid"`
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.cfg.BaseURL, t.cfg.AccountSID)
	if err := t.call(ctx, "send", endpoint, form, &resp); err != nil {
		return "", err
	}
	return resp.SID, nil
}

func (t *Twilio) ProvisionNumber(ctx context.Context, customerID uuid.UUID) (*model.SMSProviderBinding, error) {
	form := url.Values{}
	if t.cfg.AreaCode != "" {
		form.Set("AreaCode", t.cfg.AreaCode)
	}
	if t.cfg.WebhookURL != "" {
		form.Set("SmsUrl", t.cfg.WebhookURL)
	}

	var resp struct {
		PhoneNumber string `json:"phone_number"`
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/IncomingPhoneNumbers.json", t.cfg.BaseURL, t.cfg.AccountSID)
	if err := t.call(ctx, "provision", endpoint, form, &resp); err != nil {
		return nil, err
	}

	return &model.SMSProviderBinding{
		CustomerID:  customerID,
		Provider:    model.ProviderTwilio,
		PhoneNumber: resp.PhoneNumber,
	}, nil
}

func (t *Twilio) ReleaseNumber(ctx context.Context, binding *model.SMSProviderBinding) error {
	if binding == nil || binding.PhoneNumber == "" {
		return nil
	}

	// The number SID is not stored locally; look it up before deleting.
	listURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/IncomingPhoneNumbers.json?PhoneNumber=%s",
		t.cfg.BaseURL, t.cfg.AccountSID, url.QueryEscape(binding.PhoneNumber))

	var list struct {
		IncomingPhoneNumbers []struct {
			SID string `json:"sid"`
		} `json:"incoming_phone_numbers"`
	}
	if err := t.get(ctx, "release_lookup", listURL, &list); err != nil {
		return err
	}
	if len(list.IncomingPhoneNumbers) == 0 {
		return nil
	}

	deleteURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/IncomingPhoneNumbers/%s.json",
		t.cfg.BaseURL, t.cfg.AccountSID, list.IncomingPhoneNumbers[0].SID)
	return t.do(ctx, "release", http.MethodDelete, deleteURL, nil, nil)
}

func (t *Twilio) HandleIncoming(_ context.Context, raw []byte) (*model.InboundSMS, error) {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse twilio webhook body: %w", err)
	}
	return &model.InboundSMS{
		From:              form.Get("From"),
		To:                form.Get("To"),
		Body:              form.Get("Body"),
		ProviderMessageID: form.Get("MessageSid"),
	}, nil
}

// VerifyWebhookSignature checks X-Twilio-Signature: base64 HMAC-SHA1 over
// the public URL concatenated with the sorted POST parameters.
func (t *Twilio) VerifyWebhookSignature(req *http.Request, body []byte) error {
	signature := req.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return fmt.Errorf("missing twilio signature")
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return fmt.Errorf("failed to parse webhook body: %w", err)
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(t.cfg.WebhookURL)
	for _, k := range keys {
		payload.WriteString(k)
		payload.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(t.cfg.AuthToken))
	mac.Write([]byte(payload.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("invalid twilio signature")
	}
	return nil
}

func (t *Twilio) call(ctx context.Context, op, endpoint string, form url.Values, out interface{}) error {
	return t.do(ctx, op, http.MethodPost, endpoint, strings.NewReader(form.Encode()), out)
}

func (t *Twilio) get(ctx context.Context, op, endpoint string, out interface{}) error {
	return t.do(ctx, op, http.MethodGet, endpoint, nil, out)
}

func (t *Twilio) do(ctx context.Context, op, method, endpoint string, body io.Reader, out interface{}) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	err := t.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return fmt.Errorf("failed to build twilio request: %w", err)
		}
		req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
		if method == http.MethodPost {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return fmt.Errorf("twilio %s failed: %w", op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("twilio %s returned %d: %s", op, resp.StatusCode, string(detail))
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode twilio response: %w", err)
			}
		}
		return nil
	})
	t.observe(op, start, err)
	return err
}

func (t *Twilio) observe(op string, start time.Time, err error) {
	if t.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	t.metrics.ProviderCalls.WithLabelValues(model.ProviderTwilio, op, status).Inc()
	t.metrics.ProviderLatency.WithLabelValues(model.ProviderTwilio, op).Observe(time.Since(start).Seconds())
}
