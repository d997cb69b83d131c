package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/textback/notify-api/pkg/errors"
	"github.com/textback/notify-api/pkg/jobqueue"
	"github.com/textback/notify-api/pkg/logger"

	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/repository"
)

// InboundResult is the handoff returned to the webhook surface after an
// inbound message is applied to a conversation.
type InboundResult struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
}

// ConversationResolver applies an inbound message to the conversation
// store. The store itself lives outside this service.
type ConversationResolver func(ctx context.Context, msg *model.InboundSMS) (InboundResult, error)

// ReleaseResult distinguishes a real release from the idempotent no-op.
type ReleaseResult struct {
	Released        bool `json:"released"`
	AlreadyReleased bool `json:"already_released"`
}

// SendSMSJob is the payload of queued send_sms jobs.
type SendSMSJob struct {
	CustomerID uuid.UUID `json:"customer_id"`
	To         string    `json:"to"`
	Body       string    `json:"body"`
}

type GatewayConfig struct {
	// DefaultProvider routes customers with no binding when fallback is
	// enabled, and is the default for provisioning requests that name no
	// provider.
	DefaultProvider string
	// AllowProviderFallback restores the legacy behavior of silently
	// routing unconfigured customers through the default provider. Off by
	// default: an unconfigured customer is a hard error.
	AllowProviderFallback bool
}

// Gateway holds the provider registry and resolves each customer to their
// configured provider.
type Gateway struct {
	cfg       GatewayConfig
	providers map[string]Provider
	bindings  repository.SMSBindingRepository
	resolver  ConversationResolver
	queue     jobqueue.Enqueuer
	logger    *logger.Logger
}

func NewGateway(cfg GatewayConfig, bindings repository.SMSBindingRepository, log *logger.Logger) *Gateway {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = model.ProviderTwilio
	}
	return &Gateway{
		cfg:       cfg,
		providers: make(map[string]Provider),
		bindings:  bindings,
		logger:    log,
	}
}

// Register adds a provider to the registry.
func (g *Gateway) Register(p Provider) {
	g.providers[p.Name()] = p
}

// SetResolver wires the conversation store collaborator.
func (g *Gateway) SetResolver(r ConversationResolver) {
	g.resolver = r
}

// SetQueue wires the delayed job queue used for deferred sends.
func (g *Gateway) SetQueue(q jobqueue.Enqueuer) {
	g.queue = q
}

// SendSMS resolves the customer's provider and sends. A customer with no
// binding (or a binding naming an unregistered provider) either fails
// closed or falls back to the default provider, per configuration.
func (g *Gateway) SendSMS(ctx context.Context, customerID uuid.UUID, to, body string) (string, error) {
	req := SendRequest{CustomerID: customerID, To: to, Body: body}

	providerName := g.cfg.DefaultProvider
	binding, err := g.bindings.Get(ctx, customerID)
	switch {
	case err == nil:
		providerName = binding.Provider
		req.From = binding.PhoneNumber
	case isNotFound(err):
		if !g.cfg.AllowProviderFallback {
			return "", apperrors.ProviderNotConfigured("none")
		}
		g.logger.Warn("no sms binding, falling back to default provider",
			"customer_id", customerID.String(), "provider", providerName)
	default:
		return "", fmt.Errorf("failed to resolve sms binding: %w", err)
	}

	p, ok := g.providers[providerName]
	if !ok {
		if !g.cfg.AllowProviderFallback {
			return "", apperrors.ProviderNotConfigured(providerName)
		}
		fallback, fbOK := g.providers[g.cfg.DefaultProvider]
		if !fbOK {
			return "", apperrors.ProviderNotConfigured(g.cfg.DefaultProvider)
		}
		g.logger.Warn("provider not registered, falling back",
			"customer_id", customerID.String(), "provider", providerName)
		p = fallback
		req.From = ""
	}

	return p.Send(ctx, req)
}

// EnqueueSMS schedules a deferred send through the job queue.
func (g *Gateway) EnqueueSMS(ctx context.Context, customerID uuid.UUID, to, body string, runAt time.Time) error {
	if g.queue == nil {
		return fmt.Errorf("sms job queue not configured")
	}
	job, err := jobqueue.NewJob(jobqueue.TypeSendSMS, SendSMSJob{
		CustomerID: customerID,
		To:         to,
		Body:       body,
	}, runAt)
	if err != nil {
		return err
	}
	return g.queue.Enqueue(ctx, job)
}

// HandleQueuedSend is the worker entry point for send_sms jobs.
func (g *Gateway) HandleQueuedSend(ctx context.Context, payload json.RawMessage) error {
	var job SendSMSJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("failed to decode send_sms job: %w", err)
	}
	_, err := g.SendSMS(ctx, job.CustomerID, job.To, job.Body)
	return err
}

// ProvisionNumber acquires a number from the named provider (or the
// default) and persists the binding.
func (g *Gateway) ProvisionNumber(ctx context.Context, customerID uuid.UUID, providerName string) (*model.SMSProviderBinding, error) {
	if providerName == "" {
		providerName = g.cfg.DefaultProvider
	}
	p, ok := g.providers[providerName]
	if !ok {
		return nil, apperrors.ProviderNotConfigured(providerName)
	}

	binding, err := p.ProvisionNumber(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if err := g.bindings.Upsert(ctx, binding); err != nil {
		// Roll back the provider-side hold so the number is not stranded.
		if relErr := p.ReleaseNumber(ctx, binding); relErr != nil {
			g.logger.Error(relErr, "failed to roll back provisioned number",
				"customer_id", customerID.String(), "provider", providerName)
		}
		return nil, err
	}
	return binding, nil
}

// ReleaseNumber frees the customer's number and deletes the binding.
// Calling it again after a release reports AlreadyReleased.
func (g *Gateway) ReleaseNumber(ctx context.Context, customerID uuid.UUID) (ReleaseResult, error) {
	binding, err := g.bindings.Get(ctx, customerID)
	if isNotFound(err) {
		return ReleaseResult{AlreadyReleased: true}, nil
	}
	if err != nil {
		return ReleaseResult{}, fmt.Errorf("failed to resolve sms binding: %w", err)
	}

	if p, ok := g.providers[binding.Provider]; ok {
		if err := p.ReleaseNumber(ctx, binding); err != nil {
			return ReleaseResult{}, err
		}
	}
	if err := g.bindings.Delete(ctx, customerID); err != nil {
		return ReleaseResult{}, err
	}
	return ReleaseResult{Released: true}, nil
}

// HandleIncoming verifies and parses a provider webhook, then applies the
// message through the conversation resolver.
func (g *Gateway) HandleIncoming(ctx context.Context, providerName string, req *http.Request, body []byte) (InboundResult, error) {
	p, ok := g.providers[providerName]
	if !ok {
		return InboundResult{}, apperrors.ProviderNotConfigured(providerName)
	}

	if err := p.VerifyWebhookSignature(req, body); err != nil {
		return InboundResult{}, apperrors.BadRequest("webhook signature verification failed", err)
	}

	inbound, err := p.HandleIncoming(ctx, body)
	if err != nil {
		return InboundResult{}, err
	}
	if g.resolver == nil {
		return InboundResult{}, fmt.Errorf("conversation resolver not configured")
	}
	return g.resolver(ctx, inbound)
}

func isNotFound(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) && appErr.Code == apperrors.ErrNotFound
}
