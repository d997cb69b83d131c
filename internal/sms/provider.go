// Package sms routes outbound SMS to the customer's configured provider
// and owns number provisioning for pooled providers.
package sms

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/textback/notify-api/internal/model"
)

// SendRequest is one outbound message. From may be empty when the caller
// has no binding; providers substitute their configured default.
type SendRequest struct {
	CustomerID uuid.UUID
	From       string
	To         string
	Body       string
}

// Provider is one SMS carrier integration. Implementations must bound all
// outbound calls with a timeout and treat hangs as failures.
type Provider interface {
	Name() string
	// Send delivers one message and returns the provider message ID.
	Send(ctx context.Context, req SendRequest) (string, error)
	// HandleIncoming parses a provider webhook body into the provider-
	// agnostic inbound shape. Signature verification happens first.
	HandleIncoming(ctx context.Context, raw []byte) (*model.InboundSMS, error)
	// ProvisionNumber acquires an outbound number for the customer: a
	// dedicated purchase for twilio, a pool allocation for fonecloud.
	ProvisionNumber(ctx context.Context, customerID uuid.UUID) (*model.SMSProviderBinding, error)
	// ReleaseNumber reverses provisioning. Safe to call when nothing is
	// held.
	ReleaseNumber(ctx context.Context, binding *model.SMSProviderBinding) error
	VerifyWebhookSignature(req *http.Request, body []byte) error
}
