// Package channel provides the uniform delivery contract for email and
// SMS. Adapters receive pre-rendered content and own the retry policy;
// they are template-agnostic.
package channel

import (
	"context"

	"github.com/google/uuid"

	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/service/render"
)

// Recipient addresses one delivery. To is an email address or an E.164
// phone number depending on the adapter.
type Recipient struct {
	CustomerID uuid.UUID
	UserID     *uuid.UUID
	To         string
}

// Sender is the uniform send contract. Implementations retry transient
// failures internally and never panic past their boundary.
type Sender interface {
	Channel() model.Channel
	Send(ctx context.Context, to Recipient, content render.Content) error
}
