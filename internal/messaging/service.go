// Package messaging provides the pluggable message delivery abstraction and
// the Twilio-backed implementation used in production.
package messaging

import (
	"context"
	"errors"

	"github.com/BTreeMap/CareLoop/internal/models"
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction. It supports
// sending messages and provides channels for receipt and response events.
// Implementations chunk messages longer than the transport limit; callers
// never truncate content.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier, returning an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of delivery receipt events.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of inbound participant messages.
	Responses() <-chan models.Response
}
