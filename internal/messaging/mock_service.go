package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/CareLoop/internal/identity"
	"github.com/BTreeMap/CareLoop/internal/models"
)

// SentMessage records one SendMessage call on the mock.
type SentMessage struct {
	To   string
	Body string
}

// MockService is an in-memory Service for tests. Sends are recorded instead
// of delivered, and inbound messages are injected with InjectResponse.
type MockService struct {
	mu        sync.Mutex
	sent      []SentMessage
	receipts  chan models.Receipt
	responses chan models.Response
	stopped   bool

	// SendErr, when set, is returned by every SendMessage call.
	SendErr error
}

// NewMockService creates a MockService with buffered event channels.
func NewMockService() *MockService {
	return &MockService{
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient strips the transport prefix and requires a
// non-empty identifier.
func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	return identity.Normalize(recipient), nil
}

// SendMessage records the message and emits a sent receipt.
func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrServiceStopped
	}
	if m.SendErr != nil {
		err := m.SendErr
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	m.mu.Unlock()

	select {
	case m.receipts <- models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()}:
	default:
	}
	return nil
}

// Start is a no-op.
func (m *MockService) Start(ctx context.Context) error { return nil }

// Stop marks the service stopped.
func (m *MockService) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

// Receipts returns the receipt channel.
func (m *MockService) Receipts() <-chan models.Receipt { return m.receipts }

// Responses returns the inbound message channel.
func (m *MockService) Responses() <-chan models.Response { return m.responses }

// InjectResponse feeds an inbound message as if it arrived via the webhook.
func (m *MockService) InjectResponse(r models.Response) {
	m.responses <- r
}

// Sent returns a copy of every recorded send, in order.
func (m *MockService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// LastSent returns the most recent send, or nil if nothing was sent.
func (m *MockService) LastSent() *SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	s := m.sent[len(m.sent)-1]
	return &s
}

// Reset clears the recorded sends.
func (m *MockService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
