package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

// Mock is a test double for Processor. It records customers and sessions in
// memory, lets tests drive session state (payment completion, subscription
// attachment), and verifies events against a configurable shared secret.
type Mock struct {
	mu sync.Mutex

	// WebhookSecret is the signature VerifyEvent accepts.
	WebhookSecret string

	// Customers maps customer id -> email.
	Customers map[string]string
	sessions  map[string]*CheckoutSession

	// Error fields allow tests to inject failures.
	CreateCustomerErr error
	CreateSessionErr  error
	RetrieveErr       error

	nextCustomerSeq int
	nextSessionSeq  int
	nextSubSeq      int
}

// NewMock creates a Mock ready for use.
func NewMock() *Mock {
	return &Mock{
		WebhookSecret: "whsec_mock",
		Customers:     make(map[string]string),
		sessions:      make(map[string]*CheckoutSession),
	}
}

func (m *Mock) CreateCustomer(_ context.Context, _, email string, _ map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateCustomerErr != nil {
		return "", m.CreateCustomerErr
	}

	m.nextCustomerSeq++
	id := fmt.Sprintf("cus_mock_%d", m.nextCustomerSeq)
	m.Customers[id] = email
	return id, nil
}

func (m *Mock) CreateCheckoutSession(_ context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateSessionErr != nil {
		return nil, m.CreateSessionErr
	}

	if _, ok := m.Customers[req.CustomerID]; !ok {
		return nil, fmt.Errorf("%w: unknown customer %s", ErrProcessor, req.CustomerID)
	}

	m.nextSessionSeq++
	id := fmt.Sprintf("cs_mock_%d", m.nextSessionSeq)
	sess := &CheckoutSession{
		ID:            id,
		URL:           "https://checkout.example.com/c/" + id,
		CustomerID:    req.CustomerID,
		PaymentStatus: PaymentStatusUnpaid,
		Metadata:      maps.Clone(req.Metadata),
	}
	m.sessions[id] = sess

	return copySession(sess), nil
}

func (m *Mock) RetrieveCheckoutSession(_ context.Context, id string) (*CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RetrieveErr != nil {
		return nil, m.RetrieveErr
	}

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(sess), nil
}

// VerifyEvent accepts payloads signed with the mock's webhook secret; the
// payload itself is a JSON-encoded Event.
func (m *Mock) VerifyEvent(payload []byte, signature string) (*Event, error) {
	if signature != m.WebhookSecret {
		return nil, ErrInvalidSignature
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errors.Join(ErrProcessor, err)
	}
	return &ev, nil
}

// CompletePayment marks a session paid and attaches a provider subscription
// with the given status, returning the subscription id. Tests call this to
// simulate the customer finishing checkout.
func (m *Mock) CompletePayment(sessionID, subStatus string, periodEnd time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}

	if sess.Subscription == nil {
		m.nextSubSeq++
		sess.Subscription = &SubscriptionInfo{ID: fmt.Sprintf("sub_mock_%d", m.nextSubSeq)}
	}
	sess.PaymentStatus = PaymentStatusPaid
	sess.Subscription.Status = subStatus
	sess.Subscription.CurrentPeriodEnd = periodEnd

	return sess.Subscription.ID, nil
}

func copySession(s *CheckoutSession) *CheckoutSession {
	out := *s
	out.Metadata = maps.Clone(s.Metadata)
	if s.Subscription != nil {
		sub := *s.Subscription
		out.Subscription = &sub
	}
	return &out
}
