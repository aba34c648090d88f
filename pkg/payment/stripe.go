package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds configuration for the Stripe processor.
type StripeConfig struct {
	APIKey        string `env:"STRIPE_API_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// StripeProcessor implements Processor using the Stripe API.
type StripeProcessor struct {
	webhookSecret string
}

// NewStripeProcessor creates a Stripe-backed processor. The API key is set
// process-wide, matching how the stripe-go package-level clients work.
func NewStripeProcessor(cfg StripeConfig) (*StripeProcessor, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	stripe.Key = cfg.APIKey
	return &StripeProcessor{webhookSecret: cfg.WebhookSecret}, nil
}

// CreateCustomer creates a Stripe customer carrying the given metadata.
func (p *StripeProcessor) CreateCustomer(_ context.Context, name, email string, metadata map[string]string) (string, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(name),
		Email: stripe.String(email),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	c, err := customer.New(params)
	if err != nil {
		return "", errors.Join(ErrProcessor, fmt.Errorf("create stripe customer: %w", err))
	}
	return c.ID, nil
}

// CreateCheckoutSession opens a subscription-mode hosted checkout session.
// Intent metadata is attached to both the session and the subscription it
// will create, so either notification path can recover it.
func (p *StripeProcessor) CreateCheckoutSession(_ context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(req.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.TrialDays > 0 || len(req.Metadata) > 0 {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		}
		if req.TrialDays > 0 {
			params.SubscriptionData.TrialPeriodDays = stripe.Int64(req.TrialDays)
		}
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, errors.Join(ErrProcessor, fmt.Errorf("create stripe checkout session: %w", err))
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return fromStripeSession(sess), nil
}

// RetrieveCheckoutSession resolves a session with the subscription expanded.
func (p *StripeProcessor) RetrieveCheckoutSession(_ context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("subscription")

	sess, err := session.Get(id, params)
	if err != nil {
		var sErr *stripe.Error
		if errors.As(err, &sErr) && sErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Join(ErrProcessor, fmt.Errorf("retrieve stripe checkout session: %w", err))
	}

	return fromStripeSession(sess), nil
}

// VerifyEvent validates the Stripe-Signature header against the shared
// webhook secret and normalizes the event. Unknown event types are returned
// as EventUnknown so the caller can acknowledge without acting.
func (p *StripeProcessor) VerifyEvent(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	out := &Event{ProviderEvent: string(event.Type)}

	switch string(event.Type) {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, errors.Join(ErrProcessor, fmt.Errorf("parse checkout session event: %w", err))
		}
		out.Type = EventCheckoutCompleted
		out.CheckoutSessionID = cs.ID

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrProcessor, fmt.Errorf("parse subscription event: %w", err))
		}
		out.Type = EventSubscriptionUpdated
		if string(event.Type) == "customer.subscription.deleted" {
			out.Type = EventSubscriptionDeleted
		}
		out.SubscriptionID = sub.ID
		out.Status = string(sub.Status)
		out.CurrentPeriodEnd = subscriptionPeriodEnd(&sub)

	default:
		out.Type = EventUnknown
	}

	return out, nil
}

func fromStripeSession(sess *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            sess.ID,
		URL:           sess.URL,
		PaymentStatus: mapStripePaymentStatus(sess.PaymentStatus),
		Metadata:      sess.Metadata,
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil && sess.Subscription.ID != "" {
		out.Subscription = &SubscriptionInfo{
			ID:               sess.Subscription.ID,
			Status:           string(sess.Subscription.Status),
			CurrentPeriodEnd: subscriptionPeriodEnd(sess.Subscription),
		}
	}
	return out
}

func mapStripePaymentStatus(s stripe.CheckoutSessionPaymentStatus) PaymentStatus {
	switch s {
	case stripe.CheckoutSessionPaymentStatusPaid:
		return PaymentStatusPaid
	case stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return PaymentStatusNoPaymentRequired
	default:
		return PaymentStatusUnpaid
	}
}

// subscriptionPeriodEnd reads the paid-through timestamp from the first
// subscription item, where current Stripe API versions report it.
func subscriptionPeriodEnd(sub *stripe.Subscription) time.Time {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return time.Time{}
	}
	end := sub.Items.Data[0].CurrentPeriodEnd
	if end == 0 {
		return time.Time{}
	}
	return time.Unix(end, 0).UTC()
}
