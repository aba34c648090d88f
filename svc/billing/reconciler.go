package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clubkit/pkg/payment"
	"github.com/dmitrymomot/clubkit/pkg/plan"
)

// Fulfil turns a completed checkout session into club state. Both
// notification paths land here: the client confirmation redirect calls it
// with an authenticated caller, the webhook handler with a trusted one.
// Running it twice for the same session is safe: the second run stops at the
// idempotency gate with ErrAlreadyFulfilled, which callers treat as success.
func (s *Service) Fulfil(ctx context.Context, caller Caller, sessionID string) (*FulfillmentResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrInvalidSession)
	}

	session, err := s.processor.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSession, sessionID)
		}
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}

	if !session.PaymentStatus.Complete() {
		return nil, fmt.Errorf("%w: payment status %q", ErrPaymentIncomplete, session.PaymentStatus)
	}

	intent, err := ParseIntent(session.Metadata)
	if err != nil {
		return nil, err
	}

	// Untrusted callers must be the user who started the checkout. A valid
	// session id in the wrong hands must not grant someone else's club.
	if !caller.Trusted {
		if caller.UserID == uuid.Nil {
			return nil, ErrUnauthenticated
		}
		if caller.UserID != intent.UserID {
			return nil, ErrIdentityMismatch
		}
	}

	sub := session.Subscription
	if sub == nil || sub.ID == "" {
		return nil, fmt.Errorf("%w: session %s carries no subscription", ErrInvalidSession, sessionID)
	}

	status := StatusFromProvider(sub.Status)
	var periodEnd *time.Time
	if !sub.CurrentPeriodEnd.IsZero() {
		periodEnd = ptrTime(sub.CurrentPeriodEnd)
	}

	var result *FulfillmentResult
	switch intent.Kind {
	case IntentNewClub, IntentTrial:
		result, err = s.store.CreateFulfillment(ctx, Fulfillment{
			UserID:             intent.UserID,
			ClubName:           intent.ClubName,
			Tier:               plan.TierPro,
			Status:             status,
			ProviderCustomerID: session.CustomerID,
			ProviderSubID:      sub.ID,
			CurrentPeriodEnd:   periodEnd,
		})
	case IntentUpgrade:
		// Membership may have changed since the session was created.
		var ok bool
		ok, err = s.store.IsOrganiser(ctx, intent.ClubID, intent.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotOrganiser
		}

		var upgraded *Subscription
		upgraded, err = s.store.UpgradeInPlace(ctx, intent.ClubID, UpgradeParams{
			ProviderCustomerID: session.CustomerID,
			ProviderSubID:      sub.ID,
			Status:             status,
			CurrentPeriodEnd:   periodEnd,
		})
		if err == nil {
			result = &FulfillmentResult{Subscription: *upgraded}
		}
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidIntent, intent.Kind)
	}
	if err != nil {
		return nil, err
	}

	s.invalidateAccess(ctx, intent.UserID)
	s.log.InfoContext(ctx, "checkout fulfilled",
		slog.String("session_id", sessionID),
		slog.String("intent", string(intent.Kind)),
		slog.String("user_id", intent.UserID.String()),
		slog.String("provider_sub_id", sub.ID))

	return result, nil
}

// HandleEvent processes a raw webhook delivery. It verifies the signature
// first; an unverifiable payload is the only error worth a non-2xx response.
// Business outcomes that cannot improve on retry (already fulfilled, stale
// subscription references) are logged and acknowledged, while transient
// failures propagate so the provider redelivers.
func (s *Service) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := s.processor.VerifyEvent(payload, signature)
	if err != nil {
		return err
	}

	switch event.Type {
	case payment.EventCheckoutCompleted:
		_, err := s.Fulfil(ctx, TrustedCaller(), event.CheckoutSessionID)
		if err == nil || errors.Is(err, ErrAlreadyFulfilled) {
			return nil
		}
		if isTerminalFulfilError(err) {
			s.log.WarnContext(ctx, "checkout event not fulfillable",
				slog.String("session_id", event.CheckoutSessionID),
				slog.Any("error", err))
			return nil
		}
		return err

	case payment.EventSubscriptionUpdated:
		return s.applyProviderStatus(ctx, event.SubscriptionID, StatusFromProvider(event.Status), event.CurrentPeriodEnd)

	case payment.EventSubscriptionDeleted:
		// A deleted subscription ends access regardless of the status the
		// provider reports alongside the deletion.
		return s.applyProviderStatus(ctx, event.SubscriptionID, StatusExpired, event.CurrentPeriodEnd)

	default:
		s.log.DebugContext(ctx, "ignoring unhandled event",
			slog.String("type", string(event.Type)))
		return nil
	}
}

func (s *Service) applyProviderStatus(ctx context.Context, providerSubID string, status Status, periodEnd time.Time) error {
	if providerSubID == "" {
		s.log.WarnContext(ctx, "subscription event without subscription id")
		return nil
	}
	var end *time.Time
	if !periodEnd.IsZero() {
		end = ptrTime(periodEnd)
	}
	err := s.store.ApplyStatusChange(ctx, providerSubID, status, end)
	if errors.Is(err, ErrSubscriptionNotFound) {
		// Events can reference subscriptions we never tracked, for example
		// after a local downgrade cleared the provider linkage.
		s.log.WarnContext(ctx, "status event for unknown subscription",
			slog.String("provider_sub_id", providerSubID))
		return nil
	}
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "subscription status updated",
		slog.String("provider_sub_id", providerSubID),
		slog.String("status", string(status)))
	return nil
}

// isTerminalFulfilError reports whether retrying the same delivery can ever
// produce a different outcome.
func isTerminalFulfilError(err error) bool {
	// ErrPaymentIncomplete is deliberately absent: a delivery for a session
	// whose async payment has not settled yet may succeed on redelivery.
	return errors.Is(err, ErrInvalidSession) ||
		errors.Is(err, ErrInvalidIntent) ||
		errors.Is(err, ErrNotUpgradeable) ||
		errors.Is(err, ErrNotOrganiser) ||
		errors.Is(err, ErrSubscriptionNotFound)
}
