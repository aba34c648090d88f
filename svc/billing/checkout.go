package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clubkit/pkg/payment"
)

// Checkout is the redirect target returned by the checkout initiators.
type Checkout struct {
	SessionID string
	URL       string
}

// StartNewClubCheckout opens a paid checkout for a brand-new pro club. No
// rows are written here; the club comes into existence only when the session
// is fulfilled.
func (s *Service) StartNewClubCheckout(ctx context.Context, caller Caller, clubName, email string) (*Checkout, error) {
	intent, err := s.newClubIntent(caller, clubName, IntentNewClub)
	if err != nil {
		return nil, err
	}
	return s.openCheckout(ctx, intent, email, 0)
}

// StartTrialCheckout opens a trial checkout for a new pro club. The trial is
// a once-per-user benefit: any past membership of a club that ever reached
// pro consumes it, even if that club has since downgraded or been left.
func (s *Service) StartTrialCheckout(ctx context.Context, caller Caller, clubName, email string) (*Checkout, error) {
	intent, err := s.newClubIntent(caller, clubName, IntentTrial)
	if err != nil {
		return nil, err
	}

	used, err := s.store.TrialEverUsed(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrAlreadyTrialled
	}

	return s.openCheckout(ctx, intent, email, s.cfg.TrialDays)
}

// StartUpgradeCheckout opens a paid checkout that will upgrade an existing
// free club in place. Eligibility is checked up front so the user never pays
// for an upgrade that cannot land, and checked again at fulfillment time.
func (s *Service) StartUpgradeCheckout(ctx context.Context, caller Caller, clubID uuid.UUID, email string) (*Checkout, error) {
	if caller.UserID == uuid.Nil {
		return nil, ErrUnauthenticated
	}

	ok, err := s.store.IsOrganiser(ctx, clubID, caller.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotOrganiser
	}

	sub, err := s.store.SubscriptionByClub(ctx, clubID)
	if err != nil {
		return nil, err
	}
	if !sub.Upgradeable() {
		return nil, ErrNotUpgradeable
	}

	intent := Intent{Kind: IntentUpgrade, UserID: caller.UserID, ClubID: clubID}
	return s.openCheckout(ctx, intent, email, 0)
}

func (s *Service) newClubIntent(caller Caller, clubName string, kind IntentKind) (Intent, error) {
	if caller.UserID == uuid.Nil {
		return Intent{}, ErrUnauthenticated
	}
	clubName = strings.TrimSpace(clubName)
	if clubName == "" {
		return Intent{}, fmt.Errorf("%w: club name is required", ErrValidation)
	}
	return Intent{Kind: kind, UserID: caller.UserID, ClubName: clubName}, nil
}

// openCheckout creates a provider customer and a checkout session carrying
// the intent as session metadata. The metadata is the only state: everything
// needed to fulfil the purchase later rides on the session itself.
func (s *Service) openCheckout(ctx context.Context, intent Intent, email string, trialDays int64) (*Checkout, error) {
	customerID, err := s.processor.CreateCustomer(ctx, intent.ClubName, email, map[string]string{
		"user_id": intent.UserID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("create payment customer: %w", err)
	}

	session, err := s.processor.CreateCheckoutSession(ctx, payment.CheckoutSessionRequest{
		CustomerID: customerID,
		PriceID:    s.cfg.ProPriceID,
		Metadata:   intent.Metadata(),
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
		TrialDays:  trialDays,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s.log.InfoContext(ctx, "checkout session opened",
		slog.String("session_id", session.ID),
		slog.String("intent", string(intent.Kind)),
		slog.String("user_id", intent.UserID.String()))

	return &Checkout{SessionID: session.ID, URL: session.URL}, nil
}
