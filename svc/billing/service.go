package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clubkit/pkg/payment"
	"github.com/dmitrymomot/clubkit/pkg/plan"
)

// Config holds service-level billing settings.
type Config struct {
	SuccessURL string `env:"BILLING_SUCCESS_URL,required"`
	CancelURL  string `env:"BILLING_CANCEL_URL,required"`
	ProPriceID string `env:"BILLING_PRO_PRICE_ID,required"`
	TrialDays  int64  `env:"BILLING_TRIAL_DAYS" envDefault:"14"`
}

// Caller identifies who is asking for a fulfillment. Untrusted callers must
// match the user recorded in the checkout intent; trusted callers (signed
// webhook deliveries) bypass that check.
type Caller struct {
	UserID  uuid.UUID
	Trusted bool
}

// AuthenticatedCaller is a caller identified by a session user id.
func AuthenticatedCaller(userID uuid.UUID) Caller {
	return Caller{UserID: userID}
}

// TrustedCaller represents a signature-verified provider notification.
func TrustedCaller() Caller {
	return Caller{Trusted: true}
}

// Service owns the subscription lifecycle: starting checkouts, reconciling
// their outcomes, and answering access questions.
type Service struct {
	store     Store
	processor payment.Processor
	cache     Cache
	log       *slog.Logger
	cfg       Config
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithCache sets the access gate cache. Defaults to NoopCache.
func WithCache(cache Cache) Option {
	return func(s *Service) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// NewService creates a billing service.
func NewService(store Store, processor payment.Processor, cfg Config, opts ...Option) *Service {
	if store == nil {
		panic("billing: store is required")
	}
	if processor == nil {
		panic("billing: payment processor is required")
	}
	s := &Service{
		store:     store,
		processor: processor,
		cache:     NoopCache{},
		log:       slog.Default(),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateFreeClub creates a club on the free tier without touching the payment
// provider. The subscription row is active immediately and carries no
// provider identifiers.
func (s *Service) CreateFreeClub(ctx context.Context, caller Caller, clubName string) (*FulfillmentResult, error) {
	if caller.UserID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	clubName = strings.TrimSpace(clubName)
	if clubName == "" {
		return nil, fmt.Errorf("%w: club name is required", ErrValidation)
	}

	res, err := s.store.CreateFulfillment(ctx, Fulfillment{
		UserID:   caller.UserID,
		ClubName: clubName,
		Tier:     plan.TierFree,
		Status:   StatusActive,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAccess(ctx, caller.UserID)
	s.log.InfoContext(ctx, "free club created",
		slog.String("club_id", res.Club.ID.String()),
		slog.String("slug", res.Club.Slug))
	return res, nil
}

// Downgrade moves a club back to the free tier, clearing its provider
// linkage. Only an organiser of the club may downgrade it. Trial consumption
// survives the downgrade: a club that was ever on pro keeps that mark.
func (s *Service) Downgrade(ctx context.Context, caller Caller, clubID uuid.UUID) error {
	if caller.UserID == uuid.Nil {
		return ErrUnauthenticated
	}
	ok, err := s.store.IsOrganiser(ctx, clubID, caller.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotOrganiser
	}

	if err := s.store.Downgrade(ctx, clubID); err != nil {
		return err
	}

	s.invalidateAccess(ctx, caller.UserID)
	s.log.InfoContext(ctx, "club downgraded to free tier",
		slog.String("club_id", clubID.String()),
		slog.String("user_id", caller.UserID.String()))
	return nil
}

// PolicyForClub resolves the effective plan policy for a club. Clubs whose
// subscription is not in an active-like status are treated as free tier.
func (s *Service) PolicyForClub(ctx context.Context, clubID uuid.UUID) (plan.Policy, error) {
	sub, err := s.store.SubscriptionByClub(ctx, clubID)
	if err != nil {
		return plan.Policy{}, err
	}
	if !sub.Status.ActiveLike() {
		return plan.ForTier(plan.TierFree), nil
	}
	return plan.ForTier(sub.Tier), nil
}

// invalidateAccess drops any cached access decision for the user. Cache
// failures are logged and swallowed: the cache is an optimisation, not a
// correctness dependency.
func (s *Service) invalidateAccess(ctx context.Context, userID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.log.WarnContext(ctx, "access cache invalidation failed",
			slog.String("user_id", userID.String()),
			slog.Any("error", err))
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
