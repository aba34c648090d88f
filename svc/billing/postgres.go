package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/clubkit/pkg/pg"
	"github.com/dmitrymomot/clubkit/pkg/plan"
	"github.com/dmitrymomot/clubkit/pkg/slug"
)

// Constraint name from the migrations; the store checks which unique index
// fired so only a provider sub id conflict reads as an idempotent replay.
const constraintProviderSubID = "subscriptions_provider_sub_id_key"

// PostgresStore implements Store on a pgx connection pool. Each mutation is
// one transaction (or one statement); the schema's unique indexes are the
// final arbiter of the idempotency and exclusivity invariants, so concurrent
// writers cannot race past the gate.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore. The schema must already be
// migrated (see migrations/).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PostgresStore{pool: pool}
}

const subscriptionCols = `id, club_id, tier, status, provider_customer_id, COALESCE(provider_sub_id, ''), ever_pro, current_period_end, created_at, updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	var tier, status string
	if err := row.Scan(
		&sub.ID, &sub.ClubID, &tier, &status,
		&sub.ProviderCustomerID, &sub.ProviderSubID, &sub.EverPro,
		&sub.CurrentPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sub.Tier = plan.Tier(tier)
	sub.Status = Status(status)
	return &sub, nil
}

func (s *PostgresStore) SubscriptionByClub(ctx context.Context, clubID uuid.UUID) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE club_id = $1`, clubID)

	sub, err := scanSubscription(row)
	if pg.IsNotFoundError(err) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription by club: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) SubscriptionByProviderSubID(ctx context.Context, providerSubID string) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE provider_sub_id = $1`, providerSubID)

	sub, err := scanSubscription(row)
	if pg.IsNotFoundError(err) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription by provider sub id: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) CreateFulfillment(ctx context.Context, f Fulfillment) (*FulfillmentResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin fulfillment tx: %w", err)
	}
	// Rollback is a no-op after commit; it guarantees nothing half-created
	// survives an early return.
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()

	clubSlug, err := s.availableSlug(ctx, tx, f.ClubName)
	if err != nil {
		return nil, err
	}

	club := Club{ID: uuid.New(), Name: f.ClubName, Slug: clubSlug, CreatedAt: now}
	if _, err := tx.Exec(ctx,
		`INSERT INTO clubs (id, name, slug, created_at) VALUES ($1, $2, $3, $4)`,
		club.ID, club.Name, club.Slug, club.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert club: %w", err)
	}

	membership := Membership{ClubID: club.ID, UserID: f.UserID, CreatedAt: now}
	if _, err := tx.Exec(ctx,
		`INSERT INTO club_members (club_id, user_id, created_at) VALUES ($1, $2, $3)`,
		membership.ClubID, membership.UserID, membership.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert membership: %w", err)
	}

	sub := Subscription{
		ID:                 uuid.New(),
		ClubID:             club.ID,
		Tier:               f.Tier,
		Status:             f.Status,
		ProviderCustomerID: f.ProviderCustomerID,
		ProviderSubID:      f.ProviderSubID,
		EverPro:            f.Tier == plan.TierPro,
		CurrentPeriodEnd:   f.CurrentPeriodEnd,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	// The subscription insert is last: its unique index on provider_sub_id
	// is the idempotency gate, and hitting it rolls the club and membership
	// back with the transaction.
	if _, err := tx.Exec(ctx,
		`INSERT INTO subscriptions
			(id, club_id, tier, status, provider_customer_id, provider_sub_id, ever_pro, current_period_end, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)`,
		sub.ID, sub.ClubID, string(sub.Tier), string(sub.Status),
		sub.ProviderCustomerID, sub.ProviderSubID, sub.EverPro,
		sub.CurrentPeriodEnd, sub.CreatedAt, sub.UpdatedAt,
	); err != nil {
		if pg.IsUniqueViolation(err, constraintProviderSubID) {
			return nil, ErrAlreadyFulfilled
		}
		return nil, fmt.Errorf("insert subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if pg.IsUniqueViolation(err, constraintProviderSubID) {
			return nil, ErrAlreadyFulfilled
		}
		return nil, fmt.Errorf("commit fulfillment tx: %w", err)
	}

	return &FulfillmentResult{Club: club, Membership: membership, Subscription: sub}, nil
}

// availableSlug derives a slug from the club name, appending a random suffix
// when the plain slug is taken. A lost race between the check and the insert
// surfaces as a slug unique violation and fails the transaction; the caller
// may retry.
func (s *PostgresStore) availableSlug(ctx context.Context, tx pgx.Tx, name string) (string, error) {
	plain := slug.Make(name, slug.MaxLength(60))
	if plain != "" {
		var taken bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM clubs WHERE slug = $1)`, plain,
		).Scan(&taken); err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !taken {
			return plain, nil
		}
	}
	return slug.Make(name, slug.MaxLength(60), slug.WithSuffix(6)), nil
}

func (s *PostgresStore) UpgradeInPlace(ctx context.Context, clubID uuid.UUID, p UpgradeParams) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE subscriptions
		 SET tier = $2, status = $3, provider_customer_id = $4,
			 provider_sub_id = NULLIF($5, ''), ever_pro = TRUE,
			 current_period_end = $6, updated_at = $7
		 WHERE club_id = $1 AND tier = 'free' AND status = 'active'
		 RETURNING `+subscriptionCols,
		clubID, string(plan.TierPro), string(p.Status),
		p.ProviderCustomerID, p.ProviderSubID, p.CurrentPeriodEnd, time.Now().UTC(),
	)

	sub, err := scanSubscription(row)
	switch {
	case err == nil:
		return sub, nil
	case pg.IsUniqueViolation(err, constraintProviderSubID):
		return nil, ErrAlreadyFulfilled
	case pg.IsNotFoundError(err):
		// Distinguish a missing row from one that is simply not eligible.
		if _, lookupErr := s.SubscriptionByClub(ctx, clubID); lookupErr != nil {
			if errors.Is(lookupErr, ErrSubscriptionNotFound) {
				return nil, ErrSubscriptionNotFound
			}
			return nil, lookupErr
		}
		return nil, ErrNotUpgradeable
	default:
		return nil, fmt.Errorf("upgrade subscription: %w", err)
	}
}

func (s *PostgresStore) Downgrade(ctx context.Context, clubID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions
		 SET tier = 'free', status = 'active', provider_customer_id = '',
			 provider_sub_id = NULL, current_period_end = NULL, updated_at = $2
		 WHERE club_id = $1`,
		clubID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("downgrade subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *PostgresStore) ApplyStatusChange(ctx context.Context, providerSubID string, status Status, periodEnd *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $2, current_period_end = COALESCE($3, current_period_end), updated_at = $4
		 WHERE provider_sub_id = $1`,
		providerSubID, string(status), periodEnd, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("apply status change: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *PostgresStore) IsOrganiser(ctx context.Context, clubID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM club_members WHERE club_id = $1 AND user_id = $2)`,
		clubID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check organiser membership: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) TrialEverUsed(ctx context.Context, userID uuid.UUID) (bool, error) {
	var used bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM subscriptions s
			JOIN club_members m ON m.club_id = s.club_id
			WHERE m.user_id = $1 AND s.ever_pro
		)`,
		userID,
	).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("check trial eligibility: %w", err)
	}
	return used, nil
}

func (s *PostgresStore) ActiveClubIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.club_id
		 FROM club_members m
		 JOIN subscriptions s ON s.club_id = m.club_id
		 WHERE m.user_id = $1 AND s.status IN ('active', 'trialling')`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query active clubs: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan club id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active clubs: %w", err)
	}
	return out, nil
}
