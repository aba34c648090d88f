package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clubkit/pkg/plan"
	"github.com/dmitrymomot/clubkit/pkg/slug"
)

// MemStore is an in-memory Store for tests and local development. All
// mutations validate first and commit under one lock, so a failure never
// leaves partial state, matching the transactional guarantees of the
// postgres implementation.
type MemStore struct {
	mu sync.Mutex

	clubs       map[uuid.UUID]Club
	slugs       map[string]uuid.UUID
	subs        map[uuid.UUID]Subscription // keyed by subscription id
	subByClub   map[uuid.UUID]uuid.UUID
	subByExtID  map[string]uuid.UUID
	memberships map[uuid.UUID][]uuid.UUID // clubID -> userIDs

	// FailNextCreate, when set, makes the next CreateFulfillment call fail
	// after the idempotency check without mutating anything. Lets tests
	// verify that a failed fulfillment leaves no partial state.
	FailNextCreate error
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		clubs:       make(map[uuid.UUID]Club),
		slugs:       make(map[string]uuid.UUID),
		subs:        make(map[uuid.UUID]Subscription),
		subByClub:   make(map[uuid.UUID]uuid.UUID),
		subByExtID:  make(map[string]uuid.UUID),
		memberships: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (s *MemStore) SubscriptionByClub(_ context.Context, clubID uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subID, ok := s.subByClub[clubID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	sub := s.subs[subID]
	return &sub, nil
}

func (s *MemStore) SubscriptionByProviderSubID(_ context.Context, providerSubID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subID, ok := s.subByExtID[providerSubID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	sub := s.subs[subID]
	return &sub, nil
}

func (s *MemStore) CreateFulfillment(_ context.Context, f Fulfillment) (*FulfillmentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotency gate: one subscription row per provider subscription id.
	if f.ProviderSubID != "" {
		if _, exists := s.subByExtID[f.ProviderSubID]; exists {
			return nil, ErrAlreadyFulfilled
		}
	}

	if err := s.FailNextCreate; err != nil {
		s.FailNextCreate = nil
		return nil, err
	}

	clubSlug := slug.Make(f.ClubName)
	if _, taken := s.slugs[clubSlug]; taken || clubSlug == "" {
		clubSlug = slug.Make(f.ClubName, slug.WithSuffix(6))
	}

	now := time.Now().UTC()
	club := Club{ID: uuid.New(), Name: f.ClubName, Slug: clubSlug, CreatedAt: now}
	membership := Membership{ClubID: club.ID, UserID: f.UserID, CreatedAt: now}
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

	s.clubs[club.ID] = club
	s.slugs[clubSlug] = club.ID
	s.subs[sub.ID] = sub
	s.subByClub[club.ID] = sub.ID
	if sub.ProviderSubID != "" {
		s.subByExtID[sub.ProviderSubID] = sub.ID
	}
	s.memberships[club.ID] = append(s.memberships[club.ID], f.UserID)

	return &FulfillmentResult{Club: club, Membership: membership, Subscription: sub}, nil
}

func (s *MemStore) UpgradeInPlace(_ context.Context, clubID uuid.UUID, p UpgradeParams) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subByExtID[p.ProviderSubID]; exists {
		return nil, ErrAlreadyFulfilled
	}

	subID, ok := s.subByClub[clubID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}

	sub := s.subs[subID]
	if !sub.Upgradeable() {
		return nil, ErrNotUpgradeable
	}

	sub.Tier = plan.TierPro
	sub.Status = p.Status
	sub.ProviderCustomerID = p.ProviderCustomerID
	sub.ProviderSubID = p.ProviderSubID
	sub.EverPro = true
	sub.CurrentPeriodEnd = p.CurrentPeriodEnd
	sub.UpdatedAt = time.Now().UTC()

	s.subs[subID] = sub
	s.subByExtID[p.ProviderSubID] = subID

	return &sub, nil
}

func (s *MemStore) Downgrade(_ context.Context, clubID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subID, ok := s.subByClub[clubID]
	if !ok {
		return ErrSubscriptionNotFound
	}

	sub := s.subs[subID]
	if sub.ProviderSubID != "" {
		delete(s.subByExtID, sub.ProviderSubID)
	}
	sub.Tier = plan.TierFree
	sub.Status = StatusActive
	sub.ProviderCustomerID = ""
	sub.ProviderSubID = ""
	sub.CurrentPeriodEnd = nil
	sub.UpdatedAt = time.Now().UTC()
	s.subs[subID] = sub

	return nil
}

func (s *MemStore) ApplyStatusChange(_ context.Context, providerSubID string, status Status, periodEnd *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subID, ok := s.subByExtID[providerSubID]
	if !ok {
		return ErrSubscriptionNotFound
	}

	sub := s.subs[subID]
	sub.Status = status
	if periodEnd != nil {
		sub.CurrentPeriodEnd = periodEnd
	}
	sub.UpdatedAt = time.Now().UTC()
	s.subs[subID] = sub

	return nil
}

func (s *MemStore) IsOrganiser(_ context.Context, clubID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.memberships[clubID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) TrialEverUsed(_ context.Context, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for clubID, users := range s.memberships {
		for _, id := range users {
			if id != userID {
				continue
			}
			if subID, ok := s.subByClub[clubID]; ok && s.subs[subID].EverPro {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *MemStore) ActiveClubIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []uuid.UUID
	for clubID, users := range s.memberships {
		for _, id := range users {
			if id != userID {
				continue
			}
			if subID, ok := s.subByClub[clubID]; ok && s.subs[subID].Status.ActiveLike() {
				out = append(out, clubID)
			}
		}
	}
	return out, nil
}

// ClubBySlug is a test helper for asserting on created clubs.
func (s *MemStore) ClubBySlug(slugVal string) (*Club, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clubID, ok := s.slugs[slugVal]
	if !ok {
		return nil, false
	}
	club := s.clubs[clubID]
	return &club, true
}

// Counts returns the number of clubs, subscriptions and membership entries.
// Used by tests asserting the no-partial-state property.
func (s *MemStore) Counts() (clubs, subs, memberships int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, users := range s.memberships {
		memberships += len(users)
	}
	return len(s.clubs), len(s.subs), memberships
}
