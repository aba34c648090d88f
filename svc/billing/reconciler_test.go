package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clubkit/pkg/payment"
	"github.com/dmitrymomot/clubkit/pkg/plan"
	"github.com/dmitrymomot/clubkit/svc/billing"
)

func TestFulfilNewClub(t *testing.T) {
	t.Parallel()

	t.Run("creates club membership and subscription atomically", func(t *testing.T) {
		t.Parallel()
		svc, store, proc := newTestService(t)
		ctx := context.Background()
		userID := uuid.New()
		periodEnd := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)

		co, err := svc.StartNewClubCheckout(ctx, billing.AuthenticatedCaller(userID), "Sunday Smashers", "a@b.c")
		require.NoError(t, err)
		subID, err := proc.CompletePayment(co.SessionID, "active", periodEnd)
		require.NoError(t, err)

		res, err := svc.Fulfil(ctx, billing.AuthenticatedCaller(userID), co.SessionID)
		require.NoError(t, err)

		assert.Equal(t, "Sunday Smashers", res.Club.Name)
		assert.Equal(t, "sunday-smashers", res.Club.Slug)
		assert.Equal(t, userID, res.Membership.UserID)
		assert.Equal(t, plan.TierPro, res.Subscription.Tier)
		assert.Equal(t, billing.StatusActive, res.Subscription.Status)
		assert.Equal(t, subID, res.Subscription.ProviderSubID)
		assert.True(t, res.Subscription.EverPro)
		require.NotNil(t, res.Subscription.CurrentPeriodEnd)
		assert.True(t, res.Subscription.CurrentPeriodEnd.Equal(periodEnd))

		clubs, subs, members := store.Counts()
		assert.Equal(t, 1, clubs)
		assert.Equal(t, 1, subs)
		assert.Equal(t, 1, members)
	})

	t.Run("trial session lands in trialling status", func(t *testing.T) {
		t.Parallel()
		svc, _, proc := newTestService(t)
		ctx := context.Background()
		userID := uuid.New()

		co, err := svc.StartTrialCheckout(ctx, billing.AuthenticatedCaller(userID), "Trial Club", "a@b.c")
		require.NoError(t, err)
		_, err = proc.CompletePayment(co.SessionID, "trialing", time.Now().Add(14*24*time.Hour))
		require.NoError(t, err)

		res, err := svc.Fulfil(ctx, billing.AuthenticatedCaller(userID), co.SessionID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusTrialling, res.Subscription.Status)
		assert.True(t, res.Subscription.EverPro)
	})

	t.Run("unpaid session is rejected until payment settles", func(t *testing.T) {
		t.Parallel()
		svc, store, proc := newTestService(t)
		ctx := context.Background()
		userID := uuid.New()

		co, err := svc.StartNewClubCheckout(ctx, billing.AuthenticatedCaller(userID), "Smashers", "a@b.c")
		require.NoError(t, err)

		_, err = svc.Fulfil(ctx, billing.AuthenticatedCaller(userID), co.SessionID)
		require.ErrorIs(t, err, billing.ErrPaymentIncomplete)

		clubs, _, _ := store.Counts()
		assert.Zero(t, clubs)

		_, err = proc.CompletePayment(co.SessionID, "active", time.Now().Add(time.Hour))
		require.NoError(t, err)
		_, err = svc.Fulfil(ctx, billing.AuthenticatedCaller(userID), co.SessionID)
		require.NoError(t, err)
	})

	t.Run("unknown session id", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t)

		_, err := svc.Fulfil(context.Background(), billing.AuthenticatedCaller(uuid.New()), "cs_nope")
		require.ErrorIs(t, err, billing.ErrInvalidSession)
	})

	t.Run("caller must match the intent user", func(t *testing.T) {
		t.Parallel()
		svc, store, proc := newTestService(t)
		ctx := context.Background()
		owner := uuid.New()

		co, err := svc.StartNewClubCheckout(ctx, billing.AuthenticatedCaller(owner), "Smashers", "a@b.c")
		require.NoError(t, err)
		_, err = proc.CompletePayment(co.SessionID, "active", time.Now().Add(time.Hour))
		require.NoError(t, err)

		_, err = svc.Fulfil(ctx, billing.AuthenticatedCaller(uuid.New()), co.SessionID)
		require.ErrorIs(t, err, billing.ErrIdentityMismatch)

		_, err = svc.Fulfil(ctx, billing.Caller{}, co.SessionID)
		require.ErrorIs(t, err, billing.ErrUnauthenticated)

		// The session is still fulfillable by its rightful owner.
		_, err = svc.Fulfil(ctx, billing.AuthenticatedCaller(owner), co.SessionID)
		require.NoError(t, err)

		clubs, _, _ := store.Counts()
		assert.Equal(t, 1, clubs)
	})

	t.Run("a failed fulfillment leaves no partial state", func(t *testing.T) {
		t.Parallel()
		svc, store, proc := newTestService(t)
		ctx := context.Background()
		userID := uuid.New()

		co, err := svc.StartNewClubCheckout(ctx, billing.AuthenticatedCaller(userID), "Smashers", "a@b.c")
		require.NoError(t, err)
		_, err = proc.CompletePayment(co.SessionID, "active", time.Now().Add(time.Hour))
		require.NoError(t, err)

		boom := errors.New("storage offline")
		store.FailNextCreate = boom
		_, err = svc.Fulfil(ctx, billing.AuthenticatedCaller(userID), co.SessionID)
		require.ErrorIs(t, err, boom)

		clubs, subs, members := store.Counts()
		assert.Zero(t, clubs)
		assert.Zero(t, subs)
		assert.Zero(t, members)

		// And the session remains fulfillable afterwards.
		_, err = svc.Fulfil(ctx, billing.AuthenticatedCaller(userID), co.SessionID)
		require.NoError(t, err)
	})
}

func TestFulfilIdempotency(t *testing.T) {
	t.Parallel()

	t.Run("second delivery stops at the gate", func(t *testing.T) {
		t.Parallel()
		svc, store, proc := newTestService(t)
		ctx := context.Background()
		userID := uuid.New()

		co, err := svc.StartNewClubCheckout(ctx, billing.AuthenticatedCaller(userID), "Smashers", "a@b.c")
		require.NoError(t, err)
		_, err = proc.CompletePayment(co.SessionID, "active", time.Now().Add(time.Hour))
		require.NoError(t, err)

		_, err = svc.Fulfil(ctx, billing.AuthenticatedCaller(userID), co.SessionID)
		require.NoError(t, err)

		_, err = svc.Fulfil(ctx, billing.TrustedCaller(), co.SessionID)
		require.ErrorIs(t, err, billing.ErrAlreadyFulfilled)

		clubs, subs, members := store.Counts()
		assert.Equal(t, 1, clubs)
		assert.Equal(t, 1, subs)
		assert.Equal(t, 1, members)
	})

	t.Run("concurrent deliveries create exactly one club", func(t *testing.T) {
		t.Parallel()
		svc, store, proc := newTestService(t)
		ctx := context.Background()
		userID := uuid.New()

		co, err := svc.StartNewClubCheckout(ctx, billing.AuthenticatedCaller(userID), "Smashers", "a@b.c")
		require.NoError(t, err)
		_, err = proc.CompletePayment(co.SessionID, "active", time.Now().Add(time.Hour))
		require.NoError(t, err)

		const racers = 8
		errs := make([]error, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = svc.Fulfil(ctx, billing.TrustedCaller(), co.SessionID)
			}()
		}
		wg.Wait()

		var won int
		for _, err := range errs {
			switch {
			case err == nil:
				won++
			default:
				require.ErrorIs(t, err, billing.ErrAlreadyFulfilled)
			}
		}
		assert.Equal(t, 1, won)

		clubs, subs, members := store.Counts()
		assert.Equal(t, 1, clubs)
		assert.Equal(t, 1, subs)
		assert.Equal(t, 1, members)
	})
}

func TestFulfilUpgrade(t *testing.T) {
	t.Parallel()

	t.Run("mutates the existing row in place", func(t *testing.T) {
		t.Parallel()
		svc, store, proc := newTestService(t)
		ctx := context.Background()
		userID := uuid.New()

		free, err := svc.CreateFreeClub(ctx, billing.AuthenticatedCaller(userID), "Free Club")
		require.NoError(t, err)

		co, err := svc.StartUpgradeCheckout(ctx, billing.AuthenticatedCaller(userID), free.Club.ID, "a@b.c")
		require.NoError(t, err)
		subID, err := proc.CompletePayment(co.SessionID, "active", time.Now().Add(time.Hour))
		require.NoError(t, err)

		res, err := svc.Fulfil(ctx, billing.AuthenticatedCaller(userID), co.SessionID)
		require.NoError(t, err)

		assert.Equal(t, free.Subscription.ID, res.Subscription.ID, "upgrade must keep the row id")
		assert.Equal(t, plan.TierPro, res.Subscription.Tier)
		assert.Equal(t, subID, res.Subscription.ProviderSubID)
		assert.True(t, res.Subscription.EverPro)

		clubs, subs, _ := store.Counts()
		assert.Equal(t, 1, clubs, "no new club on upgrade")
		assert.Equal(t, 1, subs, "no new subscription row on upgrade")
	})

	t.Run("upgrade of an already upgraded club stops at the gate", func(t *testing.T) {
		t.Parallel()
		svc, _, proc := newTestService(t)
		ctx := context.Background()
		userID := uuid.New()

		free, err := svc.CreateFreeClub(ctx, billing.AuthenticatedCaller(userID), "Free Club")
		require.NoError(t, err)

		co, err := svc.StartUpgradeCheckout(ctx, billing.AuthenticatedCaller(userID), free.Club.ID, "a@b.c")
		require.NoError(t, err)
		_, err = proc.CompletePayment(co.SessionID, "active", time.Now().Add(time.Hour))
		require.NoError(t, err)

		_, err = svc.Fulfil(ctx, billing.AuthenticatedCaller(userID), co.SessionID)
		require.NoError(t, err)

		// Redelivery of the same session.
		_, err = svc.Fulfil(ctx, billing.TrustedCaller(), co.SessionID)
		require.ErrorIs(t, err, billing.ErrAlreadyFulfilled)
	})
}

func TestHandleEvent(t *testing.T) {
	t.Parallel()

	sign := func(t *testing.T, ev payment.Event) []byte {
		t.Helper()
		payload, err := json.Marshal(ev)
		require.NoError(t, err)
		return payload
	}

	t.Run("rejects bad signature", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t)

		err := svc.HandleEvent(context.Background(), []byte(`{}`), "whsec_wrong")
		require.ErrorIs(t, err, payment.ErrInvalidSignature)
	})

	t.Run("checkout completion fulfils as trusted caller", func(t *testing.T) {
		t.Parallel()
		svc, store, proc := newTestService(t)
		ctx := context.Background()
		userID := uuid.New()

		co, err := svc.StartNewClubCheckout(ctx, billing.AuthenticatedCaller(userID), "Smashers", "a@b.c")
		require.NoError(t, err)
		_, err = proc.CompletePayment(co.SessionID, "active", time.Now().Add(time.Hour))
		require.NoError(t, err)

		payload := sign(t, payment.Event{
			Type:              payment.EventCheckoutCompleted,
			CheckoutSessionID: co.SessionID,
		})
		require.NoError(t, svc.HandleEvent(ctx, payload, proc.WebhookSecret))

		clubs, _, _ := store.Counts()
		assert.Equal(t, 1, clubs)

		// Redelivery is acknowledged, not an error.
		require.NoError(t, svc.HandleEvent(ctx, payload, proc.WebhookSecret))
		clubs, _, _ = store.Counts()
		assert.Equal(t, 1, clubs)
	})

	t.Run("webhook first then client confirmation", func(t *testing.T) {
		t.Parallel()
		svc, _, proc := newTestService(t)
		ctx := context.Background()
		userID := uuid.New()

		co, err := svc.StartNewClubCheckout(ctx, billing.AuthenticatedCaller(userID), "Smashers", "a@b.c")
		require.NoError(t, err)
		_, err = proc.CompletePayment(co.SessionID, "active", time.Now().Add(time.Hour))
		require.NoError(t, err)

		payload := sign(t, payment.Event{
			Type:              payment.EventCheckoutCompleted,
			CheckoutSessionID: co.SessionID,
		})
		require.NoError(t, svc.HandleEvent(ctx, payload, proc.WebhookSecret))

		_, err = svc.Fulfil(ctx, billing.AuthenticatedCaller(userID), co.SessionID)
		require.ErrorIs(t, err, billing.ErrAlreadyFulfilled)
	})

	t.Run("subscription update changes status", func(t *testing.T) {
		t.Parallel()
		svc, store, proc := newTestService(t)
		ctx := context.Background()
		userID := uuid.New()

		co, err := svc.StartNewClubCheckout(ctx, billing.AuthenticatedCaller(userID), "Smashers", "a@b.c")
		require.NoError(t, err)
		subID, err := proc.CompletePayment(co.SessionID, "active", time.Now().Add(time.Hour))
		require.NoError(t, err)
		res, err := svc.Fulfil(ctx, billing.AuthenticatedCaller(userID), co.SessionID)
		require.NoError(t, err)

		payload := sign(t, payment.Event{
			Type:           payment.EventSubscriptionUpdated,
			SubscriptionID: subID,
			Status:         "canceled",
		})
		require.NoError(t, svc.HandleEvent(ctx, payload, proc.WebhookSecret))

		sub, err := store.SubscriptionByClub(ctx, res.Club.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCancelled, sub.Status)
	})

	t.Run("subscription deletion expires access", func(t *testing.T) {
		t.Parallel()
		svc, store, proc := newTestService(t)
		ctx := context.Background()
		userID := uuid.New()

		co, err := svc.StartNewClubCheckout(ctx, billing.AuthenticatedCaller(userID), "Smashers", "a@b.c")
		require.NoError(t, err)
		subID, err := proc.CompletePayment(co.SessionID, "active", time.Now().Add(time.Hour))
		require.NoError(t, err)
		res, err := svc.Fulfil(ctx, billing.AuthenticatedCaller(userID), co.SessionID)
		require.NoError(t, err)

		payload := sign(t, payment.Event{
			Type:           payment.EventSubscriptionDeleted,
			SubscriptionID: subID,
			Status:         "canceled",
		})
		require.NoError(t, svc.HandleEvent(ctx, payload, proc.WebhookSecret))

		sub, err := store.SubscriptionByClub(ctx, res.Club.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusExpired, sub.Status)
		assert.False(t, sub.Status.ActiveLike())
	})

	t.Run("status event for unknown subscription is acknowledged", func(t *testing.T) {
		t.Parallel()
		svc, _, proc := newTestService(t)

		payload := sign(t, payment.Event{
			Type:           payment.EventSubscriptionUpdated,
			SubscriptionID: "sub_unknown",
			Status:         "active",
		})
		require.NoError(t, svc.HandleEvent(context.Background(), payload, proc.WebhookSecret))
	})

	t.Run("unhandled event types are ignored", func(t *testing.T) {
		t.Parallel()
		svc, _, proc := newTestService(t)

		payload := sign(t, payment.Event{Type: payment.EventUnknown, ProviderEvent: "invoice.paid"})
		require.NoError(t, svc.HandleEvent(context.Background(), payload, proc.WebhookSecret))
	})
}

func TestDowngrade(t *testing.T) {
	t.Parallel()

	t.Run("returns club to free tier and clears provider linkage", func(t *testing.T) {
		t.Parallel()
		svc, store, proc := newTestService(t)
		ctx := context.Background()
		userID := uuid.New()

		co, err := svc.StartNewClubCheckout(ctx, billing.AuthenticatedCaller(userID), "Smashers", "a@b.c")
		require.NoError(t, err)
		subID, err := proc.CompletePayment(co.SessionID, "active", time.Now().Add(time.Hour))
		require.NoError(t, err)
		res, err := svc.Fulfil(ctx, billing.AuthenticatedCaller(userID), co.SessionID)
		require.NoError(t, err)

		require.NoError(t, svc.Downgrade(ctx, billing.AuthenticatedCaller(userID), res.Club.ID))

		sub, err := store.SubscriptionByClub(ctx, res.Club.ID)
		require.NoError(t, err)
		assert.Equal(t, plan.TierFree, sub.Tier)
		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.Empty(t, sub.ProviderSubID)
		assert.True(t, sub.EverPro, "downgrade must not erase trial consumption")

		// Later provider events for the detached subscription are ignored.
		_, err = store.SubscriptionByProviderSubID(ctx, subID)
		require.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	})

	t.Run("only organisers may downgrade", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t)
		ctx := context.Background()

		res, err := svc.CreateFreeClub(ctx, billing.AuthenticatedCaller(uuid.New()), "Club")
		require.NoError(t, err)

		err = svc.Downgrade(ctx, billing.AuthenticatedCaller(uuid.New()), res.Club.ID)
		require.ErrorIs(t, err, billing.ErrNotOrganiser)
	})
}
