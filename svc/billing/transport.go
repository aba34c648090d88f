package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/clubkit/pkg/payment"
)

type ctxKey struct{}

// WithUserID attaches the authenticated user id to the request context.
// Session middleware is expected to call this before the billing routes run.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFromContext extracts the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// Router mounts the billing HTTP surface. All routes except the webhook
// expect an authenticated user in the request context.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/clubs", s.handleCreateFreeClub)
	r.Post("/checkout/club", s.handleCheckoutClub)
	r.Post("/checkout/trial", s.handleCheckoutTrial)
	r.Post("/checkout/upgrade", s.handleCheckoutUpgrade)
	r.Post("/confirm", s.handleConfirm)
	r.Post("/downgrade", s.handleDowngrade)
	r.Post("/webhook", s.handleWebhook)
	r.Get("/access", s.handleAccess)
	return r
}

func (s *Service) caller(r *http.Request) Caller {
	id, _ := UserIDFromContext(r.Context())
	return Caller{UserID: id}
}

type newClubRequest struct {
	ClubName string `json:"club_name"`
	Email    string `json:"email"`
}

type clubRequest struct {
	ClubID uuid.UUID `json:"club_id"`
	Email  string    `json:"email"`
}

type confirmRequest struct {
	SessionID string `json:"session_id"`
}

type checkoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type fulfillmentResponse struct {
	Success bool      `json:"success"`
	ClubID  uuid.UUID `json:"club_id"`
	Slug    string    `json:"slug,omitempty"`
	Tier    string    `json:"tier"`
	Status  string    `json:"status"`
}

func (s *Service) handleCreateFreeClub(w http.ResponseWriter, r *http.Request) {
	var req newClubRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.CreateFreeClub(r.Context(), s.caller(r), req.ClubName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := fulfillmentResult(res)
	out.Success = true
	s.writeJSON(w, http.StatusCreated, out)
}

func (s *Service) handleCheckoutClub(w http.ResponseWriter, r *http.Request) {
	var req newClubRequest
	if !s.decode(w, r, &req) {
		return
	}
	co, err := s.StartNewClubCheckout(r.Context(), s.caller(r), req.ClubName, req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, checkoutResponse{SessionID: co.SessionID, URL: co.URL})
}

func (s *Service) handleCheckoutTrial(w http.ResponseWriter, r *http.Request) {
	var req newClubRequest
	if !s.decode(w, r, &req) {
		return
	}
	co, err := s.StartTrialCheckout(r.Context(), s.caller(r), req.ClubName, req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, checkoutResponse{SessionID: co.SessionID, URL: co.URL})
}

func (s *Service) handleCheckoutUpgrade(w http.ResponseWriter, r *http.Request) {
	var req clubRequest
	if !s.decode(w, r, &req) {
		return
	}
	co, err := s.StartUpgradeCheckout(r.Context(), s.caller(r), req.ClubID, req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, checkoutResponse{SessionID: co.SessionID, URL: co.URL})
}

// handleConfirm is the client confirmation path: the success redirect posts
// the session id back. A session the webhook already fulfilled is reported
// as success, so the two paths are indistinguishable to the client.
func (s *Service) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.Fulfil(r.Context(), s.caller(r), req.SessionID)
	if errors.Is(err, ErrAlreadyFulfilled) {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := fulfillmentResult(res)
	out.Success = true
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleDowngrade(w http.ResponseWriter, r *http.Request) {
	var req clubRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.Downgrade(r.Context(), s.caller(r), req.ClubID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "downgraded"})
}

// handleWebhook accepts raw provider deliveries. Only a failed signature
// check earns a 400; every verified delivery is acknowledged unless a
// transient failure makes a redelivery worthwhile.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable payload"})
		return
	}

	err = s.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, payment.ErrInvalidSignature):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
	default:
		s.log.ErrorContext(r.Context(), "webhook processing failed", slog.Any("error", err))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *Service) handleAccess(w http.ResponseWriter, r *http.Request) {
	ids, err := s.ActiveClubs(r.Context(), s.caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]uuid.UUID{"club_ids": ids})
}

func fulfillmentResult(res *FulfillmentResult) fulfillmentResponse {
	out := fulfillmentResponse{
		ClubID: res.Subscription.ClubID,
		Tier:   string(res.Subscription.Tier),
		Status: string(res.Subscription.Status),
	}
	if res.Club.ID != uuid.Nil {
		out.ClubID = res.Club.ID
		out.Slug = res.Club.Slug
	}
	return out
}

func (s *Service) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidSession),
		errors.Is(err, ErrInvalidIntent):
		status = http.StatusBadRequest
	case errors.Is(err, ErrPaymentIncomplete):
		status = http.StatusPaymentRequired
	case errors.Is(err, ErrNotOrganiser),
		errors.Is(err, ErrIdentityMismatch),
		errors.Is(err, ErrNotUpgradeable),
		errors.Is(err, ErrAlreadyTrialled):
		status = http.StatusForbidden
	case errors.Is(err, ErrSubscriptionNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", slog.Any("error", err))
		s.writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
