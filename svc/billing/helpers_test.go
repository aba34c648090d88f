package billing_test

import (
	"io"
	"testing"

	"github.com/dmitrymomot/clubkit/pkg/logger"
	"github.com/dmitrymomot/clubkit/pkg/payment"
	"github.com/dmitrymomot/clubkit/svc/billing"
)

func newTestService(t *testing.T, opts ...billing.Option) (*billing.Service, *billing.MemStore, *payment.Mock) {
	t.Helper()

	store := billing.NewMemStore()
	proc := payment.NewMock()
	opts = append([]billing.Option{
		billing.WithLogger(logger.New(logger.WithOutput(io.Discard))),
	}, opts...)

	svc := billing.NewService(store, proc, billing.Config{
		SuccessURL: "https://app.example.com/billing/success",
		CancelURL:  "https://app.example.com/billing/cancel",
		ProPriceID: "price_pro_monthly",
		TrialDays:  14,
	}, opts...)

	return svc, store, proc
}
