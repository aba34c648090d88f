package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/clubkit/svc/billing"
)

func TestStatusFromProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		provider string
		want     billing.Status
	}{
		{"active", billing.StatusActive},
		{"trialing", billing.StatusTrialling},
		{"trialling", billing.StatusTrialling},
		{"canceled", billing.StatusCancelled},
		{"cancelled", billing.StatusCancelled},
		{"past_due", billing.StatusExpired},
		{"incomplete", billing.StatusExpired},
		{"", billing.StatusExpired},
		{"something_new", billing.StatusExpired},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.provider, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, billing.StatusFromProvider(tt.provider))
		})
	}
}

func TestStatusActiveLike(t *testing.T) {
	t.Parallel()

	assert.True(t, billing.StatusActive.ActiveLike())
	assert.True(t, billing.StatusTrialling.ActiveLike())
	assert.False(t, billing.StatusCancelled.ActiveLike())
	assert.False(t, billing.StatusExpired.ActiveLike())
}
