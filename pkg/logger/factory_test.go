package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clubkit/pkg/logger"
)

type userIDKey struct{}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json output with static attrs", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer

		log := logger.New(
			logger.WithOutput(&buf),
			logger.WithAttr(slog.String("service", "billing")),
		)
		log.Info("checkout started")

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "checkout started", rec["msg"])
		assert.Equal(t, "billing", rec["service"])
	})

	t.Run("context extractor adds attrs at log time", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer

		log := logger.New(
			logger.WithOutput(&buf),
			logger.WithContextExtractors(func(ctx context.Context) (slog.Attr, bool) {
				if v, ok := ctx.Value(userIDKey{}).(string); ok {
					return slog.String("user_id", v), true
				}
				return slog.Attr{}, false
			}),
		)

		ctx := context.WithValue(context.Background(), userIDKey{}, "user-42")
		log.InfoContext(ctx, "fulfilled")

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "user-42", rec["user_id"])
	})

	t.Run("debug suppressed at default level", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer

		log := logger.New(logger.WithOutput(&buf))
		log.Debug("noise")

		assert.Zero(t, buf.Len())
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() {
			logger.New(logger.WithFormat("xml"))
		})
	})
}
