package postgres

import (
	"context"
	"database/sql"
	"testing"

	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testGateway(maxAttempts uint) *Gateway {
	return &Gateway{log: zerolog.Nop(), maxAttempts: maxAttempts}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("transient failures retry up to the attempt budget", func(t *testing.T) {
		g := testGateway(3)
		calls := 0
		err := g.withRetry(ctx, func() error {
			calls++
			return errors.New("connection refused")
		})
		require.Error(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("recovery within the budget succeeds", func(t *testing.T) {
		g := testGateway(3)
		calls := 0
		err := g.withRetry(ctx, func() error {
			calls++
			if calls < 2 {
				return errors.New("connection reset")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 2, calls)
	})

	t.Run("classified errors run exactly once", func(t *testing.T) {
		// A repo operation that already decided the outcome must not be
		// re-run: the first attempt consumed the state it was deciding on.
		for _, sentinel := range taxonomySentinels {
			g := testGateway(3)
			calls := 0
			err := g.withRetry(ctx, func() error {
				calls++
				return sentinel
			})
			require.ErrorIs(t, err, sentinel)
			require.Equal(t, 1, calls)
		}
	})

	t.Run("server rejections are permanent", func(t *testing.T) {
		g := testGateway(3)
		calls := 0
		pqErr := &pq.Error{Code: "42601"} // syntax error
		err := g.withRetry(ctx, func() error {
			calls++
			return pqErr
		})
		require.Error(t, err)
		require.Equal(t, 1, calls)
	})
}

func TestMapError(t *testing.T) {
	t.Run("taxonomy errors pass through untouched", func(t *testing.T) {
		for _, sentinel := range taxonomySentinels {
			require.ErrorIs(t, mapError(sentinel), sentinel)
		}
		wrapped := errors.Wrap(ierrors.ErrInvalidGrant, "grant not pending")
		require.Equal(t, wrapped, mapError(wrapped))
	})

	t.Run("driver signals translate into the taxonomy", func(t *testing.T) {
		require.ErrorIs(t, mapError(sql.ErrNoRows), ierrors.ErrNotFound)
		require.ErrorIs(t, mapError(&pq.Error{Code: uniqueViolation}), ierrors.ErrDuplicateID)
	})

	t.Run("unclassified failures surface as storage-unavailable", func(t *testing.T) {
		err := mapError(errors.New("dial tcp: connection refused"))
		require.ErrorIs(t, err, ierrors.ErrStorageUnavailable)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		require.NoError(t, mapError(nil))
	})
}
