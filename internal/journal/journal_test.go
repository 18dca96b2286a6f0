package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/models"
	"github.com/kwartzlab/forms-service/pkg/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "journal.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).Run(Migrations))
	return NewStore(db, logger)
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("records and reads back attempts newest first", func(t *testing.T) {
		store := newTestStore(t)

		store.Record(ctx, Entry{
			Kind: models.ReimbursementRequest, ID: "20260042",
			Attempt: 1, Outcome: OutcomeCollision, FileCount: 2,
		})
		store.Record(ctx, Entry{
			Kind: models.ReimbursementRequest, ID: "20260043",
			Attempt: 2, Outcome: OutcomeCommitted, FileCount: 2,
		})

		entries, err := store.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)

		assert.Equal(t, models.Identifier("20260043"), entries[0].ID)
		assert.Equal(t, OutcomeCommitted, entries[0].Outcome)
		assert.Equal(t, 2, entries[0].Attempt)
		assert.False(t, entries[0].CreatedAt.IsZero())

		assert.Equal(t, models.Identifier("20260042"), entries[1].ID)
		assert.Equal(t, OutcomeCollision, entries[1].Outcome)
	})

	t.Run("preserves the error text of failed attempts", func(t *testing.T) {
		store := newTestStore(t)

		store.Record(ctx, Entry{
			Kind: models.PurchaseApproval, ID: "PA0007",
			Attempt: 1, Outcome: OutcomeRolledBack, Error: "upload quote.pdf: connection reset",
		})

		entries, err := store.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "upload quote.pdf: connection reset", entries[0].Error)
	})

	t.Run("limit clamps and truncates", func(t *testing.T) {
		store := newTestStore(t)
		for i := 0; i < 5; i++ {
			store.Record(ctx, Entry{Kind: models.ReimbursementRequest, ID: "20260001", Attempt: i + 1, Outcome: OutcomeCollision})
		}

		entries, err := store.Recent(ctx, 3)
		require.NoError(t, err)
		assert.Len(t, entries, 3)

		// Out-of-range limits fall back to the default.
		entries, err = store.Recent(ctx, -1)
		require.NoError(t, err)
		assert.Len(t, entries, 5)
	})

	t.Run("empty journal reads back empty", func(t *testing.T) {
		store := newTestStore(t)
		entries, err := store.Recent(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
