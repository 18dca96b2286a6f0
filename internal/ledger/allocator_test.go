package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/models"
)

// memSheet is an in-memory Sheet for tests. Rows include only data rows
// (no header).
type memSheet struct {
	mu        sync.Mutex
	rows      map[models.FormKind][][]string
	readErr   error
	appendErr error
}

func newMemSheet() *memSheet {
	return &memSheet{rows: make(map[models.FormKind][][]string)}
}

func (s *memSheet) LastIdentifier(ctx context.Context, kind models.FormKind) (string, bool, error) {
	col, err := s.IdentifierColumn(ctx, kind)
	if err != nil {
		return "", false, err
	}
	if len(col) == 0 {
		return "", false, nil
	}
	return col[len(col)-1], true, nil
}

func (s *memSheet) IdentifierColumn(ctx context.Context, kind models.FormKind) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	col := make([]string, 0, len(s.rows[kind]))
	for _, row := range s.rows[kind] {
		col = append(col, row[0])
	}
	return col, nil
}

func (s *memSheet) AppendRow(ctx context.Context, kind models.FormKind, row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.rows[kind] = append(s.rows[kind], row)
	return nil
}

func (s *memSheet) seed(kind models.FormKind, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.rows[kind] = append(s.rows[kind], []string{id})
	}
}

func newTestAllocator(sheet Sheet, now time.Time) *Allocator {
	a := NewAllocator(sheet, zap.NewNop())
	a.now = func() time.Time { return now }
	return a
}

func TestAllocator_ReimbursementRequest(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	year := now.Year()

	t.Run("empty ledger starts fresh sequence", func(t *testing.T) {
		a := newTestAllocator(newMemSheet(), now)

		id, err := a.Allocate(context.Background(), models.ReimbursementRequest)

		require.NoError(t, err)
		assert.Equal(t, models.Identifier(strconv.Itoa(year*10000+1)), id)
	})

	t.Run("increments within same year", func(t *testing.T) {
		sheet := newMemSheet()
		sheet.seed(models.ReimbursementRequest, strconv.Itoa(year*10000+41))
		a := newTestAllocator(sheet, now)

		id, err := a.Allocate(context.Background(), models.ReimbursementRequest)

		require.NoError(t, err)
		assert.Equal(t, models.Identifier(strconv.Itoa(year*10000+42)), id)
	})

	t.Run("sequential allocations grow by one with no gaps", func(t *testing.T) {
		sheet := newMemSheet()
		a := newTestAllocator(sheet, now)

		var prev int
		for i := 0; i < 10; i++ {
			id, err := a.Allocate(context.Background(), models.ReimbursementRequest)
			require.NoError(t, err)

			value, err := strconv.Atoi(id.String())
			require.NoError(t, err)
			if i == 0 {
				assert.Equal(t, year*10000+1, value)
			} else {
				assert.Equal(t, prev+1, value)
			}
			prev = value

			// Simulate the committed append before the next allocation.
			sheet.seed(models.ReimbursementRequest, id.String())
		}
	})

	t.Run("year rollover resets sequence regardless of stored value", func(t *testing.T) {
		sheet := newMemSheet()
		sheet.seed(models.ReimbursementRequest, strconv.Itoa((year-1)*10000+987))
		a := newTestAllocator(sheet, now)

		id, err := a.Allocate(context.Background(), models.ReimbursementRequest)

		require.NoError(t, err)
		assert.Equal(t, models.Identifier(strconv.Itoa(year*10000+1)), id)
	})

	t.Run("unparseable last id restarts numbering", func(t *testing.T) {
		sheet := newMemSheet()
		sheet.seed(models.ReimbursementRequest, "not-a-number")
		a := newTestAllocator(sheet, now)

		id, err := a.Allocate(context.Background(), models.ReimbursementRequest)

		require.NoError(t, err)
		assert.Equal(t, models.Identifier(strconv.Itoa(year*10000+1)), id)
	})

	t.Run("backend failure surfaces as unavailable", func(t *testing.T) {
		sheet := newMemSheet()
		sheet.readErr = fmt.Errorf("timeout: %w", ErrBackendUnavailable)
		a := newTestAllocator(sheet, now)

		_, err := a.Allocate(context.Background(), models.ReimbursementRequest)

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBackendUnavailable))
	})
}

func TestAllocator_PurchaseApproval(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("increments and zero-pads the sequence", func(t *testing.T) {
		sheet := newMemSheet()
		sheet.seed(models.PurchaseApproval, "PA0041")
		a := newTestAllocator(sheet, now)

		id, err := a.Allocate(context.Background(), models.PurchaseApproval)

		require.NoError(t, err)
		assert.Equal(t, models.Identifier("PA0042"), id)
	})

	t.Run("never resets by year", func(t *testing.T) {
		sheet := newMemSheet()
		sheet.seed(models.PurchaseApproval, "PA9998")
		a := newTestAllocator(sheet, now)

		id, err := a.Allocate(context.Background(), models.PurchaseApproval)

		require.NoError(t, err)
		assert.Equal(t, models.Identifier("PA9999"), id)
	})

	t.Run("empty ledger seeds the sequence", func(t *testing.T) {
		a := newTestAllocator(newMemSheet(), now)

		id, err := a.Allocate(context.Background(), models.PurchaseApproval)

		require.NoError(t, err)
		assert.Equal(t, models.Identifier("PA0001"), id)
	})

	t.Run("wrong prefix is malformed, not empty", func(t *testing.T) {
		sheet := newMemSheet()
		sheet.seed(models.PurchaseApproval, "XX0041")
		a := newTestAllocator(sheet, now)

		_, err := a.Allocate(context.Background(), models.PurchaseApproval)

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedLedger))
	})

	t.Run("non-numeric suffix is malformed", func(t *testing.T) {
		sheet := newMemSheet()
		sheet.seed(models.PurchaseApproval, "PAabcd")
		a := newTestAllocator(sheet, now)

		_, err := a.Allocate(context.Background(), models.PurchaseApproval)

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedLedger))
	})
}
