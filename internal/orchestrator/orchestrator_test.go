package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/journal"
	"github.com/kwartzlab/forms-service/internal/models"
	"github.com/kwartzlab/forms-service/internal/validation"
)

// fakeBackend is a shared in-memory stand-in for the ledger and allocator:
// a set of committed identifiers guarded by a mutex, with an optional delay
// between the race check and the commit to widen the collision window.
type fakeBackend struct {
	mu        sync.Mutex
	next      int
	committed map[models.Identifier][]string // id -> appended links

	allocErr  error
	checkErr  error
	appendErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{next: 20260001, committed: make(map[models.Identifier][]string)}
}

func (b *fakeBackend) Allocate(_ context.Context, _ models.FormKind) (models.Identifier, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.allocErr != nil {
		return "", b.allocErr
	}
	// Like the real allocator, derives the next id from what is committed,
	// so two concurrent callers can be handed the same value.
	high := b.next
	for id := range b.committed {
		if n, err := strconv.Atoi(string(id)); err == nil && n >= high {
			high = n + 1
		}
	}
	return models.Identifier(strconv.Itoa(high)), nil
}

func (b *fakeBackend) IsIdentifierFree(_ context.Context, _ models.FormKind, id models.Identifier) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.checkErr != nil {
		return false, b.checkErr
	}
	_, taken := b.committed[id]
	return !taken, nil
}

func (b *fakeBackend) Append(_ context.Context, _ models.FormKind, sub *models.Submission, assets []models.FileAsset) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.appendErr != nil {
		return b.appendErr
	}
	// The real store would silently write a duplicate block; the fake
	// rejects it so a missed race turns into a visible test failure.
	if _, taken := b.committed[sub.ID]; taken {
		return fmt.Errorf("identifier %s already committed", sub.ID)
	}
	links := make([]string, len(assets))
	for i, a := range assets {
		links[i] = a.Link
	}
	b.committed[sub.ID] = links
	return nil
}

// fakeAssets tracks uploads and deletes so tests can assert rollback
// completeness.
type fakeAssets struct {
	mu        sync.Mutex
	seq       int
	uploaded  []string
	deleted   []string
	uploadErr error
}

func (a *fakeAssets) UploadAll(_ context.Context, _ models.FormKind, id models.Identifier, atts []models.Attachment) ([]models.FileAsset, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uploadErr != nil {
		return nil, a.uploadErr
	}
	assets := make([]models.FileAsset, len(atts))
	for i, att := range atts {
		a.seq++
		remoteID := fmt.Sprintf("%s/%s#%d", id, att.Filename, a.seq)
		a.uploaded = append(a.uploaded, remoteID)
		assets[i] = models.FileAsset{
			Filename: att.Filename,
			RemoteID: remoteID,
			Link:     "https://files.example.org/" + remoteID,
		}
	}
	return assets, nil
}

func (a *fakeAssets) Delete(_ context.Context, remoteID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, remoteID)
	return true
}

func (a *fakeAssets) outstanding() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	deleted := make(map[string]bool, len(a.deleted))
	for _, id := range a.deleted {
		deleted[id] = true
	}
	var out []string
	for _, id := range a.uploaded {
		if !deleted[id] {
			out = append(out, id)
		}
	}
	return out
}

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   int
	links   []string
	receipt Receipt
}

func (d *fakeDispatcher) Notify(_ context.Context, _ models.FormKind, _ *models.Submission, links []string) Receipt {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.links = links
	return d.receipt
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *fakeRecorder) Record(_ context.Context, e journal.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *fakeRecorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Outcome
	}
	return out
}

func testSubmission() *models.Submission {
	return &models.Submission{
		Kind:      models.ReimbursementRequest,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.org",
		Expenses: []models.ExpenseLine{{
			Approval:    "board-2026-07",
			Vendor:      "Acme Tools",
			Description: "Drill press",
			Amount:      "129.50",
			HSTOption:   models.HSTIncluded,
		}},
	}
}

func testAttachments(n int) []models.Attachment {
	atts := make([]models.Attachment, n)
	for i := range atts {
		atts[i] = models.Attachment{
			Filename:    fmt.Sprintf("receipt%d.pdf", i+1),
			ContentType: "application/pdf",
			Size:        100,
		}
	}
	return atts
}

func fastConfig() Config {
	return Config{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newTestOrchestrator(backend *fakeBackend, assets *fakeAssets, dispatcher *fakeDispatcher, recorder Recorder) *Orchestrator {
	return New(backend, assets, backend, dispatcher, recorder, fastConfig(), zap.NewNop())
}

func TestOrchestrator_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on first attempt and dispatches notifications", func(t *testing.T) {
		backend := newFakeBackend()
		assets := &fakeAssets{}
		dispatcher := &fakeDispatcher{receipt: Receipt{ChatSent: true, EmailSent: true}}
		recorder := &fakeRecorder{}
		o := newTestOrchestrator(backend, assets, dispatcher, recorder)

		result := o.Submit(ctx, models.ReimbursementRequest, testSubmission(), testAttachments(2))

		require.True(t, result.OK)
		assert.Equal(t, models.Identifier("20260001"), result.ID)
		assert.Len(t, result.FileLinks, 2)
		assert.True(t, result.LedgerAdded)
		assert.True(t, result.ChatSent)
		assert.True(t, result.EmailSent)
		assert.Equal(t, 1, dispatcher.calls)
		assert.Equal(t, result.FileLinks, dispatcher.links)
		assert.Equal(t, []string{journal.OutcomeCommitted}, recorder.outcomes())
	})

	t.Run("notification failure does not fail the submission", func(t *testing.T) {
		backend := newFakeBackend()
		o := newTestOrchestrator(backend, &fakeAssets{}, &fakeDispatcher{}, nil)

		result := o.Submit(ctx, models.ReimbursementRequest, testSubmission(), nil)

		require.True(t, result.OK)
		assert.False(t, result.ChatSent)
		assert.False(t, result.EmailSent)
	})

	t.Run("allocation failure returns server error without dispatching", func(t *testing.T) {
		backend := newFakeBackend()
		backend.allocErr = errors.New("workbook locked")
		dispatcher := &fakeDispatcher{}
		o := newTestOrchestrator(backend, &fakeAssets{}, dispatcher, nil)

		result := o.Submit(ctx, models.ReimbursementRequest, testSubmission(), nil)

		require.False(t, result.OK)
		assert.Equal(t, FailAllocation, result.FailureKind)
		assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
		assert.Zero(t, dispatcher.calls)
	})

	t.Run("invalid file maps to a client error", func(t *testing.T) {
		backend := newFakeBackend()
		assets := &fakeAssets{uploadErr: &validation.FieldError{Field: "File", Reason: "file type not allowed: .exe"}}
		o := newTestOrchestrator(backend, assets, &fakeDispatcher{}, nil)

		result := o.Submit(ctx, models.ReimbursementRequest, testSubmission(), testAttachments(1))

		require.False(t, result.OK)
		assert.Equal(t, FailUpload, result.FailureKind)
		assert.Equal(t, http.StatusBadRequest, result.StatusCode)
		assert.Contains(t, result.Message, ".exe")
	})

	t.Run("upload infrastructure failure maps to a server error", func(t *testing.T) {
		backend := newFakeBackend()
		assets := &fakeAssets{uploadErr: errors.New("connection reset")}
		o := newTestOrchestrator(backend, assets, &fakeDispatcher{}, nil)

		result := o.Submit(ctx, models.ReimbursementRequest, testSubmission(), testAttachments(1))

		require.False(t, result.OK)
		assert.Equal(t, FailUpload, result.FailureKind)
		assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
	})

	t.Run("ledger append failure rolls back every uploaded asset", func(t *testing.T) {
		backend := newFakeBackend()
		backend.appendErr = errors.New("disk full")
		assets := &fakeAssets{}
		recorder := &fakeRecorder{}
		o := newTestOrchestrator(backend, assets, &fakeDispatcher{}, recorder)

		result := o.Submit(ctx, models.ReimbursementRequest, testSubmission(), testAttachments(3))

		require.False(t, result.OK)
		assert.Equal(t, FailLedger, result.FailureKind)
		assert.Len(t, assets.uploaded, 3)
		assert.Empty(t, assets.outstanding(), "every uploaded asset must be deleted on rollback")
		assert.Equal(t, []string{journal.OutcomeRolledBack}, recorder.outcomes())
	})

	t.Run("race check failure rolls back and reports server error", func(t *testing.T) {
		backend := newFakeBackend()
		backend.checkErr = errors.New("workbook unreadable")
		assets := &fakeAssets{}
		o := newTestOrchestrator(backend, assets, &fakeDispatcher{}, nil)

		result := o.Submit(ctx, models.ReimbursementRequest, testSubmission(), testAttachments(2))

		require.False(t, result.OK)
		assert.Equal(t, FailLedger, result.FailureKind)
		assert.Empty(t, assets.outstanding())
	})

	t.Run("exhausts retries under permanent collision", func(t *testing.T) {
		backend := newFakeBackend()
		// Pre-commit the only identifier the backend will ever hand out for
		// this window, so every attempt collides.
		backend.committed["20260001"] = nil
		backend.next = 20260001
		alloc := &stuckAllocator{id: "20260001"}
		assets := &fakeAssets{}
		recorder := &fakeRecorder{}
		o := New(alloc, assets, backend, &fakeDispatcher{}, recorder, fastConfig(), zap.NewNop())

		result := o.Submit(ctx, models.ReimbursementRequest, testSubmission(), testAttachments(1))

		require.False(t, result.OK)
		assert.Equal(t, FailContention, result.FailureKind)
		assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
		assert.Equal(t, 5, alloc.calls, "one allocation per attempt, no more")
		assert.Empty(t, assets.outstanding(), "colliding attempts must not leak uploads")

		outcomes := recorder.outcomes()
		require.Len(t, outcomes, 6)
		for i := 0; i < 5; i++ {
			assert.Equal(t, journal.OutcomeCollision, outcomes[i])
		}
		assert.Equal(t, journal.OutcomeExhausted, outcomes[5])
	})

	t.Run("canceled context stops the retry loop", func(t *testing.T) {
		backend := newFakeBackend()
		backend.committed["20260001"] = nil
		alloc := &stuckAllocator{id: "20260001"}
		cfg := Config{MaxAttempts: 5, BaseDelay: time.Minute, MaxDelay: time.Minute}
		o := New(alloc, &fakeAssets{}, backend, &fakeDispatcher{}, nil, cfg, zap.NewNop())

		cancelCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		result := o.Submit(cancelCtx, models.ReimbursementRequest, testSubmission(), nil)

		require.False(t, result.OK)
		assert.Equal(t, FailCanceled, result.FailureKind)
		assert.Equal(t, statusClientClosed, result.StatusCode)
	})

	t.Run("concurrent submitters commit distinct identifiers", func(t *testing.T) {
		backend := newFakeBackend()
		assets := &fakeAssets{}
		o := newTestOrchestrator(backend, assets, &fakeDispatcher{}, nil)

		const writers = 8
		results := make([]models.SubmissionResult, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sub := testSubmission()
				results[i] = o.Submit(ctx, models.ReimbursementRequest, sub, testAttachments(1))
			}(i)
		}
		wg.Wait()

		seen := make(map[models.Identifier]bool)
		committed := 0
		for _, result := range results {
			if !result.OK {
				continue
			}
			committed++
			assert.False(t, seen[result.ID], "identifier %s committed twice", result.ID)
			seen[result.ID] = true
		}
		assert.Equal(t, committed, len(backend.committed),
			"every reported commit must correspond to exactly one ledger block")
		assert.Empty(t, assets.outstanding(), "losers must roll back their uploads")
	})
}

// stuckAllocator always returns the same identifier, forcing collisions.
type stuckAllocator struct {
	mu    sync.Mutex
	id    models.Identifier
	calls int
}

func (a *stuckAllocator) Allocate(context.Context, models.FormKind) (models.Identifier, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.id, nil
}
