// Package orchestrator drives the multi-resource submission write path:
// allocate an identifier, upload attachments, detect allocation races
// against the shared ledger, append ledger rows, and compensate with
// best-effort deletes when any step fails partway.
//
// The ledger and file store expose no transactions and no locks, so the
// engine runs optimistically: assume no collision, re-check the identifier
// immediately before the irreversible append, and redo the attempt from
// scratch (including uploads) on the rare collision.
package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/journal"
	"github.com/kwartzlab/forms-service/internal/models"
	"github.com/kwartzlab/forms-service/internal/validation"
)

// ErrRetriesExhausted is returned when every attempt collided: the
// identifier space is under systemic contention rather than a one-off
// fault.
var ErrRetriesExhausted = errors.New("identifier allocation retries exhausted")

// Failure kinds reported in SubmissionResult.
const (
	FailAllocation = "allocation"
	FailUpload     = "upload"
	FailLedger     = "ledger"
	FailContention = "contention"
	FailCanceled   = "canceled"
)

// Allocator computes the next sequential identifier for a form kind.
type Allocator interface {
	Allocate(ctx context.Context, kind models.FormKind) (models.Identifier, error)
}

// Assets uploads and deletes file assets in a submission-scoped container.
type Assets interface {
	UploadAll(ctx context.Context, kind models.FormKind, submissionID models.Identifier, atts []models.Attachment) ([]models.FileAsset, error)
	Delete(ctx context.Context, remoteID string) bool
}

// Ledger checks identifiers and appends finalized rows.
type Ledger interface {
	IsIdentifierFree(ctx context.Context, kind models.FormKind, id models.Identifier) (bool, error)
	Append(ctx context.Context, kind models.FormKind, sub *models.Submission, assets []models.FileAsset) error
}

// Dispatcher fans out success notifications. Its failures are reported in
// the result but never fail or roll back the submission.
type Dispatcher interface {
	Notify(ctx context.Context, kind models.FormKind, sub *models.Submission, links []string) Receipt
}

// Receipt reports which notification channels succeeded.
type Receipt struct {
	ChatSent  bool
	EmailSent bool
}

// Recorder receives best-effort audit entries for each attempt.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry)
}

// Config holds the fixed retry policy. The delay between colliding
// attempts grows geometrically from BaseDelay up to MaxDelay with
// randomized jitter, de-synchronizing competing writers.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Orchestrator coordinates one submission saga per Submit call. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	allocator  Allocator
	assets     Assets
	ledger     Ledger
	dispatcher Dispatcher
	recorder   Recorder
	cfg        Config
	logger     *zap.Logger
}

// New creates a submission orchestrator. recorder may be nil.
func New(allocator Allocator, assets Assets, ledger Ledger, dispatcher Dispatcher, recorder Recorder, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	return &Orchestrator{
		allocator:  allocator,
		assets:     assets,
		ledger:     ledger,
		dispatcher: dispatcher,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger,
	}
}

// Submit runs the saga for one validated submission: allocate, upload,
// race-check, commit, with whole-attempt retries on identifier collision.
// On success the notification dispatcher is invoked and its per-channel
// outcome merged into the result.
func (o *Orchestrator) Submit(ctx context.Context, kind models.FormKind, sub *models.Submission, atts []models.Attachment) models.SubmissionResult {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.BaseDelay
	bo.MaxInterval = o.cfg.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		result, collided := o.attempt(ctx, kind, sub, atts, attempt)
		if !collided {
			if result.OK {
				receipt := o.dispatcher.Notify(ctx, kind, sub, result.FileLinks)
				result.ChatSent = receipt.ChatSent
				result.EmailSent = receipt.EmailSent
			}
			return result
		}

		if attempt == o.cfg.MaxAttempts {
			break
		}

		wait := bo.NextBackOff()
		o.logger.Info("Identifier collision, backing off",
			zap.String("form_kind", string(kind)),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return models.Failure(FailCanceled, "Request canceled", statusClientClosed)
		}
	}

	o.record(ctx, journal.Entry{
		Kind:    kind,
		ID:      sub.ID,
		Attempt: o.cfg.MaxAttempts,
		Outcome: journal.OutcomeExhausted,
		Error:   ErrRetriesExhausted.Error(),
	})
	o.logger.Error("Submission retries exhausted",
		zap.String("form_kind", string(kind)),
		zap.Int("attempts", o.cfg.MaxAttempts))
	return models.Failure(FailContention,
		"Server Error: submission contention, please try again later",
		http.StatusInternalServerError)
}

// statusClientClosed is the nginx convention for a client that went away.
const statusClientClosed = 499

// attempt runs one full pass of the saga. collided is true only for an
// identifier collision, which the caller absorbs into the retry loop;
// every other outcome is terminal.
func (o *Orchestrator) attempt(ctx context.Context, kind models.FormKind, sub *models.Submission, atts []models.Attachment, attempt int) (result models.SubmissionResult, collided bool) {
	// Allocate. Read-only, so a failure here has nothing to roll back.
	id, err := o.allocator.Allocate(ctx, kind)
	if err != nil {
		o.record(ctx, journal.Entry{Kind: kind, Attempt: attempt, Outcome: journal.OutcomeRolledBack, Error: err.Error()})
		return models.Failure(FailAllocation,
			"Server Error: failed to access spreadsheet",
			http.StatusInternalServerError), false
	}
	sub.ID = id

	// Upload. The asset manager self-cleans its own partial batch, so a
	// failure here also has nothing left to roll back.
	assets, err := o.assets.UploadAll(ctx, kind, id, atts)
	if err != nil {
		o.record(ctx, journal.Entry{Kind: kind, ID: id, Attempt: attempt, Outcome: journal.OutcomeRolledBack, FileCount: len(atts), Error: err.Error()})
		var fieldErr *validation.FieldError
		if errors.As(err, &fieldErr) {
			return models.Failure(FailUpload, "File upload failed: "+fieldErr.Error(), http.StatusBadRequest), false
		}
		return models.Failure(FailUpload,
			"Server Error: failed to upload one or more files",
			http.StatusInternalServerError), false
	}

	// Race check: another writer may have claimed the same identifier
	// between allocation and now.
	free, err := o.ledger.IsIdentifierFree(ctx, kind, id)
	if err != nil {
		o.rollback(ctx, assets)
		o.record(ctx, journal.Entry{Kind: kind, ID: id, Attempt: attempt, Outcome: journal.OutcomeRolledBack, FileCount: len(assets), Error: err.Error()})
		return models.Failure(FailLedger,
			"Server Error: connection to spreadsheet failed",
			http.StatusInternalServerError), false
	}
	if !free {
		o.rollback(ctx, assets)
		o.record(ctx, journal.Entry{Kind: kind, ID: id, Attempt: attempt, Outcome: journal.OutcomeCollision, FileCount: len(assets)})
		return models.SubmissionResult{}, true
	}

	// Commit. Any failure is treated as total even though some rows may
	// have been written; see ledger.Writer.Append.
	if err := o.ledger.Append(ctx, kind, sub, assets); err != nil {
		o.rollback(ctx, assets)
		o.record(ctx, journal.Entry{Kind: kind, ID: id, Attempt: attempt, Outcome: journal.OutcomeRolledBack, FileCount: len(assets), Error: err.Error()})
		return models.Failure(FailLedger,
			"Server Error: failed to record entry in spreadsheet",
			http.StatusInternalServerError), false
	}

	links := make([]string, len(assets))
	for i, asset := range assets {
		links[i] = asset.Link
	}

	o.record(ctx, journal.Entry{Kind: kind, ID: id, Attempt: attempt, Outcome: journal.OutcomeCommitted, FileCount: len(assets)})
	o.logger.Info("Submission committed",
		zap.String("form_kind", string(kind)),
		zap.String("id", id.String()),
		zap.Int("attempt", attempt),
		zap.Int("files", len(assets)))

	return models.SubmissionResult{
		OK:          true,
		ID:          id,
		FileLinks:   links,
		LedgerAdded: true,
	}, false
}

// rollback issues a compensating delete for every uploaded asset. Deletes
// are best-effort: a failed delete is logged by the asset manager and
// dropped, because there is no recovery path for a failed rollback.
func (o *Orchestrator) rollback(ctx context.Context, assets []models.FileAsset) {
	for _, asset := range assets {
		o.assets.Delete(ctx, asset.RemoteID)
	}
}

func (o *Orchestrator) record(ctx context.Context, e journal.Entry) {
	if o.recorder != nil {
		o.recorder.Record(ctx, e)
	}
}
