// Package journal keeps a local, best-effort audit trail of submission
// attempts. The shared ledger has no atomicity, so a crash between the
// identifier check and the last appended row can strand orphan rows; the
// journal gives operators enough to reconcile those by hand.
package journal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/models"
	"github.com/kwartzlab/forms-service/pkg/database"
)

// Attempt outcomes.
const (
	OutcomeCommitted  = "committed"
	OutcomeCollision  = "collision"
	OutcomeRolledBack = "rolled_back"
	OutcomeExhausted  = "exhausted"
)

// Entry records one orchestration attempt.
type Entry struct {
	Kind      models.FormKind
	ID        models.Identifier
	Attempt   int
	Outcome   string
	FileCount int
	Error     string
	CreatedAt time.Time
}

// Migrations holds the journal schema.
var Migrations = []database.Migration{
	{
		Version: 1,
		Name:    "create_submission_attempts",
		SQL: `
			CREATE TABLE IF NOT EXISTS submission_attempts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				form_kind TEXT NOT NULL,
				submission_id TEXT NOT NULL,
				attempt INTEGER NOT NULL,
				outcome TEXT NOT NULL,
				file_count INTEGER NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_attempts_submission
				ON submission_attempts (form_kind, submission_id);
		`,
	},
}

// Store persists attempt entries to sqlite.
type Store struct {
	db     *database.DB
	logger *zap.Logger
}

// NewStore creates a journal store.
func NewStore(db *database.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Record writes one entry. Journal writes are best-effort: failures are
// logged and swallowed so they can never affect the submission itself.
func (s *Store) Record(ctx context.Context, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submission_attempts
			(form_kind, submission_id, attempt, outcome, file_count, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind), e.ID.String(), e.Attempt, e.Outcome, e.FileCount, e.Error, e.CreatedAt)
	if err != nil {
		s.logger.Error("Failed to record journal entry",
			zap.String("form_kind", string(e.Kind)),
			zap.String("submission_id", e.ID.String()),
			zap.String("outcome", e.Outcome),
			zap.Error(err))
	}
}

// Recent returns the newest entries, newest first, for the reconciliation
// endpoint.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT form_kind, submission_id, attempt, outcome, file_count, error, created_at
		FROM submission_attempts
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind, id string
		if err := rows.Scan(&kind, &id, &e.Attempt, &e.Outcome, &e.FileCount, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = models.FormKind(kind)
		e.ID = models.Identifier(id)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
