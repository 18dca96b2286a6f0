package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/models"
)

// NoAttachmentMarker fills the file-link column of expense rows that have
// no attachment paired with them.
const NoAttachmentMarker = "No attachment"

// Writer appends finalized submission rows to the shared ledger and checks
// identifiers for collisions.
type Writer struct {
	sheet  Sheet
	now    func() time.Time
	logger *zap.Logger
}

// NewWriter creates a ledger writer over the given sheet.
func NewWriter(sheet Sheet, logger *zap.Logger) *Writer {
	return &Writer{sheet: sheet, now: time.Now, logger: logger}
}

// IsIdentifierFree reports whether id is absent from the ledger's
// identifier column. A found identifier returns (false, nil): a collision,
// which callers handle by retrying. A backend failure returns a non-nil
// error and must not be treated as a collision.
//
// The check scans the whole column for an exact string match rather than
// probing a single cell. That is O(ledger size) per submission, which is a
// known performance concern, but the full scan also catches a competing
// writer that recorded the same id with different cell formatting, so it is
// kept deliberately.
func (w *Writer) IsIdentifierFree(ctx context.Context, kind models.FormKind, id models.Identifier) (bool, error) {
	column, err := w.sheet.IdentifierColumn(ctx, kind)
	if err != nil {
		w.logger.Error("Failed to scan identifier column",
			zap.String("form_kind", string(kind)),
			zap.Error(err))
		return false, fmt.Errorf("collision check for %s: %w", id, err)
	}

	for _, existing := range column {
		if existing == id.String() {
			w.logger.Warn("Identifier collision detected",
				zap.String("form_kind", string(kind)),
				zap.String("id", id.String()))
			return false, nil
		}
	}
	return true, nil
}

// Append writes the submission to the ledger, one row per expense line,
// pairing the i-th file link with the i-th line by position. Surplus file
// links get extra rows with blank expense fields so every link is recorded;
// surplus expense lines carry the no-attachment marker. The pairing is a
// recording convention, not a semantic association.
//
// Rows are appended one at a time with no multi-row atomicity: a failure
// partway through leaves the earlier rows behind. Callers treat any error
// as total failure and roll back the uploaded files, which can strand
// orphan rows referencing deleted links. That window is inherent to the
// backing store and is reconciled manually via the journal.
func (w *Writer) Append(ctx context.Context, kind models.FormKind, sub *models.Submission, assets []models.FileAsset) error {
	timestamp := w.now().Format("2006-01-02 15:04:05")

	rowCount := len(sub.Expenses)
	if len(assets) > rowCount {
		rowCount = len(assets)
	}

	for i := 0; i < rowCount; i++ {
		var line models.ExpenseLine
		if i < len(sub.Expenses) {
			line = sub.Expenses[i]
		}

		link := NoAttachmentMarker
		if i < len(assets) {
			link = assets[i].Link
		}

		row := buildRow(kind, sub, line, timestamp, link)
		if err := w.sheet.AppendRow(ctx, kind, row); err != nil {
			w.logger.Error("Failed to append ledger row",
				zap.String("form_kind", string(kind)),
				zap.String("id", sub.ID.String()),
				zap.Int("row_index", i),
				zap.Error(err))
			return fmt.Errorf("append row %d of %d for %s: %w", i+1, rowCount, sub.ID, err)
		}
	}

	w.logger.Info("Recorded submission in ledger",
		zap.String("form_kind", string(kind)),
		zap.String("id", sub.ID.String()),
		zap.Int("rows", rowCount),
		zap.Int("files", len(assets)))
	return nil
}

func buildRow(kind models.FormKind, sub *models.Submission, line models.ExpenseLine, timestamp, link string) []string {
	switch kind {
	case models.ReimbursementRequest:
		return []string{
			sub.ID.String(),
			timestamp,
			sub.FirstName,
			sub.LastName,
			sub.Email,
			line.Approval,
			line.Vendor,
			line.Description,
			line.Amount,
			line.HSTOption,
			link,
			sub.Comments,
		}
	case models.PurchaseApproval:
		return []string{
			sub.ID.String(),
			timestamp,
			sub.FirstName,
			sub.LastName,
			sub.Email,
			line.Vendor,
			line.Description,
			line.Amount,
			link,
			sub.Comments,
		}
	default:
		return nil
	}
}
