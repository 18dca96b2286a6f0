package ledger

import (
	"context"
	"errors"

	"github.com/kwartzlab/forms-service/internal/models"
)

// ErrBackendUnavailable is returned when the ledger backend cannot be
// reached or read. Callers must distinguish it from an identifier collision,
// which is reported as a value, not an error.
var ErrBackendUnavailable = errors.New("ledger backend unavailable")

// ErrMalformedLedger is returned when the last identifier in the ledger does
// not match the expected format for its form kind and no safe continuation
// exists.
var ErrMalformedLedger = errors.New("ledger identifier column is malformed")

// Sheet is the minimal surface the engine needs from the shared
// spreadsheet-like store. The store offers no transactions and no locking;
// every call is an independent network round trip and two writers may
// interleave arbitrarily between calls.
type Sheet interface {
	// LastIdentifier returns the bottom-most value of the identifier
	// column. ok is false when the ledger has no data rows.
	LastIdentifier(ctx context.Context, kind models.FormKind) (value string, ok bool, err error)

	// IdentifierColumn returns every value in the identifier column, in
	// row order. Used for the pre-commit collision scan.
	IdentifierColumn(ctx context.Context, kind models.FormKind) ([]string, error)

	// AppendRow appends one row at the bottom of the ledger. Appends of
	// separate rows are individually durable but not atomic as a group.
	AppendRow(ctx context.Context, kind models.FormKind, row []string) error
}
