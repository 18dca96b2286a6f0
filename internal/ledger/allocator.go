package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/models"
)

const paPrefix = "PA"

// lastIDState classifies the ledger's last identifier so that "no prior id"
// and "corrupt id" stay distinguishable instead of both surfacing as a
// parse failure.
type lastIDState int

const (
	lastIDEmpty lastIDState = iota
	lastIDMalformed
	lastIDValid
)

// Allocator computes the next sequential identifier for a form kind from
// the current ledger state. Allocation is read-only: the identifier is not
// reserved, and two concurrent allocators can hand out the same value. The
// orchestrator's pre-commit collision check resolves that race.
type Allocator struct {
	sheet  Sheet
	now    func() time.Time
	logger *zap.Logger
}

// NewAllocator creates an identifier allocator over the given sheet.
func NewAllocator(sheet Sheet, logger *zap.Logger) *Allocator {
	return &Allocator{sheet: sheet, now: time.Now, logger: logger}
}

// Allocate returns the next identifier for the given form kind.
//
// ReimbursementRequest identifiers are year*10000+sequence; the sequence
// restarts at 1 when the ledger is empty, unparseable, or carries a stale
// year. PurchaseApproval identifiers are "PA"+%04d and never reset; an
// empty ledger seeds the sequence at PA0001, while a value that is neither
// empty nor "PA"+integer is reported as ErrMalformedLedger.
func (a *Allocator) Allocate(ctx context.Context, kind models.FormKind) (models.Identifier, error) {
	last, ok, err := a.sheet.LastIdentifier(ctx, kind)
	if err != nil {
		a.logger.Error("Failed to read last ledger identifier",
			zap.String("form_kind", string(kind)),
			zap.Error(err))
		return "", fmt.Errorf("allocate %s identifier: %w", kind, err)
	}

	var id models.Identifier
	switch kind {
	case models.ReimbursementRequest:
		id = a.nextReimbursementID(last, ok)
	case models.PurchaseApproval:
		id, err = a.nextPurchaseApprovalID(last, ok)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown form kind %q", kind)
	}

	a.logger.Debug("Allocated identifier",
		zap.String("form_kind", string(kind)),
		zap.String("id", id.String()),
		zap.String("last", last))
	return id, nil
}

func (a *Allocator) nextReimbursementID(last string, ok bool) models.Identifier {
	year := a.now().Year()
	state, value := classifyReimbursementID(last, ok)
	if state != lastIDValid {
		// Empty and malformed both restart numbering at the current year.
		return models.Identifier(strconv.Itoa(year*10000 + 1))
	}

	storedYear := value / 10000
	sequence := value % 10000
	if storedYear < year {
		return models.Identifier(strconv.Itoa(year*10000 + 1))
	}
	return models.Identifier(strconv.Itoa(year*10000 + sequence + 1))
}

func classifyReimbursementID(last string, ok bool) (lastIDState, int) {
	if !ok {
		return lastIDEmpty, 0
	}
	value, err := strconv.Atoi(strings.TrimSpace(last))
	if err != nil || value < 10000 {
		return lastIDMalformed, 0
	}
	return lastIDValid, value
}

func (a *Allocator) nextPurchaseApprovalID(last string, ok bool) (models.Identifier, error) {
	state, sequence := classifyPurchaseApprovalID(last, ok)
	switch state {
	case lastIDEmpty:
		// First-ever submission: seed the sequence rather than failing.
		return models.Identifier(paPrefix + "0001"), nil
	case lastIDMalformed:
		a.logger.Error("Malformed purchase approval identifier in ledger",
			zap.String("last", last))
		return "", fmt.Errorf("last identifier %q: %w", last, ErrMalformedLedger)
	default:
		return models.Identifier(fmt.Sprintf("%s%04d", paPrefix, sequence+1)), nil
	}
}

func classifyPurchaseApprovalID(last string, ok bool) (lastIDState, int) {
	if !ok {
		return lastIDEmpty, 0
	}
	trimmed := strings.TrimSpace(last)
	if !strings.HasPrefix(trimmed, paPrefix) {
		return lastIDMalformed, 0
	}
	sequence, err := strconv.Atoi(trimmed[len(paPrefix):])
	if err != nil || sequence < 0 {
		return lastIDMalformed, 0
	}
	return lastIDValid, sequence
}
