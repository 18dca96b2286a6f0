package ledger

import (
	"context"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/models"
)

// WorkbookConfig locates the shared workbook backing one form kind's ledger.
type WorkbookConfig struct {
	Path      string
	SheetName string
}

// XLSXSheet implements Sheet over shared .xlsx workbooks on a mounted path,
// one workbook per form kind. The workbook is opened fresh for every
// operation and there is no cross-process lock: concurrent writers race,
// which is exactly the condition the orchestrator's check-then-append
// protocol exists to survive.
type XLSXSheet struct {
	workbooks map[models.FormKind]WorkbookConfig
	logger    *zap.Logger
}

// NewXLSXSheet creates a Sheet backed by per-kind workbooks.
func NewXLSXSheet(workbooks map[models.FormKind]WorkbookConfig, logger *zap.Logger) *XLSXSheet {
	return &XLSXSheet{workbooks: workbooks, logger: logger}
}

func (s *XLSXSheet) workbook(kind models.FormKind) (WorkbookConfig, error) {
	wb, ok := s.workbooks[kind]
	if !ok {
		return WorkbookConfig{}, fmt.Errorf("no workbook configured for form kind %q: %w", kind, ErrBackendUnavailable)
	}
	return wb, nil
}

// LastIdentifier returns the bottom-most identifier-column value, skipping
// the header row. ok is false when the ledger holds no data rows yet.
func (s *XLSXSheet) LastIdentifier(ctx context.Context, kind models.FormKind) (string, bool, error) {
	col, err := s.IdentifierColumn(ctx, kind)
	if err != nil {
		return "", false, err
	}
	if len(col) == 0 {
		return "", false, nil
	}
	return col[len(col)-1], true, nil
}

// IdentifierColumn returns every data-row value of column A, in row order.
func (s *XLSXSheet) IdentifierColumn(ctx context.Context, kind models.FormKind) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wb, err := s.workbook(kind)
	if err != nil {
		return nil, err
	}

	f, err := excelize.OpenFile(wb.Path)
	if err != nil {
		s.logger.Error("Failed to open ledger workbook",
			zap.String("path", wb.Path),
			zap.Error(err))
		return nil, fmt.Errorf("open workbook %s: %v: %w", wb.Path, err, ErrBackendUnavailable)
	}
	defer f.Close()

	cols, err := f.GetCols(wb.SheetName)
	if err != nil {
		return nil, fmt.Errorf("read identifier column: %v: %w", err, ErrBackendUnavailable)
	}
	if len(cols) == 0 || len(cols[0]) <= 1 {
		return nil, nil
	}

	// Row 1 is the header; trailing blanks are not data.
	values := make([]string, 0, len(cols[0])-1)
	for _, v := range cols[0][1:] {
		if v != "" {
			values = append(values, v)
		}
	}
	return values, nil
}

// AppendRow appends one row after the last occupied row of the sheet.
func (s *XLSXSheet) AppendRow(ctx context.Context, kind models.FormKind, row []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wb, err := s.workbook(kind)
	if err != nil {
		return err
	}

	f, err := excelize.OpenFile(wb.Path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Error("Ledger workbook missing", zap.String("path", wb.Path))
		}
		return fmt.Errorf("open workbook %s: %v: %w", wb.Path, err, ErrBackendUnavailable)
	}
	defer f.Close()

	rows, err := f.GetRows(wb.SheetName)
	if err != nil {
		return fmt.Errorf("read sheet %s: %v: %w", wb.SheetName, err, ErrBackendUnavailable)
	}

	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return fmt.Errorf("compute append position: %v: %w", err, ErrBackendUnavailable)
	}
	if err := f.SetSheetRow(wb.SheetName, cell, &cells); err != nil {
		return fmt.Errorf("write row: %v: %w", err, ErrBackendUnavailable)
	}

	if err := f.Save(); err != nil {
		s.logger.Error("Failed to save ledger workbook",
			zap.String("path", wb.Path),
			zap.Error(err))
		return fmt.Errorf("save workbook %s: %v: %w", wb.Path, err, ErrBackendUnavailable)
	}

	s.logger.Debug("Appended ledger row",
		zap.String("form_kind", string(kind)),
		zap.Int("row", len(rows)+1))
	return nil
}
