package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"invoice-harvester-go/internal/models"
)

// Workbook is a Ledger stored in an .xlsx file, one invoice per row
type Workbook struct {
	mu    sync.Mutex
	path  string
	sheet string
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewWorkbook creates a ledger at path using sheet; the file is created with
// its header row on first use.
func NewWorkbook(path, sheet string, log logrus.FieldLogger) *Workbook {
	if sheet == "" {
		sheet = "Facturas"
	}
	return &Workbook{path: path, sheet: sheet, log: log, now: time.Now}
}

// open loads the workbook, creating file, sheet and header when missing.
// Caller holds mu.
func (w *Workbook) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		f = excelize.NewFile()
		if err := f.SetSheetName(f.GetSheetName(0), w.sheet); err != nil {
			return nil, fmt.Errorf("name ledger sheet: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", w.path, err)
	}

	if index, _ := f.GetSheetIndex(w.sheet); index == -1 {
		if _, err := f.NewSheet(w.sheet); err != nil {
			return nil, fmt.Errorf("create ledger sheet: %w", err)
		}
	}

	first, err := f.GetCellValue(w.sheet, "A1")
	if err != nil {
		return nil, err
	}
	if first == "" {
		for i, h := range Header {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			if err := f.SetCellValue(w.sheet, cell, h); err != nil {
				return nil, err
			}
		}
		_ = f.SetColWidth(w.sheet, "C", "C", 32)
		_ = f.SetColWidth(w.sheet, "E", "E", 40)
		_ = f.SetColWidth(w.sheet, "I", "I", 60)
		w.log.WithField("path", w.path).Info("Ledger header initialized")
	}
	return f, nil
}

// AppendRow adds one invoice row and saves the file
func (w *Workbook) AppendRow(ctx context.Context, rec *models.InvoiceRecord, fileURL, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := f.GetRows(w.sheet)
	if err != nil {
		return fmt.Errorf("read ledger rows: %w", err)
	}
	next := len(rows) + 1

	row := NewRow(rec, fileURL, messageID, w.now())
	values := []any{
		row.RegisteredAt.Format(time.RFC3339),
		row.InvoiceDate,
		row.Provider,
		row.InvoiceNumber,
		row.Concept,
		numericCell(rec.AmountExVat),
		numericCell(rec.VatAmount),
		numericCell(rec.TotalAmount),
		row.FileURL,
		row.MessageID,
	}
	start, _ := excelize.CoordinatesToCellName(1, next)
	if err := f.SetSheetRow(w.sheet, start, &values); err != nil {
		return fmt.Errorf("write ledger row: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// FindRecent returns up to n rows, newest first
func (w *Workbook) FindRecent(ctx context.Context, n int) ([]models.LedgerRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", w.path, err)
	}
	defer f.Close()

	if index, _ := f.GetSheetIndex(w.sheet); index == -1 {
		return nil, nil
	}
	rows, err := f.GetRows(w.sheet)
	if err != nil {
		return nil, fmt.Errorf("read ledger rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	parsed := make([]models.LedgerRow, 0, len(rows)-1)
	for _, cols := range rows[1:] {
		parsed = append(parsed, parseRow(cols))
	}
	return recent(parsed, n), nil
}

func parseRow(cols []string) models.LedgerRow {
	get := func(i int) string {
		if i < len(cols) {
			return cols[i]
		}
		return ""
	}
	row := models.LedgerRow{
		InvoiceDate:   get(1),
		Provider:      get(2),
		InvoiceNumber: get(3),
		Concept:       get(4),
		AmountExVat:   get(5),
		VatAmount:     get(6),
		TotalAmount:   get(7),
		FileURL:       get(8),
		MessageID:     get(9),
	}
	if t, err := time.Parse(time.RFC3339, get(0)); err == nil {
		row.RegisteredAt = t
	}
	return row
}

func numericCell(d *decimal.Decimal) any {
	if d == nil {
		return ""
	}
	return d.InexactFloat64()
}
