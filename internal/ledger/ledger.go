package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"invoice-harvester-go/internal/models"
)

// Ledger is the row-oriented register of accepted invoices
type Ledger interface {
	AppendRow(ctx context.Context, rec *models.InvoiceRecord, fileURL, messageID string) error
	FindRecent(ctx context.Context, n int) ([]models.LedgerRow, error)
}

// Header is written as the first row of a new ledger
var Header = []string{
	"Registrado",
	"Fecha factura",
	"Proveedor",
	"Numero factura",
	"Concepto",
	"Base imponible",
	"IVA",
	"Total",
	"Archivo",
	"Message ID",
}

// NewRow converts a record into a ledger row registered at now
func NewRow(rec *models.InvoiceRecord, fileURL, messageID string, now time.Time) models.LedgerRow {
	row := models.LedgerRow{
		RegisteredAt:  now,
		Provider:      rec.Provider,
		InvoiceNumber: rec.InvoiceNumber,
		Concept:       rec.Concept,
		AmountExVat:   amountString(rec.AmountExVat),
		VatAmount:     amountString(rec.VatAmount),
		TotalAmount:   amountString(rec.TotalAmount),
		FileURL:       fileURL,
		MessageID:     messageID,
	}
	if rec.InvoiceDate != nil {
		row.InvoiceDate = rec.InvoiceDate.Format("2006-01-02")
	}
	return row
}

func amountString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// Memory keeps rows in process; used by tests and dry runs
type Memory struct {
	mu   sync.Mutex
	rows []models.LedgerRow
	now  func() time.Time
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) AppendRow(_ context.Context, rec *models.InvoiceRecord, fileURL, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, NewRow(rec, fileURL, messageID, m.now()))
	return nil
}

func (m *Memory) FindRecent(_ context.Context, n int) ([]models.LedgerRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return recent(m.rows, n), nil
}

// Rows returns every row in insertion order
func (m *Memory) Rows() []models.LedgerRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.LedgerRow, len(m.rows))
	copy(out, m.rows)
	return out
}

// recent returns the last n rows, newest first
func recent(rows []models.LedgerRow, n int) []models.LedgerRow {
	if n <= 0 || n > len(rows) {
		n = len(rows)
	}
	out := make([]models.LedgerRow, 0, n)
	for i := len(rows) - 1; i >= len(rows)-n; i-- {
		out = append(out, rows[i])
	}
	return out
}
