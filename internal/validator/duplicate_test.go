package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-harvester-go/internal/models"
)

func TestDuplicateChecker(t *testing.T) {
	d, err := NewDuplicateChecker(testPolicy)
	require.NoError(t, err)

	rows := []models.LedgerRow{
		{Provider: "Iberdrola", InvoiceNumber: "FE-001", FileURL: "file:///inv/2025/01/a.pdf"},
		{Provider: "Nexia Studio SL", InvoiceNumber: "", FileURL: "file:///inv/2025/01/b.pdf"},
	}

	tests := []struct {
		name    string
		rec     models.InvoiceRecord
		fileRef string
		dup     bool
	}{
		{name: "same number", rec: models.InvoiceRecord{Provider: "Other", InvoiceNumber: "FE-001"}, dup: true},
		{name: "same provider and number", rec: models.InvoiceRecord{Provider: "Iberdrola", InvoiceNumber: "FE-001"}, dup: true},
		{name: "alias already in ledger", rec: models.InvoiceRecord{Provider: "nexia studio"}, dup: true},
		{name: "same stored file", rec: models.InvoiceRecord{Provider: "Endesa", InvoiceNumber: "X"}, fileRef: "file:///inv/2025/01/a.pdf", dup: true},
		{name: "new invoice", rec: models.InvoiceRecord{Provider: "Endesa", InvoiceNumber: "E-77"}, fileRef: "file:///inv/2025/02/c.pdf", dup: false},
		{name: "empty number never matches empty row number", rec: models.InvoiceRecord{Provider: "Bar Pepe"}, dup: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec
			got, reason := d.IsDuplicate(&rec, tt.fileRef, rows)
			assert.Equal(t, tt.dup, got, reason)
		})
	}
}
