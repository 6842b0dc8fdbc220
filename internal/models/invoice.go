package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceRecord represents the invoice fields extracted from a message
type InvoiceRecord struct {
	IsInvoice       bool             `json:"isInvoice"`
	Provider        string           `json:"provider"`
	InvoiceDate     *time.Time       `json:"invoiceDate"`
	InvoiceNumber   string           `json:"invoiceNumber"`
	Concept         string           `json:"concept"`
	AmountExVat     *decimal.Decimal `json:"amountExVat"`
	VatAmount       *decimal.Decimal `json:"vatAmount"`
	TotalAmount     *decimal.Decimal `json:"totalAmount"`
	RejectionReason string           `json:"rejectionReason,omitempty"`
}

// HasNumber reports whether an invoice number was extracted
func (r *InvoiceRecord) HasNumber() bool {
	return strings.TrimSpace(r.InvoiceNumber) != ""
}

// HasProvider reports whether a provider name was extracted
func (r *InvoiceRecord) HasProvider() bool {
	return strings.TrimSpace(r.Provider) != ""
}

// Amounts returns the three monetary fields in ledger order
func (r *InvoiceRecord) Amounts() []*decimal.Decimal {
	return []*decimal.Decimal{r.AmountExVat, r.VatAmount, r.TotalAmount}
}

// AllAmountsEmpty reports whether every monetary field is null or zero
func (r *InvoiceRecord) AllAmountsEmpty() bool {
	for _, a := range r.Amounts() {
		if !IsNullOrZero(a) {
			return false
		}
	}
	return true
}

// IsNullOrZero reports whether an amount is unknown or exactly zero
func IsNullOrZero(d *decimal.Decimal) bool {
	return d == nil || d.IsZero()
}

// LedgerRow represents one registered invoice in the ledger
type LedgerRow struct {
	RegisteredAt  time.Time `json:"registered_at"`
	InvoiceDate   string    `json:"invoice_date"`
	Provider      string    `json:"provider"`
	InvoiceNumber string    `json:"invoice_number"`
	Concept       string    `json:"concept"`
	AmountExVat   string    `json:"amount_ex_vat"`
	VatAmount     string    `json:"vat_amount"`
	TotalAmount   string    `json:"total_amount"`
	FileURL       string    `json:"file_url"`
	MessageID     string    `json:"message_id"`
}
