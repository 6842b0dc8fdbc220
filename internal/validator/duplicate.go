package validator

import (
	"fmt"
	"strings"

	"invoice-harvester-go/internal/models"
)

// DuplicateChecker compares a candidate against recent ledger rows
type DuplicateChecker struct {
	c *compiled
}

// NewDuplicateChecker builds a checker sharing the policy alias list
func NewDuplicateChecker(p Policy) (*DuplicateChecker, error) {
	c, err := compile(p)
	if err != nil {
		return nil, err
	}
	return &DuplicateChecker{c: c}, nil
}

// IsDuplicate reports whether rec (to be stored at fileRef) is already
// registered among rows, with the matching reason.
func (d *DuplicateChecker) IsDuplicate(rec *models.InvoiceRecord, fileRef string, rows []models.LedgerRow) (bool, string) {
	number := strings.TrimSpace(rec.InvoiceNumber)
	provider := strings.TrimSpace(rec.Provider)
	fileRef = strings.TrimSpace(fileRef)

	selfAlias, selfMention := containsAny(provider, d.c.aliases)

	for _, row := range rows {
		rowNumber := strings.TrimSpace(row.InvoiceNumber)
		if number != "" && rowNumber == number {
			if strings.TrimSpace(row.Provider) == provider {
				return true, fmt.Sprintf("provider %q and number %q already registered", provider, number)
			}
			return true, fmt.Sprintf("invoice number %q already registered", number)
		}
		if selfMention {
			if _, ok := containsAny(row.Provider, []string{selfAlias}); ok {
				return true, fmt.Sprintf("provider matches issuer alias %q seen in ledger", selfAlias)
			}
		}
		if fileRef != "" && strings.TrimSpace(row.FileURL) == fileRef {
			return true, "stored file already referenced by ledger"
		}
	}
	return false, ""
}
