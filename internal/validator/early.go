package validator

import (
	"fmt"
	"net/mail"
	"strings"

	"invoice-harvester-go/internal/models"
)

// EarlyRejecter filters obvious non-invoices before any model call.
// It only rejects messages the full validator would also reject.
type EarlyRejecter struct {
	c *compiled
}

// NewEarlyRejecter builds the pre-check from the shared policy
func NewEarlyRejecter(p Policy) (*EarlyRejecter, error) {
	c, err := compile(p)
	if err != nil {
		return nil, err
	}
	return &EarlyRejecter{c: c}, nil
}

// Check returns true with a reason when the message can be skipped
func (e *EarlyRejecter) Check(msg *models.CandidateMessage) (bool, string) {
	if alias, ok := containsAny(senderName(msg.From), e.c.aliases); ok {
		return true, fmt.Sprintf("sent by issuer alias %q", alias)
	}

	if _, hasPDF := msg.FirstPDF(); hasPDF {
		return false, ""
	}
	if _, ok := containsAny(msg.Subject, e.c.invoice); ok {
		return false, ""
	}
	if _, ok := containsAny(msg.Body, e.c.invoice); ok {
		return false, ""
	}
	for _, re := range e.c.patterns {
		if re.MatchString(msg.Subject) {
			return true, fmt.Sprintf("subject matches non-invoice pattern %q", re.String())
		}
		if re.MatchString(msg.Body) {
			return true, fmt.Sprintf("body matches non-invoice pattern %q", re.String())
		}
	}
	return false, ""
}

// senderName returns the display name of a From header. Bare addresses
// yield "" so colleagues forwarding from our own domain are not rejected.
func senderName(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		if strings.Contains(from, "@") {
			return ""
		}
		return strings.TrimSpace(from)
	}
	return addr.Name
}
