package validator

import (
	"fmt"

	"invoice-harvester-go/internal/models"
)

// Rule identifies which validation rule decided a record
type Rule int

const (
	RuleAccepted Rule = iota
	RuleNotInvoice
	RuleSelfIssued
	RuleNoIdentity
	RuleNoNumberNoAmount
	RuleMarketing
)

func (r Rule) String() string {
	switch r {
	case RuleNotInvoice:
		return "not_invoice"
	case RuleSelfIssued:
		return "self_issued"
	case RuleNoIdentity:
		return "no_identity"
	case RuleNoNumberNoAmount:
		return "no_number_no_amount"
	case RuleMarketing:
		return "marketing"
	default:
		return "accepted"
	}
}

// Decision is the result of validating one record
type Decision struct {
	Accepted bool
	Rule     Rule
	Reason   string
}

func accept() Decision { return Decision{Accepted: true, Rule: RuleAccepted} }

func reject(r Rule, reason string) Decision {
	return Decision{Rule: r, Reason: reason}
}

// Validator decides whether an extracted record is a genuine received invoice
type Validator struct {
	c     *compiled
	rules []func(*models.InvoiceRecord) (Decision, bool)
}

// New builds a validator from the policy lists
func New(p Policy) (*Validator, error) {
	c, err := compile(p)
	if err != nil {
		return nil, err
	}
	v := &Validator{c: c}
	v.rules = []func(*models.InvoiceRecord) (Decision, bool){
		v.CheckNotInvoice,
		v.CheckSelfIssued,
		v.CheckIdentity,
		v.CheckNumberOrAmount,
		v.CheckMarketing,
	}
	return v, nil
}

// Check applies the rules in order; the first rule that fires decides
func (v *Validator) Check(rec *models.InvoiceRecord) Decision {
	if rec == nil {
		return reject(RuleNotInvoice, "empty record")
	}
	for _, rule := range v.rules {
		if d, fired := rule(rec); fired {
			return d
		}
	}
	return accept()
}

// CheckNotInvoice fires on an explicit negative from the model
func (v *Validator) CheckNotInvoice(rec *models.InvoiceRecord) (Decision, bool) {
	if rec.IsInvoice {
		return Decision{}, false
	}
	reason := "model says not an invoice"
	if rec.RejectionReason != "" {
		reason += ": " + rec.RejectionReason
	}
	return reject(RuleNotInvoice, reason), true
}

// CheckSelfIssued fires when provider or concept names one of our own entities
func (v *Validator) CheckSelfIssued(rec *models.InvoiceRecord) (Decision, bool) {
	if alias, ok := containsAny(rec.Provider, v.c.aliases); ok {
		return reject(RuleSelfIssued, fmt.Sprintf("provider matches issuer alias %q", alias)), true
	}
	if alias, ok := containsAny(rec.Concept, v.c.aliases); ok {
		return reject(RuleSelfIssued, fmt.Sprintf("concept matches issuer alias %q", alias)), true
	}
	return Decision{}, false
}

// CheckIdentity fires when neither provider nor number is known
func (v *Validator) CheckIdentity(rec *models.InvoiceRecord) (Decision, bool) {
	if !rec.HasProvider() && !rec.HasNumber() {
		return reject(RuleNoIdentity, "no provider and no invoice number"), true
	}
	return Decision{}, false
}

// CheckNumberOrAmount fires when there is no number and no non-zero amount.
// Receipts without a number but with an amount pass.
func (v *Validator) CheckNumberOrAmount(rec *models.InvoiceRecord) (Decision, bool) {
	if !rec.HasNumber() && rec.AllAmountsEmpty() {
		return reject(RuleNoNumberNoAmount, "no invoice number and no amounts"), true
	}
	return Decision{}, false
}

// CheckMarketing fires on promotional providers or concepts without a number or total
func (v *Validator) CheckMarketing(rec *models.InvoiceRecord) (Decision, bool) {
	if rec.HasNumber() || !models.IsNullOrZero(rec.TotalAmount) {
		return Decision{}, false
	}
	if kw, ok := containsAny(rec.Provider, v.c.marketing); ok {
		return reject(RuleMarketing, fmt.Sprintf("provider matches marketing keyword %q", kw)), true
	}
	if kw, ok := containsAny(rec.Concept, v.c.marketing); ok {
		return reject(RuleMarketing, fmt.Sprintf("concept matches marketing keyword %q", kw)), true
	}
	return Decision{}, false
}
