package validator

import (
	"fmt"
	"regexp"
	"strings"
)

// Policy is the single list of issuer aliases and keyword patterns shared by
// the early rejecter, the validator and the duplicate checker.
type Policy struct {
	// Aliases are the organization's own issuing-entity names
	Aliases []string
	// MarketingKeywords mark promotional senders or concepts
	MarketingKeywords []string
	// NonInvoicePatterns are regexes for subjects such as shipping notices
	NonInvoicePatterns []string
	// InvoiceKeywords keep a message alive through the early filters
	InvoiceKeywords []string
}

// DefaultInvoiceKeywords is used when the policy does not list any
var DefaultInvoiceKeywords = []string{"factura", "invoice", "recibo", "receipt", "rebut", "fra."}

// compiled holds lowercased lists and parsed patterns
type compiled struct {
	aliases   []string
	marketing []string
	invoice   []string
	patterns  []*regexp.Regexp
}

func compile(p Policy) (*compiled, error) {
	c := &compiled{
		aliases:   lowerAll(p.Aliases),
		marketing: lowerAll(p.MarketingKeywords),
		invoice:   lowerAll(p.InvoiceKeywords),
	}
	if len(c.invoice) == 0 {
		c.invoice = lowerAll(DefaultInvoiceKeywords)
	}
	for _, expr := range p.NonInvoicePatterns {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("invalid non-invoice pattern %q: %w", expr, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// containsAny reports the first needle found in text, case-insensitively.
// needles must already be lowercase.
func containsAny(text string, needles []string) (string, bool) {
	if text == "" {
		return "", false
	}
	lt := strings.ToLower(text)
	for _, n := range needles {
		if strings.Contains(lt, n) {
			return n, true
		}
	}
	return "", false
}
