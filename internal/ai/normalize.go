package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"invoice-harvester-go/internal/models"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
}

// NormalizeAmount converts an extracted monetary value to a decimal.
// Strings may use a comma decimal separator and either separator for
// thousands. Anything unparseable becomes nil, never zero.
func NormalizeAmount(v any) *decimal.Decimal {
	switch t := v.(type) {
	case nil:
		return nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil
		}
		return &d
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		d := decimal.NewFromFloat(t)
		return &d
	case int:
		d := decimal.NewFromInt(int64(t))
		return &d
	case int64:
		d := decimal.NewFromInt(t)
		return &d
	case decimal.Decimal:
		return &t
	case string:
		return parseLocaleNumber(t)
	default:
		return nil
	}
}

// amountPattern allows one currency symbol or code before or after the
// number and nothing else around it
var amountPattern = regexp.MustCompile(`^(?i)\s*(-)?\s*(?:\p{Sc}|eur|euros?|usd|gbp|chf)?\s*(-)?([0-9](?:[0-9.,]*[0-9])?)\s*(?:\p{Sc}|eur|euros?|usd|gbp|chf)?\s*$`)

func parseLocaleNumber(s string) *decimal.Decimal {
	m := amountPattern.FindStringSubmatch(s)
	if m == nil || (m[1] != "" && m[2] != "") {
		return nil
	}
	num := m[3]

	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")
	var intPart, frac string
	var thousands byte
	switch {
	case lastDot >= 0 && lastComma >= 0:
		dec := lastDot
		thousands = ','
		if lastComma > lastDot {
			// 1.234,56
			dec = lastComma
			thousands = '.'
		}
		intPart, frac = num[:dec], num[dec+1:]
	case strings.Count(num, ",") > 1:
		intPart, thousands = num, ','
	case strings.Count(num, ".") > 1:
		intPart, thousands = num, '.'
	case lastComma >= 0:
		intPart, frac = num[:lastComma], num[lastComma+1:]
	case lastDot >= 0:
		intPart, frac = num[:lastDot], num[lastDot+1:]
	default:
		intPart = num
	}

	if thousands != 0 {
		groups := strings.Split(intPart, string(thousands))
		for i, g := range groups {
			if !allDigits(g) || (i == 0 && len(g) > 3) || (i > 0 && len(g) != 3) {
				return nil
			}
		}
		intPart = strings.Join(groups, "")
	}
	if !allDigits(intPart) || (frac != "" && !allDigits(frac)) {
		return nil
	}

	clean := intPart
	if frac != "" {
		clean += "." + frac
	}
	if m[1] != "" || m[2] != "" {
		clean = "-" + clean
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return nil
	}
	return &d
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ToRecord builds an InvoiceRecord from a parsed model response,
// normalizing the three amount fields.
func ToRecord(obj map[string]any) *models.InvoiceRecord {
	rec := &models.InvoiceRecord{
		IsInvoice:       !explicitlyFalse(obj["isInvoice"]),
		Provider:        toString(obj["provider"]),
		InvoiceNumber:   toString(obj["invoiceNumber"]),
		Concept:         toString(obj["concept"]),
		RejectionReason: toString(obj["rejectionReason"]),
		AmountExVat:     NormalizeAmount(obj["amountExVat"]),
		VatAmount:       NormalizeAmount(obj["vatAmount"]),
		TotalAmount:     NormalizeAmount(obj["totalAmount"]),
	}
	if d, ok := toDate(obj["invoiceDate"]); ok {
		rec.InvoiceDate = &d
	}
	return rec
}

// explicitlyFalse reports whether the model answered "not an invoice".
// A missing or unrecognized flag leaves the decision to the other rules.
func explicitlyFalse(v any) bool {
	switch t := v.(type) {
	case bool:
		return !t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "false", "no":
			return true
		}
	}
	return false
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(t)
		if strings.EqualFold(s, "null") {
			return ""
		}
		return s
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func toDate(v any) (time.Time, bool) {
	s := toString(v)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
