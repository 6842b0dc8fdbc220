package validator

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-harvester-go/internal/models"
)

var testPolicy = Policy{
	Aliases:            []string{"Nexia Studio", "nexiastudio"},
	MarketingKeywords:  []string{"newsletter", "oferta", "promo"},
	NonInvoicePatterns: []string{`pedido (enviado|confirmado)`, `your order has shipped`},
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(testPolicy)
	require.NoError(t, err)
	return v
}

func TestValidatorRules(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name string
		rec  models.InvoiceRecord
		want Rule
	}{
		{
			name: "explicit negative",
			rec:  models.InvoiceRecord{IsInvoice: false, Provider: "Iberdrola", InvoiceNumber: "F1"},
			want: RuleNotInvoice,
		},
		{
			name: "provider is our own entity",
			rec:  models.InvoiceRecord{IsInvoice: true, Provider: "NEXIA STUDIO SL", InvoiceNumber: "2024-001", TotalAmount: dec("121")},
			want: RuleSelfIssued,
		},
		{
			name: "concept names our entity",
			rec:  models.InvoiceRecord{IsInvoice: true, Provider: "Client Co", Concept: "Servicios nexiastudio marzo", InvoiceNumber: "7"},
			want: RuleSelfIssued,
		},
		{
			name: "no provider and no number",
			rec:  models.InvoiceRecord{IsInvoice: true, TotalAmount: dec("10")},
			want: RuleNoIdentity,
		},
		{
			name: "no number and all amounts empty",
			rec:  models.InvoiceRecord{IsInvoice: true, Provider: "Bar Pepe", VatAmount: dec("0")},
			want: RuleNoNumberNoAmount,
		},
		{
			name: "receipt without number but with amount",
			rec:  models.InvoiceRecord{IsInvoice: true, Provider: "Bar Pepe", TotalAmount: dec("12.40")},
			want: RuleAccepted,
		},
		{
			name: "marketing without number or total",
			rec:  models.InvoiceRecord{IsInvoice: true, Provider: "Tienda Promo", AmountExVat: dec("5")},
			want: RuleMarketing,
		},
		{
			name: "marketing keyword with number is accepted",
			rec:  models.InvoiceRecord{IsInvoice: true, Provider: "Promo Hosting", InvoiceNumber: "PH-9"},
			want: RuleAccepted,
		},
		{
			name: "regular invoice",
			rec:  models.InvoiceRecord{IsInvoice: true, Provider: "Carles Lopez Garcia", InvoiceNumber: "10983", TotalAmount: dec("824.68")},
			want: RuleAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec
			d := v.Check(&rec)
			assert.Equal(t, tt.want, d.Rule, d.Reason)
			assert.Equal(t, tt.want == RuleAccepted, d.Accepted)
		})
	}
}

func TestValidatorNilRecord(t *testing.T) {
	v := newValidator(t)
	assert.False(t, v.Check(nil).Accepted)
}

func TestInvalidPatternIsRejected(t *testing.T) {
	_, err := New(Policy{NonInvoicePatterns: []string{"("}})
	assert.Error(t, err)
}

// A self-issued provider is rejected even when every other field is well formed
func TestSelfIssuedWinsOverWellFormedFields(t *testing.T) {
	v := newValidator(t)
	date := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	rec := &models.InvoiceRecord{
		IsInvoice:     true,
		Provider:      "Nexia Studio",
		InvoiceDate:   &date,
		InvoiceNumber: "A-100",
		Concept:       "Consultoria",
		AmountExVat:   dec("100"),
		VatAmount:     dec("21"),
		TotalAmount:   dec("121"),
	}
	d := v.Check(rec)
	assert.False(t, d.Accepted)
	assert.Equal(t, RuleSelfIssued, d.Rule)
}

// fieldsReadBy lists the record fields each rule depends on
var fieldsReadBy = map[Rule][]string{
	RuleNotInvoice:       {"isInvoice"},
	RuleSelfIssued:       {"provider", "concept"},
	RuleNoIdentity:       {"provider", "number"},
	RuleNoNumberNoAmount: {"number", "amountExVat", "vatAmount", "totalAmount"},
	RuleMarketing:        {"provider", "concept", "number", "totalAmount"},
}

func relevantUpTo(n Rule) map[string]bool {
	out := map[string]bool{}
	for r := RuleNotInvoice; r <= n; r++ {
		for _, f := range fieldsReadBy[r] {
			out[f] = true
		}
	}
	return out
}

func mutate(rec models.InvoiceRecord, field, s string, amount *decimal.Decimal, flag bool) models.InvoiceRecord {
	switch field {
	case "isInvoice":
		rec.IsInvoice = flag
	case "provider":
		rec.Provider = s
	case "concept":
		rec.Concept = s
	case "number":
		rec.InvoiceNumber = s
	case "amountExVat":
		rec.AmountExVat = amount
	case "vatAmount":
		rec.VatAmount = amount
	case "totalAmount":
		rec.TotalAmount = amount
	case "rejectionReason":
		rec.RejectionReason = s
	}
	return rec
}

var allFields = []string{"isInvoice", "provider", "concept", "number", "amountExVat", "vatAmount", "totalAmount", "rejectionReason"}

func TestProperty_ValidatorMonotonicity(t *testing.T) {
	v := newValidator(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	strGen := gen.OneConstOf("", "Nexia Studio", "promo club", "Acme", "F-2024-1", "newsletter", "Servicios")
	amtGen := gen.OneConstOf("", "0", "12.5", "-3")

	toAmount := func(s string) *decimal.Decimal {
		if s == "" {
			return nil
		}
		return dec(s)
	}

	properties.Property("rejection_survives_irrelevant_mutation", prop.ForAll(
		func(isInv bool, provider, concept, number, exVat, vat, total string, fieldIdx int, newStr, newAmt string, newFlag bool) bool {
			rec := models.InvoiceRecord{
				IsInvoice:     isInv,
				Provider:      provider,
				Concept:       concept,
				InvoiceNumber: number,
				AmountExVat:   toAmount(exVat),
				VatAmount:     toAmount(vat),
				TotalAmount:   toAmount(total),
			}
			before := v.Check(&rec)
			if before.Accepted {
				return true
			}
			field := allFields[fieldIdx%len(allFields)]
			if relevantUpTo(before.Rule)[field] {
				return true
			}
			mutated := mutate(rec, field, newStr, toAmount(newAmt), newFlag)
			after := v.Check(&mutated)
			return !after.Accepted && after.Rule == before.Rule
		},
		gen.Bool(), strGen, strGen, strGen, amtGen, amtGen, amtGen,
		gen.IntRange(0, 1000), strGen, amtGen, gen.Bool(),
	))

	properties.TestingRun(t)
}
