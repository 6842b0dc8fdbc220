package ai

import (
	"strings"
)

const contentPlaceholder = "{{content}}"

// DefaultPromptTemplate asks for the invoice fields as a single JSON object.
// {{content}} is replaced with the (capped) message content.
const DefaultPromptTemplate = `You are an accounts-payable assistant. Decide whether the document below is an invoice or receipt that was RECEIVED from a supplier, and extract its fields.
Return ONLY a JSON object, no markdown, with exactly these keys:
{"isInvoice": boolean, "provider": string, "invoiceDate": "YYYY-MM-DD" or null, "invoiceNumber": string, "concept": string, "amountExVat": number or null, "vatAmount": number or null, "totalAmount": number or null, "rejectionReason": string or null}
Rules:
- isInvoice is false for newsletters, promotions, order or shipping confirmations, and quotes.
- provider is the company that ISSUED the invoice, not the customer.
- Use null for amounts you cannot read. Never invent a zero.
- When isInvoice is false, explain briefly in rejectionReason.

Document:
{{content}}`

// multimodalPrompt accompanies an inline document; the document carries the content
const multimodalPrompt = `Extract the invoice in the attached document. Return ONLY a JSON object with keys isInvoice, provider, invoiceDate (YYYY-MM-DD or null), invoiceNumber, concept, amountExVat, vatAmount, totalAmount (numbers or null) and rejectionReason. Set isInvoice to false if it is not a received supplier invoice.`

// PromptBuilder renders the text-mode prompt
type PromptBuilder struct {
	template string
	maxChars int
}

// NewPromptBuilder creates a builder; an empty template uses DefaultPromptTemplate
func NewPromptBuilder(template string, maxChars int) *PromptBuilder {
	if strings.TrimSpace(template) == "" {
		template = DefaultPromptTemplate
	}
	if !strings.Contains(template, contentPlaceholder) {
		template += "\n\n" + contentPlaceholder
	}
	return &PromptBuilder{template: template, maxChars: maxChars}
}

// Text substitutes content into the template after capping its length
func (p *PromptBuilder) Text(content string) string {
	return strings.Replace(p.template, contentPlaceholder, capRunes(content, p.maxChars), 1)
}

// Multimodal returns the short prompt sent alongside an inline document.
// Any hint text (subject, body excerpt) is appended capped.
func (p *PromptBuilder) Multimodal(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return multimodalPrompt
	}
	return multimodalPrompt + "\n\nEmail context:\n" + capRunes(hint, p.maxChars/4)
}

func capRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "\n[...truncated]"
}
