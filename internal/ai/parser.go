package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"invoice-harvester-go/internal/apperr"
)

const sampleLen = 200

var (
	fenceOpen  = regexp.MustCompile("```(?:json|JSON)?\\s*")
	objectSpan = regexp.MustCompile(`\{[\s\S]*\}`)
)

// responseSchema only checks the shape loosely: amounts may arrive as
// numbers or locale strings and are normalized afterwards.
const responseSchema = `{
  "type": "object",
  "properties": {
    "isInvoice":       {"type": ["boolean", "string"]},
    "provider":        {"type": ["string", "null"]},
    "invoiceDate":     {"type": ["string", "null"]},
    "invoiceNumber":   {"type": ["string", "number", "null"]},
    "concept":         {"type": ["string", "null"]},
    "amountExVat":     {"type": ["number", "string", "null"]},
    "vatAmount":       {"type": ["number", "string", "null"]},
    "totalAmount":     {"type": ["number", "string", "null"]},
    "rejectionReason": {"type": ["string", "null"]}
  }
}`

var compiledSchema = jsonschema.MustCompileString("invoice-response.json", responseSchema)

// ParseError describes model output that could not be turned into a JSON object
type ParseError struct {
	DirectErr error
	SpanErr   error
	Sample    string
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("no JSON object in model output: direct decode: %v", e.DirectErr)
	if e.SpanErr != nil {
		msg += fmt.Sprintf("; extracted span: %v", e.SpanErr)
	}
	return msg + fmt.Sprintf("; sample=%q", e.Sample)
}

// Unwrap exposes the parse kind so callers can classify without type switches
func (e *ParseError) Unwrap() error {
	return apperr.Parse("ai/parse", nil)
}

// ParseResponse decodes the JSON object carried by raw model output.
// Direct decoding is tried first, then fences are stripped and the
// first-to-last brace span is decoded.
func ParseResponse(raw string) (map[string]any, error) {
	obj, directErr := decodeObject(strings.TrimSpace(raw))
	if directErr == nil {
		return checkShape(obj, raw)
	}

	perr := &ParseError{DirectErr: directErr, Sample: sample(raw)}
	stripped := fenceOpen.ReplaceAllString(raw, "")
	stripped = strings.ReplaceAll(stripped, "```", "")
	span := objectSpan.FindString(stripped)
	if span == "" {
		return nil, perr
	}
	obj, perr.SpanErr = decodeObject(span)
	if perr.SpanErr != nil {
		return nil, perr
	}
	return checkShape(obj, raw)
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("decoded value is not an object")
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON object")
	}
	return obj, nil
}

func checkShape(obj map[string]any, raw string) (map[string]any, error) {
	if err := compiledSchema.Validate(obj); err != nil {
		return nil, &ParseError{DirectErr: fmt.Errorf("unexpected shape: %w", err), Sample: sample(raw)}
	}
	return obj, nil
}

func sample(raw string) string {
	r := []rune(raw)
	if len(r) > sampleLen {
		return string(r[:sampleLen]) + "..."
	}
	return raw
}
