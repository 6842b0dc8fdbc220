package pipeline

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"invoice-harvester-go/internal/models"
)

var (
	scriptBlock = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	breakTag    = regexp.MustCompile(`(?i)<(br|/p|/div|/tr|/li|/h[1-6])[^>]*>`)
	anyTag      = regexp.MustCompile(`<[^>]+>`)
	blankLines  = regexp.MustCompile(`\n\s*\n\s*\n+`)
	spaceRun    = regexp.MustCompile(`[ \t\f\r\x{00A0}]+`)
)

// htmlToText flattens an HTML body into readable text
func htmlToText(s string) string {
	s = scriptBlock.ReplaceAllString(s, " ")
	s = breakTag.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = spaceRun.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// bodyText prefers the plain body and falls back to the flattened HTML
func bodyText(msg *models.CandidateMessage) string {
	if body := strings.TrimSpace(msg.Body); body != "" {
		return body
	}
	return htmlToText(msg.HTMLBody)
}

func headerBlock(msg *models.CandidateMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Asunto: %s\n", msg.Subject)
	fmt.Fprintf(&b, "De: %s\n", msg.From)
	if !msg.Date.IsZero() {
		fmt.Fprintf(&b, "Fecha: %s\n", msg.Date.Format("2006-01-02"))
	}
	return b.String()
}

// messageText is the content sent when the message has no PDF
func messageText(msg *models.CandidateMessage) string {
	return headerBlock(msg) + "\n" + bodyText(msg)
}

// documentText wraps text extracted from an attachment
func documentText(msg *models.CandidateMessage, att models.Attachment, extracted string) string {
	return headerBlock(msg) +
		fmt.Sprintf("\n--- Contenido del adjunto %s ---\n%s\n\n--- Cuerpo del correo ---\n%s", att.Name, extracted, bodyText(msg))
}

// referenceNote stands in for a document whose text could not be extracted
func referenceNote(msg *models.CandidateMessage, att models.Attachment) string {
	return headerBlock(msg) +
		fmt.Sprintf("\n[Adjunto PDF %q de %d bytes; no se pudo extraer su texto. Usa el asunto y el cuerpo.]\n\n%s",
			att.Name, att.Size, bodyText(msg))
}

// bodyHTML is the document rendered when a body-only invoice is stored
func bodyHTML(msg *models.CandidateMessage) string {
	if strings.TrimSpace(msg.HTMLBody) != "" {
		return msg.HTMLBody
	}
	return "<html><body><h3>" + html.EscapeString(msg.Subject) + "</h3><pre>" +
		html.EscapeString(msg.Body) + "</pre></body></html>"
}
