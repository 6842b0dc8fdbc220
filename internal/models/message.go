package models

import (
	"strings"
	"time"
)

// CandidateMessage represents one mailbox message that may carry an invoice
type CandidateMessage struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"thread_id"`
	Subject     string       `json:"subject"`
	From        string       `json:"from"`
	Body        string       `json:"body"`
	HTMLBody    string       `json:"html_body"`
	Date        time.Time    `json:"date"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment describes an attachment; bytes are fetched on demand through
// the message source using Ref.
type Attachment struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Ref         string `json:"ref"`
}

// IsPDF reports whether the attachment looks like a PDF document
func (a Attachment) IsPDF() bool {
	if strings.EqualFold(a.ContentType, "application/pdf") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(a.Name), ".pdf")
}

// FirstPDF returns the first PDF attachment, if any
func (m *CandidateMessage) FirstPDF() (Attachment, bool) {
	for _, a := range m.Attachments {
		if a.IsPDF() {
			return a, true
		}
	}
	return Attachment{}, false
}
