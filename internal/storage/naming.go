package storage

import (
	"path"
	"regexp"
	"strings"
	"time"

	"invoice-harvester-go/internal/models"
)

const noNumber = "sin-numero"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)

var accentReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "ä", "a", "é", "e", "è", "e", "ë", "e",
	"í", "i", "ì", "i", "ï", "i", "ó", "o", "ò", "o", "ö", "o",
	"ú", "u", "ù", "u", "ü", "u", "ñ", "n", "ç", "c",
	"Á", "A", "É", "E", "Í", "I", "Ó", "O", "Ú", "U", "Ñ", "N", "Ç", "C",
)

// Slug reduces s to a filesystem-safe token of at most limit bytes
func Slug(s string, limit int) string {
	s = accentReplacer.Replace(strings.TrimSpace(s))
	s = unsafeChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if limit > 0 && len(s) > limit {
		s = strings.TrimRight(s[:limit], "-")
	}
	return s
}

// FileDate is the invoice date when known, otherwise the message date
func FileDate(rec *models.InvoiceRecord, fallback time.Time) time.Time {
	if rec != nil && rec.InvoiceDate != nil {
		return *rec.InvoiceDate
	}
	return fallback
}

// InvoiceFileName builds <date>_<provider>_<number>.pdf
func InvoiceFileName(rec *models.InvoiceRecord, fallback time.Time) string {
	provider := Slug(rec.Provider, 60)
	if provider == "" {
		provider = "proveedor"
	}
	number := Slug(rec.InvoiceNumber, 40)
	if number == "" {
		number = noNumber
	}
	return FileDate(rec, fallback).Format("2006-01-02") + "_" + provider + "_" + number + ".pdf"
}

// DateFolder is the YYYY/MM folder for date
func DateFolder(date time.Time) string {
	return path.Join(date.Format("2006"), date.Format("01"))
}
