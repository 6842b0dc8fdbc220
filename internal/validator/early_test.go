package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-harvester-go/internal/models"
)

func TestEarlyRejecter(t *testing.T) {
	e, err := NewEarlyRejecter(testPolicy)
	require.NoError(t, err)

	pdf := []models.Attachment{{Name: "fra-10983.pdf", ContentType: "application/pdf"}}

	tests := []struct {
		name   string
		msg    models.CandidateMessage
		reject bool
	}{
		{
			name:   "sent by our own entity",
			msg:    models.CandidateMessage{From: "Nexia Studio <facturas@nexiastudio.com>", Subject: "Factura 22", Attachments: pdf},
			reject: true,
		},
		{
			name:   "colleague forwarding from our domain",
			msg:    models.CandidateMessage{From: "anna@nexiastudio.com", Subject: "Fwd: Factura 10983", Attachments: pdf},
			reject: false,
		},
		{
			name:   "shipping notice without pdf",
			msg:    models.CandidateMessage{From: "Tienda <no-reply@shop.es>", Subject: "Tu pedido enviado"},
			reject: true,
		},
		{
			name:   "shipping notice with pdf is kept",
			msg:    models.CandidateMessage{From: "Tienda <no-reply@shop.es>", Subject: "Tu pedido enviado", Attachments: pdf},
			reject: false,
		},
		{
			name:   "shipping notice mentioning invoice is kept",
			msg:    models.CandidateMessage{From: "Shop <x@shop.com>", Subject: "Your order has shipped", Body: "Your invoice is attached below"},
			reject: false,
		},
		{
			name:   "body pattern",
			msg:    models.CandidateMessage{From: "Shop <x@shop.com>", Subject: "Update", Body: "Good news: your order has shipped"},
			reject: true,
		},
		{
			name:   "invoice mentioning us as customer",
			msg:    models.CandidateMessage{From: "Carles Lopez <carles@mail.com>", Subject: "Factura 10983", Body: "Cliente: Nexia Studio", Attachments: pdf},
			reject: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.msg
			got, reason := e.Check(&msg)
			assert.Equal(t, tt.reject, got, reason)
		})
	}
}
