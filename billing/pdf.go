/*
pdf.go - Renderer payload for the external PDF collaborator

PURPOSE:
  The PDF renderer is an external collaborator; correctness of the
  rendered bytes is out of scope. This file defines the data it must
  receive and a plain-text reference renderer used by dev mode and tests.
*/
package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DOCUMENT PAYLOAD
// =============================================================================

// Document is the exact field set handed to the renderer.
type Document struct {
	InvoiceNumber string
	Date          time.Time
	FromAddress   string
	ToAddress     string
	Description   string
	Items         []DocumentLine
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	GrandTotal    decimal.Decimal
}

// DocumentLine is one rendered item row.
type DocumentLine struct {
	Name      string
	UnitPrice decimal.Decimal
	Units     decimal.Decimal
	Total     decimal.Decimal
}

// BuildDocument projects an invoice into the renderer payload.
func BuildDocument(inv Invoice) Document {
	doc := Document{
		InvoiceNumber: inv.Number,
		Date:          inv.Date,
		FromAddress:   inv.FromAddress,
		ToAddress:     inv.ToAddress,
		Description:   inv.Description,
		Subtotal:      inv.Subtotal,
		Tax:           inv.Tax,
		GrandTotal:    inv.GrandTotal,
	}
	for _, item := range inv.Items {
		doc.Items = append(doc.Items, DocumentLine{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Units:     item.Units,
			Total:     item.Total,
		})
	}
	return doc
}

// DocumentRenderer produces a downloadable document from the payload.
type DocumentRenderer interface {
	Render(doc Document) ([]byte, string, error) // bytes, content type
}

// =============================================================================
// TEXT RENDERER - Reference implementation
// =============================================================================

// TextRenderer renders the payload as plain text. Dev-mode stand-in for
// the real PDF collaborator.
type TextRenderer struct{}

func (TextRenderer) Render(doc Document) ([]byte, string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Invoice #%s\n", doc.InvoiceNumber)
	fmt.Fprintf(&b, "Date: %s\n", doc.Date.Format("2006-01-02"))
	fmt.Fprintf(&b, "From: %s\n", doc.FromAddress)
	fmt.Fprintf(&b, "To: %s\n", doc.ToAddress)
	fmt.Fprintf(&b, "Description: %s\n\n", doc.Description)
	for _, line := range doc.Items {
		fmt.Fprintf(&b, "%-30s %10s x %6s = %10s\n", line.Name, line.UnitPrice, line.Units, line.Total)
	}
	fmt.Fprintf(&b, "\nSubtotal: $%s\nTax: $%s\nGrand Total: $%s\n", doc.Subtotal, doc.Tax, doc.GrandTotal)
	return []byte(b.String()), "text/plain; charset=utf-8", nil
}
