// Package receipt renders artifacts for a paid order: a PDF receipt for the
// customer and a QR pickup code the rider shows at the restaurant counter.
package receipt

import (
	"bytes"
	"errors"
	"fmt"

	"tiffin/models"

	"github.com/phpdave11/gofpdf"
	qrcode "github.com/skip2/go-qrcode"
)

// ErrUnpaid: receipts exist only for orders that reached PAID.
var ErrUnpaid = errors.New("receipt: order not paid")

func paid(o models.Order) bool {
	return o.Status.Rank() >= models.StatusPaid.Rank() && o.Status != models.StatusRejected
}

func formatMoney(amount int64) string {
	return fmt.Sprintf("Rs %d.%02d", amount/100, amount%100)
}

// PDF renders the order receipt.
func PDF(o models.Order) ([]byte, error) {
	if !paid(o) {
		return nil, ErrUnpaid
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 12, "Tiffin - Order Receipt")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Order: %s", o.OrderID))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Restaurant: %s", o.RestaurantID))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Placed: %s", o.CreatedAt.Format("2 Jan 2006 15:04")))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(90, 8, "Item")
	pdf.Cell(25, 8, "Qty")
	pdf.Cell(40, 8, "Price")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	for _, l := range o.Items {
		pdf.Cell(90, 7, l.Name)
		pdf.Cell(25, 7, fmt.Sprintf("%d", l.Quantity))
		pdf.Cell(40, 7, formatMoney(l.EffectivePrice()*int64(l.Quantity)))
		pdf.Ln(7)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(115, 8, "Total")
	pdf.Cell(40, 8, formatMoney(o.TotalPrice))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

// PickupCode renders the QR image scanned at handoff.
func PickupCode(o models.Order) ([]byte, error) {
	if !paid(o) {
		return nil, ErrUnpaid
	}
	png, err := qrcode.Encode("tiffin:order:"+o.OrderID, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode pickup code: %w", err)
	}
	return png, nil
}
