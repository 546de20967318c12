package models

import (
	"strings"

	"bitbucket.org/ancloraflow/billing_backend/utils"
	"github.com/shopspring/decimal"
)

var decimalOneHundred = decimal.NewFromInt(100)

// currencyScale is the minor unit of the ledger currency (EUR cents).
const currencyScale = 2

type InvoiceTotals struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	VatAmount  decimal.Decimal `json:"vat_amount"`
	IrpfAmount decimal.Decimal `json:"irpf_amount"`
	Total      decimal.Decimal `json:"total"`
}

// ComputeInvoiceTotals derives subtotal, VAT, IRPF withholding and total from
// line items. Pure; safe to call concurrently.
//
// Each line amount is rounded half-up to the currency's minor unit on its own,
// not on an aggregate, so totals always match what each displayed line shows.
// VAT is taken per line at the line's own rate. IRPF withholding applies to
// the pre-tax subtotal (an income-tax retention rule, not a rounding choice).
func ComputeInvoiceTotals(lines []NewInvoiceLineItem, irpfPercentage decimal.Decimal) (*InvoiceTotals, error) {
	if len(lines) == 0 {
		return nil, utils.NewValidationError("at least one line item is required")
	}
	if irpfPercentage.IsNegative() || irpfPercentage.GreaterThan(decimalOneHundred) {
		return nil, utils.NewValidationError("irpf percentage must be between 0 and 100")
	}

	subtotal := decimal.Zero
	vatAmount := decimal.Zero
	for _, line := range lines {
		if strings.TrimSpace(line.Description) == "" {
			return nil, utils.NewValidationError("line item description is required")
		}
		if line.Quantity.IsNegative() {
			return nil, utils.NewValidationError("line item quantity cannot be negative")
		}
		if line.UnitPrice.IsNegative() {
			return nil, utils.NewValidationError("line item unit price cannot be negative")
		}
		if line.VatPercentage.IsNegative() {
			return nil, utils.NewValidationError("line item vat percentage cannot be negative")
		}

		amount := lineAmount(line.Quantity, line.UnitPrice)
		subtotal = subtotal.Add(amount)
		vatAmount = vatAmount.Add(amount.Mul(line.VatPercentage).Div(decimalOneHundred).Round(currencyScale))
	}

	irpfAmount := subtotal.Mul(irpfPercentage).Div(decimalOneHundred).Round(currencyScale)

	return &InvoiceTotals{
		Subtotal:   subtotal,
		VatAmount:  vatAmount,
		IrpfAmount: irpfAmount,
		Total:      subtotal.Add(vatAmount).Sub(irpfAmount),
	}, nil
}

// lineAmount rounds each quantity*unitPrice independently (round half up).
func lineAmount(quantity decimal.Decimal, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice).Round(currencyScale)
}
