package models

import (
	"testing"

	"bitbucket.org/ancloraflow/billing_backend/utils"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestComputeInvoiceTotals_FreelancerScenario(t *testing.T) {
	// 10h consulting at 20.00 with 21% VAT plus one fixed deliverable at
	// 50.00 with 10% VAT, 15% IRPF withholding.
	lines := []NewInvoiceLineItem{
		{Description: "Consulting", Quantity: d("10"), UnitType: UnitTypeHours, UnitPrice: d("20.00"), VatPercentage: d("21")},
		{Description: "Deliverable", Quantity: d("1"), UnitType: UnitTypeFixed, UnitPrice: d("50.00"), VatPercentage: d("10")},
	}

	totals, err := ComputeInvoiceTotals(lines, d("15"))
	if err != nil {
		t.Fatalf("ComputeInvoiceTotals: %v", err)
	}

	if !totals.Subtotal.Equal(d("250.00")) {
		t.Errorf("subtotal = %s, want 250.00", totals.Subtotal)
	}
	if !totals.VatAmount.Equal(d("47.00")) {
		t.Errorf("vat = %s, want 47.00", totals.VatAmount)
	}
	if !totals.IrpfAmount.Equal(d("37.50")) {
		t.Errorf("irpf = %s, want 37.50", totals.IrpfAmount)
	}
	if !totals.Total.Equal(d("259.50")) {
		t.Errorf("total = %s, want 259.50", totals.Total)
	}
}

func TestComputeInvoiceTotals_TotalIdentityHolds(t *testing.T) {
	cases := []struct {
		name  string
		lines []NewInvoiceLineItem
		irpf  decimal.Decimal
	}{
		{
			name: "single line no taxes",
			lines: []NewInvoiceLineItem{
				{Description: "work", Quantity: d("1"), UnitPrice: d("100")},
			},
			irpf: decimal.Zero,
		},
		{
			name: "fractional quantities",
			lines: []NewInvoiceLineItem{
				{Description: "a", Quantity: d("3"), UnitPrice: d("0.333"), VatPercentage: d("21")},
				{Description: "b", Quantity: d("7.5"), UnitPrice: d("19.99"), VatPercentage: d("21")},
			},
			irpf: d("15"),
		},
		{
			name: "mixed vat rates",
			lines: []NewInvoiceLineItem{
				{Description: "a", Quantity: d("2"), UnitPrice: d("33.33"), VatPercentage: d("4")},
				{Description: "b", Quantity: d("1"), UnitPrice: d("66.67"), VatPercentage: d("10")},
				{Description: "c", Quantity: d("4"), UnitPrice: d("12.50"), VatPercentage: d("21")},
			},
			irpf: d("7"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			totals, err := ComputeInvoiceTotals(tc.lines, tc.irpf)
			if err != nil {
				t.Fatalf("ComputeInvoiceTotals: %v", err)
			}
			want := totals.Subtotal.Add(totals.VatAmount).Sub(totals.IrpfAmount)
			if !totals.Total.Equal(want) {
				t.Errorf("total identity broken: total=%s subtotal+vat-irpf=%s", totals.Total, want)
			}
		})
	}
}

func TestComputeInvoiceTotals_PerLineRounding(t *testing.T) {
	// Each line amount rounds on its own: 3 x 0.333 = 0.999 -> 1.00.
	lines := []NewInvoiceLineItem{
		{Description: "a", Quantity: d("3"), UnitPrice: d("0.333")},
		{Description: "b", Quantity: d("3"), UnitPrice: d("0.333")},
	}
	totals, err := ComputeInvoiceTotals(lines, decimal.Zero)
	if err != nil {
		t.Fatalf("ComputeInvoiceTotals: %v", err)
	}
	if !totals.Subtotal.Equal(d("2.00")) {
		t.Errorf("subtotal = %s, want 2.00 (per-line rounding)", totals.Subtotal)
	}
}

func TestComputeInvoiceTotals_Validation(t *testing.T) {
	cases := []struct {
		name  string
		lines []NewInvoiceLineItem
		irpf  decimal.Decimal
	}{
		{name: "no lines", lines: nil, irpf: decimal.Zero},
		{
			name:  "blank description",
			lines: []NewInvoiceLineItem{{Description: "   ", Quantity: d("1"), UnitPrice: d("1")}},
			irpf:  decimal.Zero,
		},
		{
			name:  "negative quantity",
			lines: []NewInvoiceLineItem{{Description: "x", Quantity: d("-1"), UnitPrice: d("1")}},
			irpf:  decimal.Zero,
		},
		{
			name:  "negative unit price",
			lines: []NewInvoiceLineItem{{Description: "x", Quantity: d("1"), UnitPrice: d("-5")}},
			irpf:  decimal.Zero,
		},
		{
			name:  "negative vat",
			lines: []NewInvoiceLineItem{{Description: "x", Quantity: d("1"), UnitPrice: d("1"), VatPercentage: d("-1")}},
			irpf:  decimal.Zero,
		},
		{
			name:  "irpf over 100",
			lines: []NewInvoiceLineItem{{Description: "x", Quantity: d("1"), UnitPrice: d("1")}},
			irpf:  d("101"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeInvoiceTotals(tc.lines, tc.irpf)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !utils.IsKind(err, utils.ErrorKindValidation) {
				t.Errorf("error kind = %s, want validation", utils.KindOf(err))
			}
		})
	}
}

func TestComputeInvoiceTotals_ZeroVatAndZeroIrpf(t *testing.T) {
	lines := []NewInvoiceLineItem{
		{Description: "exempt work", Quantity: d("2"), UnitPrice: d("75")},
	}
	totals, err := ComputeInvoiceTotals(lines, decimal.Zero)
	if err != nil {
		t.Fatalf("ComputeInvoiceTotals: %v", err)
	}
	if !totals.Total.Equal(d("150")) {
		t.Errorf("total = %s, want 150", totals.Total)
	}
	if !totals.VatAmount.IsZero() || !totals.IrpfAmount.IsZero() {
		t.Errorf("vat=%s irpf=%s, want both zero", totals.VatAmount, totals.IrpfAmount)
	}
}
