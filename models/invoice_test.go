package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNormalizeLineItems_Defaults(t *testing.T) {
	lines := normalizeLineItems([]NewInvoiceLineItem{
		{Description: "bare line", UnitPrice: d("100")},
	})

	line := lines[0]
	if !line.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("quantity = %s, want default 1", line.Quantity)
	}
	if line.UnitType != UnitTypeHours {
		t.Errorf("unit type = %s, want default hours", line.UnitType)
	}
	if !line.VatPercentage.Equal(d("21")) {
		t.Errorf("vat = %s, want default 21", line.VatPercentage)
	}
}

func TestNormalizeLineItems_KeepsExplicitValues(t *testing.T) {
	lines := normalizeLineItems([]NewInvoiceLineItem{
		{Description: "x", Quantity: d("3"), UnitType: UnitTypeDays, UnitPrice: d("10"), VatPercentage: d("4")},
	})
	line := lines[0]
	if !line.Quantity.Equal(d("3")) || line.UnitType != UnitTypeDays || !line.VatPercentage.Equal(d("4")) {
		t.Errorf("explicit values were overwritten: %+v", line)
	}
}

func TestMapLineItems_ComputesAmount(t *testing.T) {
	items := mapLineItems([]NewInvoiceLineItem{
		{Description: "x", Quantity: d("2.5"), UnitPrice: d("19.99"), VatPercentage: d("21")},
	})
	if !items[0].Amount.Equal(d("49.98")) {
		t.Errorf("amount = %s, want 49.98", items[0].Amount)
	}
}

func TestUpdateInvoiceInput_FieldClassification(t *testing.T) {
	empty := &UpdateInvoiceInput{Reason: "just a reason"}
	if empty.hasFields() {
		t.Error("an input with only a reason must count as empty")
	}

	notes := "new notes"
	notesOnly := &UpdateInvoiceInput{Notes: &notes}
	if !notesOnly.hasFields() {
		t.Error("notes change must count as a field")
	}
	if notesOnly.touchesFinancials() || notesOnly.touchesRegisteredFields() {
		t.Error("notes change must not be treated as financial")
	}

	irpf := d("7")
	financial := &UpdateInvoiceInput{IrpfPercentage: &irpf}
	if !financial.touchesFinancials() {
		t.Error("irpf change must be financial")
	}

	number := "F-002"
	renumber := &UpdateInvoiceInput{InvoiceNumber: &number}
	if renumber.touchesFinancials() {
		t.Error("renumbering is not a financial change")
	}
	if !renumber.touchesRegisteredFields() {
		t.Error("renumbering touches chain-hashed fields")
	}
}

func TestFillDaysLate(t *testing.T) {
	today := startOfToday()

	cases := []struct {
		name   string
		status InvoiceStatus
		due    time.Time
		want   int
	}{
		{"sent three days late", InvoiceStatusSent, today.AddDate(0, 0, -3), 3},
		{"overdue ten days late", InvoiceStatusOverdue, today.AddDate(0, 0, -10), 10},
		{"due today is not late", InvoiceStatusSent, today, 0},
		{"future due date", InvoiceStatusPending, today.AddDate(0, 0, 5), 0},
		{"paid is never late", InvoiceStatusPaid, today.AddDate(0, 0, -30), 0},
		{"cancelled is never late", InvoiceStatusCancelled, today.AddDate(0, 0, -30), 0},
		{"draft is never late", InvoiceStatusDraft, today.AddDate(0, 0, -30), 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := Invoice{Status: tc.status, DueDate: tc.due}
			inv.fillDaysLate()
			if inv.DaysLate != tc.want {
				t.Errorf("days late = %d, want %d", inv.DaysLate, tc.want)
			}
		})
	}
}

func TestApplyInvoiceUpdate_NotesOnlyTouchesNothingElse(t *testing.T) {
	invoice := Invoice{
		ID:            1,
		InvoiceNumber: "F-001",
		IssueDate:     time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		Status:        InvoiceStatusPaid,
		Total:         d("259.50"),
	}
	notes := "paid in cash at the office"
	updates, newItems, err := applyInvoiceUpdate(&invoice, &UpdateInvoiceInput{Notes: &notes})
	if err != nil {
		t.Fatalf("applyInvoiceUpdate: %v", err)
	}
	if newItems != nil {
		t.Fatal("notes edit must not rebuild line items")
	}
	if len(updates) != 1 {
		t.Fatalf("updates = %v, want only the notes column", updates)
	}
	if updates["notes"] != notes {
		t.Errorf("notes column = %v, want %q", updates["notes"], notes)
	}
	for _, col := range []string{"status", "payment_date", "total", "subtotal"} {
		if _, ok := updates[col]; ok {
			t.Errorf("column %s must never appear in a notes-only update", col)
		}
	}
	if invoice.Status != InvoiceStatusPaid {
		t.Error("status must survive a notes-only update untouched")
	}
}

func TestApplyInvoiceUpdate_IrpfChangeRecomputesTotals(t *testing.T) {
	invoice := Invoice{
		ID:             2,
		IssueDate:      time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		DueDate:        time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		Status:         InvoiceStatusDraft,
		IrpfPercentage: d("15"),
		LineItems: []InvoiceLineItem{
			{Description: "consulting", Quantity: d("10"), UnitType: UnitTypeHours, UnitPrice: d("25"), VatPercentage: d("21")},
		},
	}
	irpf := d("7")
	updates, newItems, err := applyInvoiceUpdate(&invoice, &UpdateInvoiceInput{IrpfPercentage: &irpf})
	if err != nil {
		t.Fatalf("applyInvoiceUpdate: %v", err)
	}
	if newItems != nil {
		t.Fatal("irpf-only edit keeps the existing line rows")
	}
	for _, col := range []string{"irpf_percentage", "subtotal", "vat_amount", "irpf_amount", "total"} {
		if _, ok := updates[col]; !ok {
			t.Errorf("column %s missing from a recomputing update", col)
		}
	}
	if !invoice.Subtotal.Equal(d("250")) {
		t.Errorf("subtotal = %s, want 250", invoice.Subtotal)
	}
	if !invoice.IrpfAmount.Equal(d("17.50")) {
		t.Errorf("irpf amount = %s, want 17.50", invoice.IrpfAmount)
	}
	if !invoice.Total.Equal(d("285")) {
		t.Errorf("total = %s, want 285", invoice.Total)
	}
}

func TestApplyInvoiceUpdate_RejectsDueBeforeIssue(t *testing.T) {
	invoice := Invoice{
		ID:        3,
		IssueDate: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		DueDate:   time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
	}
	due := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, _, err := applyInvoiceUpdate(&invoice, &UpdateInvoiceInput{DueDate: &due}); err == nil {
		t.Fatal("due date before issue date must be rejected")
	}
}
