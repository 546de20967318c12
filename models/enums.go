package models

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusPending, InvoiceStatusSent,
		InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

// invoiceTransitions is the only source of truth for legal status changes.
// "overdue" is derived by the sweep and "paid -> sent" belongs to the
// reconciler; both are excluded here and allowed through changeInvoiceStatus
// flags instead.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:     {InvoiceStatusPending, InvoiceStatusSent, InvoiceStatusCancelled},
	InvoiceStatusPending:   {InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusSent:      {InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusOverdue:   {InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusPaid:      {},
	InvoiceStatusCancelled: {},
}

// canTransition checks the transition table. viaReconciler additionally allows
// the reconciliation reversal (paid -> sent) and the overdue derivation
// (pending/sent -> overdue), which user-driven status edits must never take.
func canTransition(from InvoiceStatus, to InvoiceStatus, viaReconciler bool) bool {
	if from == to {
		return false
	}
	if viaReconciler {
		if from == InvoiceStatusPaid && to == InvoiceStatusSent {
			return true
		}
		if to == InvoiceStatusOverdue && (from == InvoiceStatusPending || from == InvoiceStatusSent) {
			return true
		}
	}
	if to == InvoiceStatusOverdue {
		return false
	}
	for _, allowed := range invoiceTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusRecorded PaymentStatus = "recorded"
	PaymentStatusRejected PaymentStatus = "rejected"
)

type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCheque       PaymentMethod = "cheque"
	PaymentMethodPaypal       PaymentMethod = "paypal"
	PaymentMethodStripe       PaymentMethod = "stripe"
	PaymentMethodOther        PaymentMethod = "other"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodBankTransfer, PaymentMethodCard, PaymentMethodCash,
		PaymentMethodCheque, PaymentMethodPaypal, PaymentMethodStripe, PaymentMethodOther:
		return true
	}
	return false
}

type VerifactuStatus string

const (
	VerifactuStatusPending    VerifactuStatus = "pending"
	VerifactuStatusRegistered VerifactuStatus = "registered"
	VerifactuStatusError      VerifactuStatus = "error"
)

// audit actions
const (
	AuditActionCreated              = "created"
	AuditActionUpdated              = "updated"
	AuditActionDeleted              = "deleted"
	AuditActionStatusChanged        = "status_changed"
	AuditActionPaymentRecorded      = "payment_recorded"
	AuditActionPaymentRejected      = "payment_rejected"
	AuditActionPaymentDeleted       = "payment_deleted"
	AuditActionComplianceRegistered = "compliance_registered"
	AuditActionMarkedOverdue        = "marked_overdue"
)

// audit reference types
const (
	ReferenceTypeInvoice         = "invoices"
	ReferenceTypePayment         = "payments"
	ReferenceTypeVerifactuRecord = "verifactu_records"
)

type UnitType string

const (
	UnitTypeHours UnitType = "hours"
	UnitTypeDays  UnitType = "days"
	UnitTypeUnits UnitType = "units"
	UnitTypeFixed UnitType = "fixed"
)
