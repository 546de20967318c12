package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/ancloraflow/billing_backend/config"
	"bitbucket.org/ancloraflow/billing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// overpaymentTolerance absorbs sub-cent bank rounding noise when comparing the
// recorded payment sum against the invoice total. Zero means strict.
var overpaymentTolerance = decimal.Zero

func SetOverpaymentTolerance(tolerance decimal.Decimal) {
	if !tolerance.IsNegative() {
		overpaymentTolerance = tolerance
	}
}

type Payment struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	InvoiceId     int             `gorm:"index;not null" json:"invoice_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	PaymentDate   time.Time       `gorm:"not null" json:"payment_date"`
	PaymentMethod PaymentMethod   `gorm:"size:20;not null" json:"payment_method"`
	Reference     string          `gorm:"size:255" json:"reference"`
	Notes         string          `gorm:"type:text" json:"notes"`
	Status        PaymentStatus   `gorm:"size:20;not null;default:recorded" json:"status"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPayment struct {
	InvoiceId     int             `json:"invoice_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	PaymentDate   time.Time       `json:"payment_date"`
	PaymentMethod PaymentMethod   `json:"payment_method" validate:"required"`
	Reference     string          `json:"reference"`
	Notes         string          `json:"notes"`
}

// reconcileStatus decides where an invoice should land after the recorded
// payment sum changed. Pure; the DB write happens in the caller's transaction.
func reconcileStatus(current InvoiceStatus, paid decimal.Decimal, total decimal.Decimal) (InvoiceStatus, bool) {
	covered := paid.GreaterThanOrEqual(total)
	switch {
	case covered && current != InvoiceStatusPaid:
		return InvoiceStatusPaid, true
	case !covered && current == InvoiceStatusPaid:
		return InvoiceStatusSent, true
	}
	return current, false
}

// fetchInvoiceForUpdate row-locks the invoice so concurrent payments against
// it serialize on the database.
func fetchInvoiceForUpdate(tx *gorm.DB, businessId string, invoiceId int) (*Invoice, error) {
	var invoice Invoice
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, invoiceId).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func sumRecordedPayments(tx *gorm.DB, businessId string, invoiceId int) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	err := tx.Model(&Payment{}).
		Where("business_id = ? AND invoice_id = ? AND status = ?", businessId, invoiceId, PaymentStatusRecorded).
		Select("COALESCE(SUM(amount), 0) as total").
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}

// CreatePayment records a payment and reconciles the invoice status in the
// same transaction. A payment pushing the recorded sum past the invoice total
// (beyond the tolerance) is rejected whole and nothing is persisted.
func CreatePayment(ctx context.Context, input *NewPayment) (*Payment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, utils.NewValidationError("payment amount must be greater than zero")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, utils.NewValidationError("unknown payment method: " + string(input.PaymentMethod))
	}

	paymentDate := input.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = time.Now().UTC()
	}

	db := config.GetDB()
	tx := db.Begin()

	invoice, err := fetchInvoiceForUpdate(tx.WithContext(ctx), businessId, input.InvoiceId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if invoice.Status == InvoiceStatusDraft {
		tx.Rollback()
		return nil, utils.NewValidationError("cannot record a payment on a draft invoice")
	}
	if invoice.Status == InvoiceStatusCancelled {
		tx.Rollback()
		return nil, utils.NewValidationError("cannot record a payment on a cancelled invoice")
	}

	payment := Payment{
		BusinessId:    businessId,
		InvoiceId:     invoice.ID,
		Amount:        input.Amount,
		PaymentDate:   paymentDate,
		PaymentMethod: input.PaymentMethod,
		Reference:     input.Reference,
		Notes:         input.Notes,
		Status:        PaymentStatusRecorded,
	}
	if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	paid, err := sumRecordedPayments(tx.WithContext(ctx), businessId, invoice.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if paid.GreaterThan(invoice.Total.Add(overpaymentTolerance)) {
		tx.Rollback()
		return nil, utils.NewAnomalyError("recorded payments would exceed the invoice total")
	}

	if target, changed := reconcileStatus(invoice.Status, paid, invoice.Total); changed {
		if err := changeInvoiceStatus(tx.WithContext(ctx), invoice, target, true, AuditActionStatusChanged, "payment reconciliation"); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := createAuditEntry(tx.WithContext(ctx), AuditActionPaymentRecorded, ReferenceTypePayment,
		payment.ID, invoice.ID, nil, payment, "payment recorded"); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err = tx.Commit().Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// RejectPayment flips a recorded payment to rejected and re-reconciles the
// invoice. A paid invoice whose recorded sum drops below total reverts to
// sent and its payment date is cleared.
func RejectPayment(ctx context.Context, id int, reason string) (*Payment, error) {
	return excludePayment(ctx, id, AuditActionPaymentRejected, reason)
}

// DeletePayment keeps the row for the audit trail; removal is modelled as a
// rejection so the recorded sum and the trail never disagree.
func DeletePayment(ctx context.Context, id int, reason string) (*Payment, error) {
	return excludePayment(ctx, id, AuditActionPaymentDeleted, reason)
}

func excludePayment(ctx context.Context, id int, action string, reason string) (*Payment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	// Fast path only; the authoritative status check happens under the locks.
	oldPayment, err := utils.FetchModel[Payment](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	if oldPayment.Status == PaymentStatusRejected {
		return nil, utils.NewValidationError("payment is already rejected")
	}

	db := config.GetDB()
	tx := db.Begin()

	invoice, err := fetchInvoiceForUpdate(tx.WithContext(ctx), businessId, oldPayment.InvoiceId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// Lock order is invoice then payment everywhere. Re-reading here keeps a
	// concurrent reject from flipping the same payment twice and writing a
	// second audit entry for it.
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, id).
		First(oldPayment).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if oldPayment.Status == PaymentStatusRejected {
		tx.Rollback()
		return nil, utils.NewValidationError("payment is already rejected")
	}

	payment := *oldPayment
	payment.Status = PaymentStatusRejected
	if err := tx.WithContext(ctx).Model(&Payment{}).Where("id = ?", payment.ID).
		Update("status", PaymentStatusRejected).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	paid, err := sumRecordedPayments(tx.WithContext(ctx), businessId, invoice.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if target, changed := reconcileStatus(invoice.Status, paid, invoice.Total); changed {
		if err := changeInvoiceStatus(tx.WithContext(ctx), invoice, target, true, AuditActionStatusChanged, "payment reconciliation"); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := createAuditEntry(tx.WithContext(ctx), action, ReferenceTypePayment,
		payment.ID, invoice.ID, oldPayment, payment, reason); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err = tx.Commit().Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func GetPayment(ctx context.Context, id int) (*Payment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Payment](ctx, businessId, id)
}

func GetPayments(ctx context.Context, invoiceId *int, status *PaymentStatus, limit *int) ([]*Payment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if invoiceId != nil && *invoiceId > 0 {
		dbCtx = dbCtx.Where("invoice_id = ?", *invoiceId)
	}
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if limit != nil && *limit > 0 {
		dbCtx = dbCtx.Limit(*limit)
	}

	var results []*Payment
	if err := dbCtx.Order("payment_date DESC, id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type PaymentStatistics struct {
	TotalPayments int64           `json:"total_payments"`
	TotalReceived decimal.Decimal `json:"total_received"`
	RejectedCount int64           `json:"rejected_count"`
}

func GetPaymentStatistics(ctx context.Context, dateFrom *time.Time, dateTo *time.Time) (*PaymentStatistics, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Payment{}).Where("business_id = ?", businessId)
	if dateFrom != nil {
		dbCtx = dbCtx.Where("payment_date >= ?", *dateFrom)
	}
	if dateTo != nil {
		dbCtx = dbCtx.Where("payment_date <= ?", *dateTo)
	}

	var stats PaymentStatistics
	err := dbCtx.Select(`
		COUNT(CASE WHEN status = 'recorded' THEN 1 END) as total_payments,
		COALESCE(SUM(CASE WHEN status = 'recorded' THEN amount ELSE 0 END), 0) as total_received,
		COUNT(CASE WHEN status = 'rejected' THEN 1 END) as rejected_count
	`).Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetTotalPaidByInvoice sums the recorded (non-rejected) payments.
func GetTotalPaidByInvoice(ctx context.Context, invoiceId int) (decimal.Decimal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return decimal.Zero, errors.New("business id is required")
	}
	db := config.GetDB()
	return sumRecordedPayments(db.WithContext(ctx), businessId, invoiceId)
}
