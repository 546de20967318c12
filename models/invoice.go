package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/ancloraflow/billing_backend/config"
	"bitbucket.org/ancloraflow/billing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	defaultVatPercentage  = decimal.NewFromInt(21)
	defaultIrpfPercentage = decimal.NewFromInt(15)
)

type Invoice struct {
	ID             int             `gorm:"primary_key" json:"id"`
	BusinessId     string          `gorm:"index;uniqueIndex:ux_invoices_business_number;not null" json:"business_id"`
	ClientId       *int            `gorm:"index" json:"client_id"`
	ProjectId      *int            `gorm:"index" json:"project_id"`
	InvoiceNumber  string          `gorm:"size:255;uniqueIndex:ux_invoices_business_number;not null" json:"invoice_number"`
	IssueDate      time.Time       `gorm:"not null" json:"issue_date"`
	DueDate        time.Time       `gorm:"not null" json:"due_date"`
	Status         InvoiceStatus   `gorm:"size:20;not null;default:draft" json:"status"`
	Currency       string          `gorm:"size:3;not null;default:EUR" json:"currency"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	VatAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"vat_amount"`
	IrpfPercentage decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"irpf_percentage"`
	IrpfAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"irpf_amount"`
	Total          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	Notes          string          `gorm:"type:text" json:"notes"`
	PaymentMethod  *PaymentMethod  `gorm:"size:20" json:"payment_method"`
	PaymentDate    *time.Time      `json:"payment_date"`
	LineItems      []InvoiceLineItem `gorm:"foreignKey:InvoiceId" json:"line_items"`
	DaysLate       int             `gorm:"-" json:"days_late"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// fillDaysLate derives how many whole days an unpaid invoice is past due.
// Zero for settled, cancelled or not-yet-due invoices.
func (inv *Invoice) fillDaysLate() {
	inv.DaysLate = 0
	switch inv.Status {
	case InvoiceStatusPaid, InvoiceStatusCancelled, InvoiceStatusDraft:
		return
	}
	today := startOfToday()
	if !inv.DueDate.Before(today) {
		return
	}
	inv.DaysLate = int(today.Sub(inv.DueDate).Hours() / 24)
}

type InvoiceLineItem struct {
	ID            int             `gorm:"primary_key" json:"id"`
	InvoiceId     int             `gorm:"index;not null" json:"invoice_id"`
	Description   string          `gorm:"type:text;not null" json:"description"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitType      UnitType        `gorm:"size:20;not null;default:hours" json:"unit_type"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	VatPercentage decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"vat_percentage"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewInvoiceLineItem struct {
	Description   string          `json:"description" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitType      UnitType        `json:"unit_type"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	VatPercentage decimal.Decimal `json:"vat_percentage"`
}

type NewInvoice struct {
	InvoiceNumber  string               `json:"invoice_number" validate:"required"`
	IssueDate      time.Time            `json:"issue_date" validate:"required"`
	DueDate        time.Time            `json:"due_date" validate:"required"`
	ClientId       *int                 `json:"client_id"`
	ProjectId      *int                 `json:"project_id"`
	Currency       string               `json:"currency"`
	Notes          string               `json:"notes"`
	IrpfPercentage *decimal.Decimal     `json:"irpf_percentage"`
	LineItems      []NewInvoiceLineItem `json:"line_items" validate:"required,min=1,dive"`
}

// UpdateInvoiceInput lists every mutable field explicitly. Unset pointers are
// left untouched; an input with no field set is a validation error, never a
// silent no-op. Status is not here: it only moves through SetInvoiceStatus.
type UpdateInvoiceInput struct {
	InvoiceNumber  *string               `json:"invoice_number"`
	IssueDate      *time.Time            `json:"issue_date"`
	DueDate        *time.Time            `json:"due_date"`
	ClientId       *int                  `json:"client_id"`
	ProjectId      *int                  `json:"project_id"`
	Currency       *string               `json:"currency"`
	Notes          *string               `json:"notes"`
	PaymentMethod  *PaymentMethod        `json:"payment_method"`
	IrpfPercentage *decimal.Decimal      `json:"irpf_percentage"`
	LineItems      *[]NewInvoiceLineItem `json:"line_items"`
	Reason         string                `json:"reason"`
}

func (input *UpdateInvoiceInput) hasFields() bool {
	return input.InvoiceNumber != nil || input.IssueDate != nil || input.DueDate != nil ||
		input.ClientId != nil || input.ProjectId != nil || input.Currency != nil ||
		input.Notes != nil || input.PaymentMethod != nil || input.IrpfPercentage != nil ||
		input.LineItems != nil
}

// financial fields are frozen once the invoice leaves draft
func (input *UpdateInvoiceInput) touchesFinancials() bool {
	return input.LineItems != nil || input.IrpfPercentage != nil || input.Currency != nil
}

// fields hashed into the compliance chain; frozen once a record is registered
func (input *UpdateInvoiceInput) touchesRegisteredFields() bool {
	return input.touchesFinancials() || input.InvoiceNumber != nil || input.IssueDate != nil
}

func normalizeLineItems(input []NewInvoiceLineItem) []NewInvoiceLineItem {
	lines := make([]NewInvoiceLineItem, 0, len(input))
	for _, line := range input {
		if line.Quantity.IsZero() {
			line.Quantity = decimal.NewFromInt(1)
		}
		if line.UnitType == "" {
			line.UnitType = UnitTypeHours
		}
		if line.VatPercentage.IsZero() {
			line.VatPercentage = defaultVatPercentage
		}
		lines = append(lines, line)
	}
	return lines
}

func mapLineItems(input []NewInvoiceLineItem) []InvoiceLineItem {
	items := make([]InvoiceLineItem, 0, len(input))
	for _, line := range input {
		items = append(items, InvoiceLineItem{
			Description:   line.Description,
			Quantity:      line.Quantity,
			UnitType:      line.UnitType,
			UnitPrice:     line.UnitPrice,
			VatPercentage: line.VatPercentage,
			Amount:        lineAmount(line.Quantity, line.UnitPrice),
		})
	}
	return items
}

func (input *NewInvoice) validate(ctx context.Context, businessId string) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.DueDate.Before(input.IssueDate) {
		return utils.NewValidationError("due date cannot be before issue date")
	}
	count, err := utils.ResourceCountWhere[Invoice](ctx, businessId, "invoice_number = ?", input.InvoiceNumber)
	if err != nil {
		return err
	}
	if count > 0 {
		return utils.NewDuplicateInvoiceNumberError(input.InvoiceNumber)
	}
	return nil
}

func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	lines := normalizeLineItems(input.LineItems)
	irpf := defaultIrpfPercentage
	if input.IrpfPercentage != nil {
		irpf = *input.IrpfPercentage
	}
	totals, err := ComputeInvoiceTotals(lines, irpf)
	if err != nil {
		return nil, err
	}

	currency := input.Currency
	if currency == "" {
		currency = "EUR"
	}

	invoice := Invoice{
		BusinessId:     businessId,
		ClientId:       input.ClientId,
		ProjectId:      input.ProjectId,
		InvoiceNumber:  input.InvoiceNumber,
		IssueDate:      input.IssueDate,
		DueDate:        input.DueDate,
		Status:         InvoiceStatusDraft,
		Currency:       currency,
		Subtotal:       totals.Subtotal,
		VatAmount:      totals.VatAmount,
		IrpfPercentage: irpf,
		IrpfAmount:     totals.IrpfAmount,
		Total:          totals.Total,
		Notes:          input.Notes,
		LineItems:      mapLineItems(lines),
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
		tx.Rollback()
		if isDuplicateKeyErr(err) {
			return nil, utils.NewDuplicateInvoiceNumberError(input.InvoiceNumber)
		}
		return nil, err
	}
	if err := saveAuditCreate(tx.WithContext(ctx), ReferenceTypeInvoice, invoice.ID, invoice.ID, invoice, "invoice created"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err = tx.Commit().Error; err != nil {
		return nil, err
	}

	return &invoice, nil
}

// applyInvoiceUpdate folds the set fields of input into invoice and returns
// the exact columns to persist. Untouched columns never enter the map, so a
// concurrent status flip or payment stamp on the same row is never clobbered
// by a partial edit.
func applyInvoiceUpdate(invoice *Invoice, input *UpdateInvoiceInput) (map[string]interface{}, []InvoiceLineItem, error) {
	updates := map[string]interface{}{}
	if input.InvoiceNumber != nil {
		invoice.InvoiceNumber = *input.InvoiceNumber
		updates["invoice_number"] = invoice.InvoiceNumber
	}
	if input.IssueDate != nil {
		invoice.IssueDate = *input.IssueDate
		updates["issue_date"] = invoice.IssueDate
	}
	if input.DueDate != nil {
		invoice.DueDate = *input.DueDate
		updates["due_date"] = invoice.DueDate
	}
	if input.ClientId != nil {
		invoice.ClientId = input.ClientId
		updates["client_id"] = invoice.ClientId
	}
	if input.ProjectId != nil {
		invoice.ProjectId = input.ProjectId
		updates["project_id"] = invoice.ProjectId
	}
	if input.Currency != nil {
		invoice.Currency = *input.Currency
		updates["currency"] = invoice.Currency
	}
	if input.Notes != nil {
		invoice.Notes = *input.Notes
		updates["notes"] = invoice.Notes
	}
	if input.PaymentMethod != nil {
		invoice.PaymentMethod = input.PaymentMethod
		updates["payment_method"] = invoice.PaymentMethod
	}
	if input.IrpfPercentage != nil {
		invoice.IrpfPercentage = *input.IrpfPercentage
		updates["irpf_percentage"] = invoice.IrpfPercentage
	}
	if invoice.DueDate.Before(invoice.IssueDate) {
		return nil, nil, utils.NewValidationError("due date cannot be before issue date")
	}

	var newItems []InvoiceLineItem
	if input.LineItems != nil || input.IrpfPercentage != nil {
		lines := make([]NewInvoiceLineItem, 0)
		if input.LineItems != nil {
			lines = normalizeLineItems(*input.LineItems)
		} else {
			for _, item := range invoice.LineItems {
				lines = append(lines, NewInvoiceLineItem{
					Description:   item.Description,
					Quantity:      item.Quantity,
					UnitType:      item.UnitType,
					UnitPrice:     item.UnitPrice,
					VatPercentage: item.VatPercentage,
				})
			}
		}
		totals, err := ComputeInvoiceTotals(lines, invoice.IrpfPercentage)
		if err != nil {
			return nil, nil, err
		}
		invoice.Subtotal = totals.Subtotal
		invoice.VatAmount = totals.VatAmount
		invoice.IrpfAmount = totals.IrpfAmount
		invoice.Total = totals.Total
		updates["subtotal"] = invoice.Subtotal
		updates["vat_amount"] = invoice.VatAmount
		updates["irpf_amount"] = invoice.IrpfAmount
		updates["total"] = invoice.Total
		if input.LineItems != nil {
			newItems = mapLineItems(lines)
		}
	}
	return updates, newItems, nil
}

func UpdateInvoice(ctx context.Context, id int, input *UpdateInvoiceInput) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if !input.hasFields() {
		return nil, utils.NewValidationError("no valid fields to update")
	}

	db := config.GetDB()
	tx := db.Begin()

	// Row-lock the invoice so the snapshot the checks run against is the one
	// the write lands on; a racing reconciler waits on this lock.
	oldInvoice, err := fetchInvoiceForUpdate(tx.WithContext(ctx), businessId, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).
		Where("invoice_id = ?", oldInvoice.ID).Order("id").
		Find(&oldInvoice.LineItems).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if input.touchesFinancials() && oldInvoice.Status != InvoiceStatusDraft {
		tx.Rollback()
		return nil, utils.NewInvoiceLockedError("financial fields can only change while the invoice is draft")
	}
	if input.touchesRegisteredFields() {
		registered, err := hasRegisteredRecord(ctx, businessId, id)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if registered {
			tx.Rollback()
			return nil, utils.NewInvoiceLockedError("invoice is registered in the compliance chain; issue a compensating invoice instead")
		}
	}

	if input.InvoiceNumber != nil && *input.InvoiceNumber != oldInvoice.InvoiceNumber {
		count, err := utils.ResourceCountWhere[Invoice](ctx, businessId, "invoice_number = ? AND NOT id = ?", *input.InvoiceNumber, id)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if count > 0 {
			tx.Rollback()
			return nil, utils.NewDuplicateInvoiceNumberError(*input.InvoiceNumber)
		}
	}

	invoice := *oldInvoice
	updates, newItems, err := applyInvoiceUpdate(&invoice, input)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.WithContext(ctx).Model(&Invoice{}).Where("id = ?", invoice.ID).
		Updates(updates).Error; err != nil {
		tx.Rollback()
		if isDuplicateKeyErr(err) {
			return nil, utils.NewDuplicateInvoiceNumberError(invoice.InvoiceNumber)
		}
		return nil, err
	}
	if newItems != nil {
		// replace-and-recompute stays atomic with the header update
		invoice.LineItems = nil
		if err := tx.WithContext(ctx).Model(&invoice).
			Association("LineItems").
			Unscoped().Replace(&newItems); err != nil {
			tx.Rollback()
			return nil, err
		}
		invoice.LineItems = newItems
	}

	reason := input.Reason
	if reason == "" {
		reason = "invoice updated"
	}
	if err := saveAuditUpdate(tx.WithContext(ctx), ReferenceTypeInvoice, invoice.ID, invoice.ID, oldInvoice, invoice, reason); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err = tx.Commit().Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func DeleteInvoice(ctx context.Context, id int) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	tx := db.Begin()

	result, err := fetchInvoiceForUpdate(tx.WithContext(ctx), businessId, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).
		Where("invoice_id = ?", result.ID).Order("id").
		Find(&result.LineItems).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if result.Status != InvoiceStatusDraft {
		tx.Rollback()
		return nil, utils.NewInvoiceLockedError("only draft invoices can be deleted")
	}

	if err := tx.WithContext(ctx).Model(result).Association("LineItems").Unscoped().Clear(); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(result).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := saveAuditDelete(tx.WithContext(ctx), ReferenceTypeInvoice, result.ID, result.ID, result, "invoice deleted"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err = tx.Commit().Error; err != nil {
		return nil, err
	}
	return result, nil
}

// SetInvoiceStatus applies a user-driven transition. Derived transitions
// (overdue, paid -> sent reversal) are rejected here and reachable only
// through the sweep and the reconciler.
func SetInvoiceStatus(ctx context.Context, id int, status InvoiceStatus, reason string) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !status.IsValid() {
		return nil, utils.NewValidationError("unknown invoice status: " + string(status))
	}

	db := config.GetDB()
	tx := db.Begin()

	// The transition check must run against the locked row, not a read that a
	// concurrent reconciler may already have outdated.
	invoice, err := fetchInvoiceForUpdate(tx.WithContext(ctx), businessId, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := changeInvoiceStatus(tx.WithContext(ctx), invoice, status, false, AuditActionStatusChanged, reason); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err = tx.Commit().Error; err != nil {
		return nil, err
	}
	return invoice, nil
}

type invoiceStatusSnapshot struct {
	Status      InvoiceStatus `json:"status"`
	PaymentDate *time.Time    `json:"payment_date"`
}

// changeInvoiceStatus is the single gate every status write goes through.
// It must run on the caller's transaction.
func changeInvoiceStatus(tx *gorm.DB, invoice *Invoice, to InvoiceStatus, internal bool, action string, reason string) error {
	from := invoice.Status
	if !canTransition(from, to, internal) {
		return utils.NewInvalidTransitionError(string(from), string(to))
	}

	before := invoiceStatusSnapshot{Status: from, PaymentDate: invoice.PaymentDate}

	invoice.Status = to
	switch to {
	case InvoiceStatusPaid:
		if invoice.PaymentDate == nil {
			now := time.Now().UTC()
			invoice.PaymentDate = &now
		}
	case InvoiceStatusSent:
		if from == InvoiceStatusPaid {
			invoice.PaymentDate = nil
		}
	}

	if err := tx.Model(&Invoice{}).Where("id = ?", invoice.ID).
		Updates(map[string]interface{}{
			"status":       invoice.Status,
			"payment_date": invoice.PaymentDate,
		}).Error; err != nil {
		return err
	}

	after := invoiceStatusSnapshot{Status: invoice.Status, PaymentDate: invoice.PaymentDate}
	return createAuditEntry(tx, action, ReferenceTypeInvoice, invoice.ID, invoice.ID, before, after, reason)
}

// MarkInvoiceOverdue moves a pending/sent invoice past its due date to
// overdue. Idempotent: terminal or already-overdue invoices are a no-op.
func MarkInvoiceOverdue(ctx context.Context, id int) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	tx := db.Begin()

	invoice, err := fetchInvoiceForUpdate(tx.WithContext(ctx), businessId, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if invoice.Status != InvoiceStatusPending && invoice.Status != InvoiceStatusSent {
		tx.Rollback()
		return invoice, nil
	}
	if !invoice.DueDate.Before(startOfToday()) {
		tx.Rollback()
		return invoice, nil
	}

	if err := changeInvoiceStatus(tx.WithContext(ctx), invoice, InvoiceStatusOverdue, true, AuditActionMarkedOverdue, "due date passed unpaid"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err = tx.Commit().Error; err != nil {
		return nil, err
	}
	return invoice, nil
}

// MarkOverdueInvoices is the per-business sweep body. Returns how many
// invoices were newly marked overdue.
func MarkOverdueInvoices(ctx context.Context, businessId string) (int, error) {
	db := config.GetDB()
	var ids []int
	if err := db.WithContext(ctx).Model(&Invoice{}).
		Where("business_id = ? AND status IN ? AND due_date < ?",
			businessId, []InvoiceStatus{InvoiceStatusPending, InvoiceStatusSent}, startOfToday()).
		Select("id").Scan(&ids).Error; err != nil {
		return 0, err
	}

	var marked int
	for _, id := range ids {
		invoice, err := MarkInvoiceOverdue(ctx, id)
		if err != nil {
			return marked, err
		}
		if invoice.Status == InvoiceStatusOverdue {
			marked++
		}
	}
	return marked, nil
}

func startOfToday() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	invoice, err := utils.FetchModel[Invoice](ctx, businessId, id, "LineItems")
	if err != nil {
		return nil, err
	}
	invoice.fillDaysLate()
	return invoice, nil
}

func FindInvoiceByNumber(ctx context.Context, invoiceNumber string) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var result Invoice
	err := db.WithContext(ctx).Preload("LineItems").
		Where("business_id = ? AND invoice_number = ?", businessId, invoiceNumber).
		First(&result).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	result.fillDaysLate()
	return &result, nil
}

func GetInvoices(ctx context.Context, status *InvoiceStatus, search *string, dateFrom *time.Time, dateTo *time.Time, limit *int) ([]*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if search != nil && len(*search) > 0 {
		dbCtx = dbCtx.Where("invoice_number LIKE ?", "%"+*search+"%")
	}
	if dateFrom != nil {
		dbCtx = dbCtx.Where("issue_date >= ?", *dateFrom)
	}
	if dateTo != nil {
		dbCtx = dbCtx.Where("issue_date <= ?", *dateTo)
	}
	if limit != nil && *limit > 0 {
		dbCtx = dbCtx.Limit(*limit)
	}

	var results []*Invoice
	err := dbCtx.Order("issue_date DESC, created_at DESC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	for _, invoice := range results {
		invoice.fillDaysLate()
	}
	return results, nil
}

type InvoiceStatistics struct {
	TotalInvoices int64           `json:"total_invoices"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
	PaidCount     int64           `json:"paid_count"`
	OverdueCount  int64           `json:"overdue_count"`
}

func GetInvoiceStatistics(ctx context.Context, dateFrom *time.Time, dateTo *time.Time) (*InvoiceStatistics, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Invoice{}).Where("business_id = ?", businessId)
	if dateFrom != nil {
		dbCtx = dbCtx.Where("issue_date >= ?", *dateFrom)
	}
	if dateTo != nil {
		dbCtx = dbCtx.Where("issue_date <= ?", *dateTo)
	}

	var stats InvoiceStatistics
	err := dbCtx.Select(`
		COUNT(*) as total_invoices,
		COALESCE(SUM(total), 0) as total_amount,
		COALESCE(SUM(CASE WHEN status = 'paid' THEN total ELSE 0 END), 0) as paid_amount,
		COALESCE(SUM(CASE WHEN status NOT IN ('paid', 'cancelled') THEN total ELSE 0 END), 0) as pending_amount,
		COUNT(CASE WHEN status = 'paid' THEN 1 END) as paid_count,
		COUNT(CASE WHEN status = 'overdue' THEN 1 END) as overdue_count
	`).Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
