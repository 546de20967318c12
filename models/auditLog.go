package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/ancloraflow/billing_backend/config"
	"bitbucket.org/ancloraflow/billing_backend/utils"
	"gorm.io/gorm"
)

// snapshotVersion stamps audit before/after blobs so the snapshot layout can
// evolve without breaking historical entries.
const snapshotVersion = 1

// AuditEntry is append-only. No update or delete operation exists anywhere in
// this codebase; a mutation and its entry commit in the same transaction.
type AuditEntry struct {
	ID              int       `gorm:"primary_key" json:"id"`
	BusinessId      string    `gorm:"index;not null" json:"business_id"`
	Action          string    `gorm:"size:40;not null" json:"action"`
	ReferenceType   string    `gorm:"size:255;not null" json:"reference_type"`
	ReferenceId     int       `gorm:"index;not null" json:"reference_id"`
	InvoiceId       int       `gorm:"index" json:"invoice_id"`
	SnapshotVersion int       `gorm:"not null;default:1" json:"snapshot_version"`
	Before          string    `gorm:"type:text" json:"before"`
	After           string    `gorm:"type:text" json:"after"`
	Reason          string    `gorm:"type:text" json:"reason"`
	UserId          int       `gorm:"index;not null" json:"user_id"`
	UserName        string    `gorm:"size:100" json:"user_name"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// createAuditEntry writes the entry on the caller's transaction so it is never
// observable without its mutation. Actor and tenant come from the tx context.
func createAuditEntry(tx *gorm.DB,
	action string,
	referenceType string,
	referenceId int,
	invoiceId int,
	before interface{},
	after interface{},
	reason string) (err error) {

	var entry AuditEntry

	b, _ := utils.MarshalToJSON(before)
	a, _ := utils.MarshalToJSON(after)

	ctx := tx.Statement.Context
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return errors.New("user id is required")
	}
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok {
		return errors.New("user name is required")
	}

	entry.BusinessId = businessId
	entry.Action = action
	entry.ReferenceType = referenceType
	entry.ReferenceId = referenceId
	entry.InvoiceId = invoiceId
	entry.SnapshotVersion = snapshotVersion
	entry.Before = b
	entry.After = a
	entry.Reason = reason
	entry.UserId = userId
	entry.UserName = userName

	err = tx.Create(&entry).Error
	return err
}

func saveAuditCreate(tx *gorm.DB, referenceType string, referenceId int, invoiceId int, obj interface{}, reason string) error {
	return createAuditEntry(tx, AuditActionCreated, referenceType, referenceId, invoiceId, nil, obj, reason)
}

func saveAuditUpdate(tx *gorm.DB, referenceType string, referenceId int, invoiceId int, before interface{}, after interface{}, reason string) error {
	return createAuditEntry(tx, AuditActionUpdated, referenceType, referenceId, invoiceId, before, after, reason)
}

func saveAuditDelete(tx *gorm.DB, referenceType string, referenceId int, invoiceId int, obj interface{}, reason string) error {
	return createAuditEntry(tx, AuditActionDeleted, referenceType, referenceId, invoiceId, obj, nil, reason)
}

// GetAuditLog returns every entry touching the invoice, newest first.
func GetAuditLog(ctx context.Context, invoiceId int) ([]*AuditEntry, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*AuditEntry
	err := db.WithContext(ctx).
		Where("business_id = ? AND invoice_id = ?", businessId, invoiceId).
		Order("created_at DESC, id DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func GetAuditEntries(ctx context.Context, referenceType *string, action *string, limit *int) ([]*AuditEntry, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if referenceType != nil && *referenceType != "" {
		dbCtx = dbCtx.Where("reference_type = ?", *referenceType)
	}
	if action != nil && *action != "" {
		dbCtx = dbCtx.Where("action = ?", *action)
	}
	if limit != nil && *limit > 0 {
		dbCtx = dbCtx.Limit(*limit)
	}

	var results []*AuditEntry
	if err := dbCtx.Order("created_at DESC, id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
