package models

import (
	"bitbucket.org/ancloraflow/billing_backend/config"
)

// Migrate creates or updates the ledger schema. Called from main after the
// database connection is established.
func Migrate() error {
	db := config.GetDB()
	return db.AutoMigrate(
		&Invoice{},
		&InvoiceLineItem{},
		&Payment{},
		&VerifactuConfig{},
		&VerifactuRecord{},
		&VerifactuLog{},
		&AuditEntry{},
	)
}
