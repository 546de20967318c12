package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/ancloraflow/billing_backend/config"
	"bitbucket.org/ancloraflow/billing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	signerTimeout   = 30 * time.Second
	maxChainRetries = 3

	verifactuConfigCachePrefix = "verifactu_config:"
	verifactuConfigCacheTTL    = 5 * time.Minute
)

// VerifactuConfig holds per-business chain state. LastChainIndex and
// LastChainHash are the serialization point: every registration locks this
// row FOR UPDATE before allocating its chain position.
type VerifactuConfig struct {
	ID              int       `gorm:"primary_key" json:"id"`
	BusinessId      string    `gorm:"uniqueIndex;not null" json:"business_id"`
	Enabled         bool      `gorm:"not null;default:false" json:"enabled"`
	AutoRegister    bool      `gorm:"not null;default:false" json:"auto_register"`
	TestMode        bool      `gorm:"not null;default:true" json:"test_mode"`
	SoftwareNif     string    `gorm:"size:20" json:"software_nif"`
	SoftwareName    string    `gorm:"size:100" json:"software_name"`
	SoftwareVersion string    `gorm:"size:20" json:"software_version"`
	LastChainIndex  int64     `gorm:"not null;default:0" json:"last_chain_index"`
	LastChainHash   string    `gorm:"size:64" json:"last_chain_hash"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// VerifactuRecord freezes the fiscal view of one invoice. InvoiceNumber,
// IssueDate and Total are copied at registration time so the chain can be
// re-verified even if invoice rows were tampered with afterwards.
//
// ChainIndex stays NULL while pending; MySQL unique indexes ignore NULLs, so
// many pending records can coexist while (business_id, chain_index) remains
// unique for registered ones.
type VerifactuRecord struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;uniqueIndex:ux_verifactu_business_chain;not null" json:"business_id"`
	InvoiceId     int             `gorm:"uniqueIndex;not null" json:"invoice_id"`
	InvoiceNumber string          `gorm:"size:255" json:"invoice_number"`
	IssueDate     time.Time       `json:"issue_date"`
	Total         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	ChainIndex    *int64          `gorm:"uniqueIndex:ux_verifactu_business_chain" json:"chain_index"`
	Hash          string          `gorm:"size:64" json:"hash"`
	PreviousHash  string          `gorm:"size:64" json:"previous_hash"`
	Csv           string          `gorm:"size:16" json:"csv"`
	VerifactuId   string          `gorm:"size:100" json:"verifactu_id"`
	Signature     string          `gorm:"type:text" json:"signature"`
	Url           string          `gorm:"size:500" json:"url"`
	Status        VerifactuStatus `gorm:"size:20;not null;default:pending" json:"status"`
	ErrorMessage  string          `gorm:"type:text" json:"error_message"`
	RegisteredAt  *time.Time      `json:"registered_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// VerifactuLog is the append-only trace of every submission attempt,
// successful or not.
type VerifactuLog struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	InvoiceId  int       `gorm:"index;not null" json:"invoice_id"`
	RecordId   int       `gorm:"index" json:"record_id"`
	Operation  string    `gorm:"size:40;not null" json:"operation"`
	Status     string    `gorm:"size:20;not null" json:"status"`
	Detail     string    `gorm:"type:text" json:"detail"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// genesisHash anchors an owner's chain before any record exists.
func genesisHash(businessId string) string {
	sum := sha256.Sum256([]byte("GENESIS_" + businessId))
	return hex.EncodeToString(sum[:])
}

// computeRecordHash links a record into the chain. The pipe-joined payload
// mirrors the AEAT huella fields; issue date is the calendar day only.
func computeRecordHash(invoiceNumber string, issueDate time.Time, total decimal.Decimal,
	previousHash string, chainIndex int64, businessId string) string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%d|%s",
		invoiceNumber,
		issueDate.Format("2006-01-02"),
		total.StringFixed(2),
		previousHash,
		chainIndex,
		businessId)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// verificationCode is the short CSV printed on the invoice: the first 16 hex
// characters of the chain hash, uppercased.
func verificationCode(hash string) string {
	if len(hash) < 16 {
		return strings.ToUpper(hash)
	}
	return strings.ToUpper(hash[:16])
}

func verifactuConfigCacheKey(businessId string) string {
	return verifactuConfigCachePrefix + businessId
}

// GetVerifactuConfig returns the business config, creating a disabled default
// row on first access. Reads go through the Redis object cache.
func GetVerifactuConfig(ctx context.Context) (*VerifactuConfig, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return getVerifactuConfig(ctx, businessId)
}

func getVerifactuConfig(ctx context.Context, businessId string) (*VerifactuConfig, error) {
	var cached VerifactuConfig
	if found, err := config.GetRedisObject(verifactuConfigCacheKey(businessId), &cached); err == nil && found {
		return &cached, nil
	}

	db := config.GetDB()
	var cfg VerifactuConfig
	err := db.WithContext(ctx).Where("business_id = ?", businessId).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = VerifactuConfig{
			BusinessId:      businessId,
			TestMode:        true,
			SoftwareName:    "AncloraFlow",
			SoftwareVersion: "1.0",
		}
		if err := db.WithContext(ctx).Create(&cfg).Error; err != nil {
			if !isDuplicateKeyErr(err) {
				return nil, err
			}
			// lost the creation race; the winner's row is the truth
			if err := db.WithContext(ctx).Where("business_id = ?", businessId).First(&cfg).Error; err != nil {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, err
	}

	_ = config.SetRedisObject(verifactuConfigCacheKey(businessId), cfg, verifactuConfigCacheTTL)
	return &cfg, nil
}

type UpdateVerifactuConfigInput struct {
	Enabled         *bool   `json:"enabled"`
	AutoRegister    *bool   `json:"auto_register"`
	TestMode        *bool   `json:"test_mode"`
	SoftwareNif     *string `json:"software_nif"`
	SoftwareName    *string `json:"software_name"`
	SoftwareVersion *string `json:"software_version"`
}

func (input *UpdateVerifactuConfigInput) hasFields() bool {
	return input.Enabled != nil || input.AutoRegister != nil || input.TestMode != nil ||
		input.SoftwareNif != nil || input.SoftwareName != nil || input.SoftwareVersion != nil
}

// UpdateVerifactuConfig edits the settings half of the config row. Chain
// state (last index and hash) is owned by registration and cannot be set here.
func UpdateVerifactuConfig(ctx context.Context, input *UpdateVerifactuConfigInput) (*VerifactuConfig, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !input.hasFields() {
		return nil, utils.NewValidationError("no valid fields to update")
	}

	cfg, err := getVerifactuConfig(ctx, businessId)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.Enabled != nil {
		updates["enabled"] = *input.Enabled
		cfg.Enabled = *input.Enabled
	}
	if input.AutoRegister != nil {
		updates["auto_register"] = *input.AutoRegister
		cfg.AutoRegister = *input.AutoRegister
	}
	if input.TestMode != nil {
		updates["test_mode"] = *input.TestMode
		cfg.TestMode = *input.TestMode
	}
	if input.SoftwareNif != nil {
		updates["software_nif"] = *input.SoftwareNif
		cfg.SoftwareNif = *input.SoftwareNif
	}
	if input.SoftwareName != nil {
		updates["software_name"] = *input.SoftwareName
		cfg.SoftwareName = *input.SoftwareName
	}
	if input.SoftwareVersion != nil {
		updates["software_version"] = *input.SoftwareVersion
		cfg.SoftwareVersion = *input.SoftwareVersion
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&VerifactuConfig{}).
		Where("business_id = ?", businessId).
		Updates(updates).Error; err != nil {
		return nil, err
	}
	_ = config.RemoveRedisKey(verifactuConfigCacheKey(businessId))
	return cfg, nil
}

func hasRegisteredRecord(ctx context.Context, businessId string, invoiceId int) (bool, error) {
	count, err := utils.ResourceCountWhere[VerifactuRecord](ctx, businessId,
		"invoice_id = ? AND status = ?", invoiceId, VerifactuStatusRegistered)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func createVerifactuLog(db *gorm.DB, businessId string, invoiceId int, recordId int, operation string, status string, detail string) {
	logger := config.GetLogger()
	entry := VerifactuLog{
		BusinessId: businessId,
		InvoiceId:  invoiceId,
		RecordId:   recordId,
		Operation:  operation,
		Status:     status,
		Detail:     detail,
	}
	if err := db.Create(&entry).Error; err != nil {
		config.LogError(logger, "models", "createVerifactuLog", "failed to write verifactu log", entry, err)
	}
}

// RegisterInvoice appends the invoice to the business's fiscal chain.
//
// The pending record is committed before the chain transaction so a crash or
// signer outage leaves a visible record for the retry sweep. The chain
// transaction locks the config row, derives index and hash, calls the signer
// and commits record, config advance, log and audit entry together. A unique
// key collision on (business_id, chain_index) means another writer advanced
// the chain between our lock and commit; the attempt is retried from scratch.
func RegisterInvoice(ctx context.Context, invoiceId int) (*VerifactuRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	cfg, err := getVerifactuConfig(ctx, businessId)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, utils.NewValidationError("compliance registration is not enabled for this business")
	}

	invoice, err := utils.FetchModel[Invoice](ctx, businessId, invoiceId)
	if err != nil {
		return nil, err
	}
	if invoice.Status == InvoiceStatusDraft {
		return nil, utils.NewValidationError("draft invoices cannot be registered")
	}
	if invoice.Status == InvoiceStatusCancelled {
		return nil, utils.NewValidationError("cancelled invoices cannot be registered")
	}

	db := config.GetDB()

	record, err := ensurePendingRecord(ctx, db, businessId, invoice)
	if err != nil {
		return nil, err
	}
	if record.Status == VerifactuStatusRegistered {
		return nil, utils.NewAlreadyRegisteredError(invoice.InvoiceNumber)
	}

	var lastErr error
	for attempt := 1; attempt <= maxChainRetries; attempt++ {
		registered, err := attemptRegistration(ctx, db, businessId, invoice, record)
		if err == nil {
			return registered, nil
		}
		if isDuplicateKeyErr(err) {
			lastErr = err
			time.Sleep(chainRetryBackoff(attempt))
			continue
		}
		return nil, err
	}

	config.LogError(config.GetLogger(), "models", "RegisterInvoice",
		"chain index contention exhausted retries", invoice.ID, lastErr)
	return nil, utils.NewConcurrencyConflictError("chain registration conflicted with concurrent writers")
}

func ensurePendingRecord(ctx context.Context, db *gorm.DB, businessId string, invoice *Invoice) (*VerifactuRecord, error) {
	var record VerifactuRecord
	err := db.WithContext(ctx).
		Where("business_id = ? AND invoice_id = ?", businessId, invoice.ID).
		First(&record).Error
	if err == nil {
		return &record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	record = VerifactuRecord{
		BusinessId:    businessId,
		InvoiceId:     invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		IssueDate:     invoice.IssueDate,
		Total:         invoice.Total,
		Status:        VerifactuStatusPending,
	}
	if err := db.WithContext(ctx).Create(&record).Error; err != nil {
		if isDuplicateKeyErr(err) {
			// concurrent caller created it first
			if err := db.WithContext(ctx).
				Where("business_id = ? AND invoice_id = ?", businessId, invoice.ID).
				First(&record).Error; err != nil {
				return nil, err
			}
			return &record, nil
		}
		return nil, err
	}
	return &record, nil
}

// chainRetryBackoff doubles per attempt, same shape as the DB connect loop.
func chainRetryBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 100 * time.Millisecond
}

func attemptRegistration(ctx context.Context, db *gorm.DB, businessId string, invoice *Invoice, record *VerifactuRecord) (*VerifactuRecord, error) {
	tx := db.Begin()

	var cfg VerifactuConfig
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&cfg).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	// Registrations for a business serialize on the config lock, so a re-read
	// here sees any concurrent registration of the same invoice that committed
	// while we waited. Without it the invoice would be signed and chained a
	// second time at a fresh index.
	var current VerifactuRecord
	if err := tx.WithContext(ctx).Where("id = ?", record.ID).First(&current).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if current.Status == VerifactuStatusRegistered {
		tx.Rollback()
		return nil, utils.NewAlreadyRegisteredError(invoice.InvoiceNumber)
	}

	chainIndex := cfg.LastChainIndex + 1
	previousHash := cfg.LastChainHash
	if previousHash == "" {
		previousHash = genesisHash(businessId)
	}
	hash := computeRecordHash(invoice.InvoiceNumber, invoice.IssueDate, invoice.Total,
		previousHash, chainIndex, businessId)

	snapshot := InvoiceSnapshot{
		InvoiceNumber: invoice.InvoiceNumber,
		IssueDate:     invoice.IssueDate,
		Total:         invoice.Total,
		ChainIndex:    chainIndex,
		Hash:          hash,
	}

	signCtx, cancel := context.WithTimeout(ctx, signerTimeout)
	result, err := getSigner().Sign(signCtx, snapshot, previousHash)
	cancel()
	if err != nil {
		tx.Rollback()
		return nil, handleSignerFailure(ctx, db, businessId, invoice.ID, record, err)
	}

	now := time.Now().UTC()
	res := tx.WithContext(ctx).Model(&VerifactuRecord{}).
		Where("id = ? AND status <> ?", record.ID, VerifactuStatusRegistered).
		Updates(map[string]interface{}{
			"invoice_number": invoice.InvoiceNumber,
			"issue_date":     invoice.IssueDate,
			"total":          invoice.Total,
			"chain_index":    chainIndex,
			"hash":           hash,
			"previous_hash":  previousHash,
			"csv":            verificationCode(hash),
			"verifactu_id":   result.VerifactuId,
			"signature":      result.Signature,
			"url":            result.Url,
			"status":         VerifactuStatusRegistered,
			"error_message":  "",
			"registered_at":  now,
		})
	if res.Error != nil {
		tx.Rollback()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return nil, utils.NewAlreadyRegisteredError(invoice.InvoiceNumber)
	}

	if err := tx.WithContext(ctx).Model(&VerifactuConfig{}).Where("id = ?", cfg.ID).
		Updates(map[string]interface{}{
			"last_chain_index": chainIndex,
			"last_chain_hash":  hash,
		}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	logEntry := VerifactuLog{
		BusinessId: businessId,
		InvoiceId:  invoice.ID,
		RecordId:   record.ID,
		Operation:  "register",
		Status:     "success",
		Detail:     "registered at chain index " + fmt.Sprint(chainIndex),
	}
	if err := tx.WithContext(ctx).Create(&logEntry).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	registered := *record
	registered.InvoiceNumber = invoice.InvoiceNumber
	registered.IssueDate = invoice.IssueDate
	registered.Total = invoice.Total
	registered.ChainIndex = &chainIndex
	registered.Hash = hash
	registered.PreviousHash = previousHash
	registered.Csv = verificationCode(hash)
	registered.VerifactuId = result.VerifactuId
	registered.Signature = result.Signature
	registered.Url = result.Url
	registered.Status = VerifactuStatusRegistered
	registered.ErrorMessage = ""
	registered.RegisteredAt = &now

	if err := createAuditEntry(tx.WithContext(ctx), AuditActionComplianceRegistered,
		ReferenceTypeVerifactuRecord, record.ID, invoice.ID, record, registered,
		"invoice registered in fiscal chain"); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	// keep cached chain state current for status reads
	cfg.LastChainIndex = chainIndex
	cfg.LastChainHash = hash
	_ = config.SetRedisObject(verifactuConfigCacheKey(businessId), cfg, verifactuConfigCacheTTL)

	return &registered, nil
}

// handleSignerFailure classifies a signer error after the chain transaction
// was rolled back. Unavailability keeps the record pending for the retry
// sweep; an explicit rejection parks it in error state until the invoice is
// corrected.
func handleSignerFailure(ctx context.Context, db *gorm.DB, businessId string, invoiceId int, record *VerifactuRecord, err error) error {
	if utils.IsKind(err, utils.ErrorKindSignerRejected) {
		_ = db.WithContext(ctx).Model(&VerifactuRecord{}).Where("id = ?", record.ID).
			Updates(map[string]interface{}{
				"status":        VerifactuStatusError,
				"error_message": err.Error(),
			}).Error
		createVerifactuLog(db.WithContext(ctx), businessId, invoiceId, record.ID, "register", "rejected", err.Error())
		return err
	}

	if utils.IsKind(err, utils.ErrorKindSignerUnavailable) {
		createVerifactuLog(db.WithContext(ctx), businessId, invoiceId, record.ID, "register", "unavailable", err.Error())
		return err
	}

	createVerifactuLog(db.WithContext(ctx), businessId, invoiceId, record.ID, "register", "failed", err.Error())
	return utils.NewSignerUnavailableError(err.Error())
}

// GetComplianceStatus returns the chain record for an invoice, or
// ErrorRecordNotFound if the invoice was never submitted.
func GetComplianceStatus(ctx context.Context, invoiceId int) (*VerifactuRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var record VerifactuRecord
	err := db.WithContext(ctx).
		Where("business_id = ? AND invoice_id = ?", businessId, invoiceId).
		First(&record).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &record, nil
}

// GetPendingRegistrations lists records still waiting for a successful
// submission, oldest first, so the retry sweep preserves creation order.
func GetPendingRegistrations(ctx context.Context, businessId string) ([]*VerifactuRecord, error) {
	db := config.GetDB()
	var results []*VerifactuRecord
	err := db.WithContext(ctx).
		Where("business_id = ? AND status = ?", businessId, VerifactuStatusPending).
		Order("created_at ASC, id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetVerifactuRecords lists the business's chain records, registered ones in
// chain order first, then pending/error by age.
func GetVerifactuRecords(ctx context.Context, status *VerifactuStatus, limit *int) ([]*VerifactuRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if limit != nil && *limit > 0 {
		dbCtx = dbCtx.Limit(*limit)
	}

	var results []*VerifactuRecord
	if err := dbCtx.Order("chain_index IS NULL, chain_index ASC, created_at ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func GetVerifactuLogs(ctx context.Context, invoiceId *int, limit *int) ([]*VerifactuLog, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if invoiceId != nil && *invoiceId > 0 {
		dbCtx = dbCtx.Where("invoice_id = ?", *invoiceId)
	}
	if limit != nil && *limit > 0 {
		dbCtx = dbCtx.Limit(*limit)
	}

	var results []*VerifactuLog
	if err := dbCtx.Order("created_at DESC, id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type ChainError struct {
	ChainIndex int64  `json:"chain_index"`
	InvoiceId  int    `json:"invoice_id"`
	Detail     string `json:"detail"`
}

type ChainVerification struct {
	Valid          bool         `json:"valid"`
	RecordsChecked int          `json:"records_checked"`
	Errors         []ChainError `json:"errors"`
}

// VerifyChain walks the registered records in chain order and recomputes
// every hash and link.
func VerifyChain(ctx context.Context) (*ChainVerification, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var records []*VerifactuRecord
	err := db.WithContext(ctx).
		Where("business_id = ? AND status = ?", businessId, VerifactuStatusRegistered).
		Order("chain_index ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	result := verifyChainRecords(businessId, records)
	return result, nil
}

// verifyChainRecords is the pure integrity walk: indexes must be gapless from
// 1, each previous_hash must equal the prior record's hash (genesis for the
// first) and each stored hash must match a recompute from the frozen fields.
func verifyChainRecords(businessId string, records []*VerifactuRecord) *ChainVerification {
	result := &ChainVerification{Valid: true, RecordsChecked: len(records), Errors: []ChainError{}}

	expectedIndex := int64(1)
	expectedPrevious := genesisHash(businessId)
	for _, record := range records {
		if record.ChainIndex == nil {
			result.Errors = append(result.Errors, ChainError{
				InvoiceId: record.InvoiceId,
				Detail:    "registered record has no chain index",
			})
			continue
		}
		index := *record.ChainIndex

		if index != expectedIndex {
			result.Errors = append(result.Errors, ChainError{
				ChainIndex: index,
				InvoiceId:  record.InvoiceId,
				Detail:     fmt.Sprintf("chain index gap: expected %d, found %d", expectedIndex, index),
			})
		}
		if record.PreviousHash != expectedPrevious {
			result.Errors = append(result.Errors, ChainError{
				ChainIndex: index,
				InvoiceId:  record.InvoiceId,
				Detail:     "previous hash does not match prior record",
			})
		}
		recomputed := computeRecordHash(record.InvoiceNumber, record.IssueDate, record.Total,
			record.PreviousHash, index, businessId)
		if recomputed != record.Hash {
			result.Errors = append(result.Errors, ChainError{
				ChainIndex: index,
				InvoiceId:  record.InvoiceId,
				Detail:     "stored hash does not match recomputed hash",
			})
		}

		expectedIndex = index + 1
		expectedPrevious = record.Hash
	}

	result.Valid = len(result.Errors) == 0
	return result
}
