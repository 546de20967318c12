package workflow

import (
	"context"
	"time"

	"bitbucket.org/ancloraflow/billing_backend/config"
	"bitbucket.org/ancloraflow/billing_backend/models"
	"bitbucket.org/ancloraflow/billing_backend/utils"
	"github.com/sirupsen/logrus"
)

// listBusinessesWithPendingRecords returns tenants that have chain records
// still waiting for a successful submission.
func listBusinessesWithPendingRecords(ctx context.Context) ([]string, error) {
	db := config.GetDB()
	var businessIds []string
	err := db.WithContext(ctx).Model(&models.VerifactuRecord{}).
		Where("status = ?", models.VerifactuStatusPending).
		Distinct("business_id").
		Pluck("business_id", &businessIds).Error
	if err != nil {
		return nil, err
	}
	return businessIds, nil
}

// RetryPendingRegistrations resubmits pending chain records for tenants that
// opted into auto registration. Records are retried oldest first to preserve
// submission order; a signer outage aborts the tenant's batch since later
// attempts would fail the same way.
func RetryPendingRegistrations(ctx context.Context) (int, error) {
	logger := config.GetLogger()

	businessIds, err := listBusinessesWithPendingRecords(ctx)
	if err != nil {
		config.LogError(logger, moduleName, "RetryPendingRegistrations", "failed to list businesses", nil, err)
		return 0, err
	}

	var registered int
	for _, businessId := range businessIds {
		bizCtx := utils.SetSystemActorInContext(ctx, businessId)

		cfg, err := models.GetVerifactuConfig(bizCtx)
		if err != nil {
			config.LogError(logger, moduleName, "RetryPendingRegistrations", "failed to load config", businessId, err)
			continue
		}
		if !cfg.Enabled || !cfg.AutoRegister {
			continue
		}

		release, err := utils.BusinessLock(bizCtx, businessId, "verifactu_retry", moduleName, "RetryPendingRegistrations")
		if err != nil {
			continue
		}

		count, signerDown := retryBusinessRecords(bizCtx, businessId)
		release()
		registered += count
		if signerDown {
			logger.WithFields(logrus.Fields{
				"module":      moduleName,
				"business_id": businessId,
			}).Warn("signer unavailable, deferring remaining registrations")
		}
	}
	return registered, nil
}

func retryBusinessRecords(ctx context.Context, businessId string) (int, bool) {
	logger := config.GetLogger()

	records, err := models.GetPendingRegistrations(ctx, businessId)
	if err != nil {
		config.LogError(logger, moduleName, "retryBusinessRecords", "failed to list pending records", businessId, err)
		return 0, false
	}

	var registered int
	for _, record := range records {
		_, err := models.RegisterInvoice(ctx, record.InvoiceId)
		if err == nil {
			registered++
			continue
		}
		if utils.IsKind(err, utils.ErrorKindSignerUnavailable) {
			return registered, true
		}
		// rejected or invalid records are skipped; they need user action
		config.LogError(logger, moduleName, "retryBusinessRecords", "registration retry failed", record.InvoiceId, err)
	}
	return registered, false
}

// RunVerifactuRetrySweeper runs the registration retry on a fixed interval
// until ctx is done.
func RunVerifactuRetrySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = RetryPendingRegistrations(ctx)
		}
	}
}
