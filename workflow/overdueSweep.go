package workflow

import (
	"context"
	"time"

	"bitbucket.org/ancloraflow/billing_backend/config"
	"bitbucket.org/ancloraflow/billing_backend/models"
	"bitbucket.org/ancloraflow/billing_backend/utils"
	"github.com/sirupsen/logrus"
)

const moduleName = "workflow"

// listBusinessesWithDueInvoices returns the tenants that have at least one
// pending or sent invoice past its due date.
func listBusinessesWithDueInvoices(ctx context.Context) ([]string, error) {
	db := config.GetDB()
	var businessIds []string
	err := db.WithContext(ctx).Model(&models.Invoice{}).
		Where("status IN ? AND due_date < ?",
			[]models.InvoiceStatus{models.InvoiceStatusPending, models.InvoiceStatusSent},
			time.Now().UTC()).
		Distinct("business_id").
		Pluck("business_id", &businessIds).Error
	if err != nil {
		return nil, err
	}
	return businessIds, nil
}

// SweepOverdueInvoices marks overdue invoices across all tenants. Each tenant
// is processed under its own distributed lock so multiple instances never
// sweep the same business concurrently. Returns the total marked.
func SweepOverdueInvoices(ctx context.Context) (int, error) {
	logger := config.GetLogger()

	businessIds, err := listBusinessesWithDueInvoices(ctx)
	if err != nil {
		config.LogError(logger, moduleName, "SweepOverdueInvoices", "failed to list businesses", nil, err)
		return 0, err
	}

	var total int
	for _, businessId := range businessIds {
		bizCtx := utils.SetSystemActorInContext(ctx, businessId)

		release, err := utils.BusinessLock(bizCtx, businessId, "overdue_sweep", moduleName, "SweepOverdueInvoices")
		if err != nil {
			// another instance holds the lock; it will sweep this tenant
			continue
		}

		marked, err := models.MarkOverdueInvoices(bizCtx, businessId)
		release()
		if err != nil {
			config.LogError(logger, moduleName, "SweepOverdueInvoices", "sweep failed for business", businessId, err)
			continue
		}
		if marked > 0 {
			logger.WithFields(logrus.Fields{
				"module":      moduleName,
				"business_id": businessId,
				"marked":      marked,
			}).Info("marked invoices overdue")
		}
		total += marked
	}
	return total, nil
}

// RunOverdueSweeper runs the sweep on a fixed interval until ctx is done.
func RunOverdueSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = SweepOverdueInvoices(ctx)
		}
	}
}
