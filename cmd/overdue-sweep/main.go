package main

import (
	"context"
	"log"
	"time"

	"bitbucket.org/ancloraflow/billing_backend/config"
	"bitbucket.org/ancloraflow/billing_backend/workflow"
)

// One-shot overdue sweep for running as a scheduled job (Cloud Scheduler or
// cron) instead of relying on the in-process ticker.
func main() {
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	marked, err := workflow.SweepOverdueInvoices(ctx)
	if err != nil {
		log.Fatalf("overdue sweep failed: %v", err)
	}
	log.Printf("overdue sweep complete: %d invoices marked", marked)

	registered, err := workflow.RetryPendingRegistrations(ctx)
	if err != nil {
		log.Fatalf("registration retry failed: %v", err)
	}
	log.Printf("registration retry complete: %d records registered", registered)
}
