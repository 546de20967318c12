package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/ancloraflow/billing_backend/config"
	"bitbucket.org/ancloraflow/billing_backend/models"
	"bitbucket.org/ancloraflow/billing_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger regression harness.
//
// These tests run the real reconciliation and registration paths against
// MySQL + Redis in throwaway containers.
//
// Usage (requires Docker):
//   INTEGRATION_TESTS=1 go test ./models -run Ledger -v

func setupLedgerTest(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "billing_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	if err := models.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, uuid.NewString())
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx
}

func createTestInvoice(t *testing.T, ctx context.Context) *models.Invoice {
	t.Helper()
	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		InvoiceNumber: "F-2026-001",
		IssueDate:     time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		LineItems: []models.NewInvoiceLineItem{
			{Description: "consulting", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(25)},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	// 250 subtotal + 52.50 VAT - 37.50 IRPF
	if !invoice.Total.Equal(decimal.RequireFromString("265")) {
		t.Fatalf("invoice total = %s, want 265", invoice.Total)
	}
	return invoice
}

func auditCount(t *testing.T, ctx context.Context, invoiceId int) int {
	t.Helper()
	entries, err := models.GetAuditLog(ctx, invoiceId)
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	return len(entries)
}

func TestLedgerPaymentReversalRestoresInvoiceState(t *testing.T) {
	ctx := setupLedgerTest(t)
	invoice := createTestInvoice(t, ctx)

	if got := auditCount(t, ctx, invoice.ID); got != 1 {
		t.Fatalf("audit entries after create = %d, want 1", got)
	}

	if _, err := models.SetInvoiceStatus(ctx, invoice.ID, models.InvoiceStatusSent, "sent to client"); err != nil {
		t.Fatalf("SetInvoiceStatus: %v", err)
	}
	if got := auditCount(t, ctx, invoice.ID); got != 2 {
		t.Fatalf("audit entries after send = %d, want 2", got)
	}

	// Partial payment leaves the invoice sent and writes one audit entry.
	if _, err := models.CreatePayment(ctx, &models.NewPayment{
		InvoiceId:     invoice.ID,
		Amount:        decimal.NewFromInt(100),
		PaymentMethod: models.PaymentMethodBankTransfer,
	}); err != nil {
		t.Fatalf("CreatePayment (partial): %v", err)
	}
	after, err := models.GetInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if after.Status != models.InvoiceStatusSent {
		t.Fatalf("status after partial payment = %s, want sent", after.Status)
	}
	if got := auditCount(t, ctx, invoice.ID); got != 3 {
		t.Fatalf("audit entries after partial payment = %d, want 3", got)
	}

	// Covering payment flips to paid: one entry for the payment, one for the flip.
	closing, err := models.CreatePayment(ctx, &models.NewPayment{
		InvoiceId:     invoice.ID,
		Amount:        decimal.NewFromInt(165),
		PaymentMethod: models.PaymentMethodBankTransfer,
	})
	if err != nil {
		t.Fatalf("CreatePayment (closing): %v", err)
	}
	after, err = models.GetInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if after.Status != models.InvoiceStatusPaid {
		t.Fatalf("status after full payment = %s, want paid", after.Status)
	}
	if after.PaymentDate == nil {
		t.Fatal("paid invoice must carry a payment date")
	}
	if got := auditCount(t, ctx, invoice.ID); got != 5 {
		t.Fatalf("audit entries after full payment = %d, want 5", got)
	}

	// Rejecting the closing payment reverts the invoice to sent.
	if _, err := models.RejectPayment(ctx, closing.ID, "bounced transfer"); err != nil {
		t.Fatalf("RejectPayment: %v", err)
	}
	after, err = models.GetInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if after.Status != models.InvoiceStatusSent {
		t.Fatalf("status after reversal = %s, want sent", after.Status)
	}
	if after.PaymentDate != nil {
		t.Fatal("reverted invoice must not keep its payment date")
	}
	if got := auditCount(t, ctx, invoice.ID); got != 7 {
		t.Fatalf("audit entries after reversal = %d, want 7", got)
	}

	// A second reject of the same payment must fail and not write audit rows.
	if _, err := models.RejectPayment(ctx, closing.ID, "bounced again"); !utils.IsKind(err, utils.ErrorKindValidation) {
		t.Fatalf("second reject error = %v, want validation", err)
	}
	if got := auditCount(t, ctx, invoice.ID); got != 7 {
		t.Fatalf("audit entries after repeated reject = %d, want still 7", got)
	}

	paid, err := models.GetTotalPaidByInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("GetTotalPaidByInvoice: %v", err)
	}
	if !paid.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("recorded sum after reversal = %s, want 100", paid)
	}
}

func TestLedgerRegisterInvoiceTwiceIsRefused(t *testing.T) {
	ctx := setupLedgerTest(t)
	invoice := createTestInvoice(t, ctx)

	if _, err := models.SetInvoiceStatus(ctx, invoice.ID, models.InvoiceStatusSent, "sent to client"); err != nil {
		t.Fatalf("SetInvoiceStatus: %v", err)
	}
	enabled := true
	if _, err := models.UpdateVerifactuConfig(ctx, &models.UpdateVerifactuConfigInput{Enabled: &enabled}); err != nil {
		t.Fatalf("UpdateVerifactuConfig: %v", err)
	}

	record, err := models.RegisterInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("RegisterInvoice: %v", err)
	}
	if record.ChainIndex == nil || *record.ChainIndex != 1 {
		t.Fatalf("chain index = %v, want 1", record.ChainIndex)
	}

	if _, err := models.RegisterInvoice(ctx, invoice.ID); !utils.IsKind(err, utils.ErrorKindAlreadyRegistered) {
		t.Fatalf("second registration error = %v, want already_registered", err)
	}

	status, err := models.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !status.Valid || status.RecordsChecked != 1 {
		t.Fatalf("chain after double registration: valid=%v records=%d, want a single valid link",
			status.Valid, status.RecordsChecked)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("billing-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("billing-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=billing_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
