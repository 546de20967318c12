package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/ancloraflow/billing_backend/config"
	"bitbucket.org/ancloraflow/billing_backend/models"
	"bitbucket.org/ancloraflow/billing_backend/utils"
	"bitbucket.org/ancloraflow/billing_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

const (
	defaultOverdueSweepInterval   = time.Hour
	defaultVerifactuRetryInterval = 15 * time.Minute
)

// statusForError maps the ledger error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch utils.KindOf(err) {
	case utils.ErrorKindNotFound:
		return http.StatusNotFound
	case utils.ErrorKindValidation:
		return http.StatusBadRequest
	case utils.ErrorKindInvalidTransition,
		utils.ErrorKindInvoiceLocked,
		utils.ErrorKindDuplicateInvoiceNumber,
		utils.ErrorKindAlreadyRegistered,
		utils.ErrorKindConcurrencyConflict,
		utils.ErrorKindAnomaly:
		return http.StatusConflict
	case utils.ErrorKindSignerRejected:
		return http.StatusUnprocessableEntity
	case utils.ErrorKindSignerUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if kind := utils.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	if utils.Retryable(err) {
		body["retryable"] = true
	}
	c.JSON(statusForError(err), body)
}

// ownerMiddleware pulls the authenticated tenant and actor out of the gateway
// headers and stamps them on the request context. The upstream gateway owns
// authentication; a request without a business id never reaches the models.
func ownerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := strings.TrimSpace(c.GetHeader("X-Business-Id"))
		if businessId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-Business-Id header is required"})
			return
		}

		userId := 0
		if v := strings.TrimSpace(c.GetHeader("X-User-Id")); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				userId = n
			}
		}
		userName := strings.TrimSpace(c.GetHeader("X-User-Name"))
		if userName == "" {
			userName = "unknown"
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		ctx = utils.SetUserIdInContext(ctx, userId)
		ctx = utils.SetUserNameInContext(ctx, userName)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func parseIdParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func parseDateQuery(c *gin.Context, name string) (*time.Time, bool) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return nil, true
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be YYYY-MM-DD"})
		return nil, false
	}
	return &t, true
}

func parseLimitQuery(c *gin.Context) *int {
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return &n
		}
	}
	return nil
}

func createInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewInvoice
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		invoice, err := models.CreateInvoice(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, invoice)
	}
}

func listInvoicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status *models.InvoiceStatus
		if v := strings.TrimSpace(c.Query("status")); v != "" {
			s := models.InvoiceStatus(v)
			if !s.IsValid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + v})
				return
			}
			status = &s
		}
		var search *string
		if v := strings.TrimSpace(c.Query("search")); v != "" {
			search = &v
		}
		dateFrom, ok := parseDateQuery(c, "date_from")
		if !ok {
			return
		}
		dateTo, ok := parseDateQuery(c, "date_to")
		if !ok {
			return
		}

		invoices, err := models.GetInvoices(c.Request.Context(), status, search, dateFrom, dateTo, parseLimitQuery(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoices)
	}
}

func getInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c)
		if !ok {
			return
		}
		invoice, err := models.GetInvoice(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func updateInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c)
		if !ok {
			return
		}
		var input models.UpdateInvoiceInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		invoice, err := models.UpdateInvoice(c.Request.Context(), id, &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func deleteInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c)
		if !ok {
			return
		}
		invoice, err := models.DeleteInvoice(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

type setStatusRequest struct {
	Status models.InvoiceStatus `json:"status"`
	Reason string               `json:"reason"`
}

func setInvoiceStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c)
		if !ok {
			return
		}
		var req setStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		invoice, err := models.SetInvoiceStatus(c.Request.Context(), id, req.Status, req.Reason)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func invoiceStatisticsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dateFrom, ok := parseDateQuery(c, "date_from")
		if !ok {
			return
		}
		dateTo, ok := parseDateQuery(c, "date_to")
		if !ok {
			return
		}
		stats, err := models.GetInvoiceStatistics(c.Request.Context(), dateFrom, dateTo)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func invoiceAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c)
		if !ok {
			return
		}
		entries, err := models.GetAuditLog(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func createPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewPayment
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		payment, err := models.CreatePayment(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, payment)
	}
}

func listPaymentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var invoiceId *int
		if v := strings.TrimSpace(c.Query("invoice_id")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice_id"})
				return
			}
			invoiceId = &n
		}
		var status *models.PaymentStatus
		if v := strings.TrimSpace(c.Query("status")); v != "" {
			s := models.PaymentStatus(v)
			status = &s
		}
		payments, err := models.GetPayments(c.Request.Context(), invoiceId, status, parseLimitQuery(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, payments)
	}
}

type paymentActionRequest struct {
	Reason string `json:"reason"`
}

func rejectPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c)
		if !ok {
			return
		}
		var req paymentActionRequest
		_ = c.ShouldBindJSON(&req)
		if req.Reason == "" {
			req.Reason = "payment rejected"
		}
		payment, err := models.RejectPayment(c.Request.Context(), id, req.Reason)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, payment)
	}
}

func deletePaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c)
		if !ok {
			return
		}
		payment, err := models.DeletePayment(c.Request.Context(), id, "payment deleted")
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, payment)
	}
}

func paymentStatisticsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dateFrom, ok := parseDateQuery(c, "date_from")
		if !ok {
			return
		}
		dateTo, ok := parseDateQuery(c, "date_to")
		if !ok {
			return
		}
		stats, err := models.GetPaymentStatistics(c.Request.Context(), dateFrom, dateTo)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func verifactuRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status *models.VerifactuStatus
		if v := strings.TrimSpace(c.Query("status")); v != "" {
			s := models.VerifactuStatus(v)
			status = &s
		}
		records, err := models.GetVerifactuRecords(c.Request.Context(), status, parseLimitQuery(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

func registerInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c)
		if !ok {
			return
		}
		record, err := models.RegisterInvoice(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func complianceStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIdParam(c)
		if !ok {
			return
		}
		record, err := models.GetComplianceStatus(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func verifyChainHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := models.VerifyChain(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func verifactuLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var invoiceId *int
		if v := strings.TrimSpace(c.Query("invoice_id")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				invoiceId = &n
			}
		}
		logs, err := models.GetVerifactuLogs(c.Request.Context(), invoiceId, parseLimitQuery(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, logs)
	}
}

func getVerifactuConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := models.GetVerifactuConfig(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}

func updateVerifactuConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.UpdateVerifactuConfigInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		cfg, err := models.UpdateVerifactuConfig(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}

func auditEntriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var referenceType *string
		if v := strings.TrimSpace(c.Query("reference_type")); v != "" {
			referenceType = &v
		}
		var action *string
		if v := strings.TrimSpace(c.Query("action")); v != "" {
			action = &v
		}
		entries, err := models.GetAuditEntries(c.Request.Context(), referenceType, action, parseLimitQuery(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

// Ops tooling: run the overdue sweep on demand instead of waiting for the
// next tick.
func overdueSweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		marked, err := workflow.SweepOverdueInvoices(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"marked": marked})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func sweepInterval(envName string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("X-Correlation-Id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization",
		"X-Business-Id", "X-User-Id", "X-User-Name", "X-Correlation-Id")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api", ownerMiddleware())
	{
		api.POST("/invoices", createInvoiceHandler())
		api.GET("/invoices", listInvoicesHandler())
		api.GET("/invoices/statistics", invoiceStatisticsHandler())
		api.GET("/invoices/:id", getInvoiceHandler())
		api.PUT("/invoices/:id", updateInvoiceHandler())
		api.DELETE("/invoices/:id", deleteInvoiceHandler())
		api.POST("/invoices/:id/status", setInvoiceStatusHandler())
		api.GET("/invoices/:id/audit", invoiceAuditHandler())
		api.GET("/invoices/:id/compliance", complianceStatusHandler())
		api.POST("/invoices/:id/compliance/register", registerInvoiceHandler())

		api.POST("/payments", createPaymentHandler())
		api.GET("/payments", listPaymentsHandler())
		api.GET("/payments/statistics", paymentStatisticsHandler())
		api.POST("/payments/:id/reject", rejectPaymentHandler())
		api.DELETE("/payments/:id", deletePaymentHandler())

		api.GET("/verifactu/config", getVerifactuConfigHandler())
		api.PUT("/verifactu/config", updateVerifactuConfigHandler())
		api.GET("/verifactu/records", verifactuRecordsHandler())
		api.GET("/verifactu/logs", verifactuLogsHandler())
		api.GET("/verifactu/verify", verifyChainHandler())

		api.GET("/audit", auditEntriesHandler())
	}
	r.POST("/internal/ops/overdue-sweep", overdueSweepHandler())
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.Migrate(); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Panic(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	if strings.EqualFold(strings.TrimSpace(os.Getenv("VERIFACTU_PRODUCTION")), "true") {
		models.SetSigner(&models.ProductionSigner{})
	}

	// Background sweeps stop before HTTP drain on shutdown.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go workflow.RunOverdueSweeper(workerCtx, sweepInterval("OVERDUE_SWEEP_INTERVAL", defaultOverdueSweepInterval))
	go workflow.RunVerifactuRetrySweeper(workerCtx, sweepInterval("VERIFACTU_RETRY_INTERVAL", defaultVerifactuRetryInterval))

	// Row locks under READ COMMITTED only gap-lock what they touch.
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("billing ledger listening on port ", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that accumulated gin errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
