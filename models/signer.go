package models

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/ancloraflow/billing_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceSnapshot is the frozen view of an invoice handed to the fiscal
// signer. It carries the chain hash so the signed payload and the stored
// record can never drift apart.
type InvoiceSnapshot struct {
	InvoiceNumber string          `json:"invoice_number"`
	IssueDate     time.Time       `json:"issue_date"`
	Total         decimal.Decimal `json:"total"`
	ChainIndex    int64           `json:"chain_index"`
	Hash          string          `json:"hash"`
}

type SignResult struct {
	VerifactuId string `json:"verifactu_id"`
	Signature   string `json:"signature"`
	Url         string `json:"url"`
}

// Signer submits a chained invoice snapshot to the tax authority. Sign must
// honor ctx cancellation; a deadline hit maps to a retryable unavailability.
type Signer interface {
	Sign(ctx context.Context, snapshot InvoiceSnapshot, previousHash string) (*SignResult, error)
}

var (
	signerMu     sync.RWMutex
	activeSigner Signer = &TestModeSigner{}
)

// SetSigner swaps the signer implementation. Tests inject fakes here; main
// picks test or production mode from configuration.
func SetSigner(s Signer) {
	if s == nil {
		return
	}
	signerMu.Lock()
	activeSigner = s
	signerMu.Unlock()
}

func getSigner() Signer {
	signerMu.RLock()
	defer signerMu.RUnlock()
	return activeSigner
}

// TestModeSigner mimics the AEAT sandbox: deterministic signature over the
// invoice number and total, synthetic submission id, sede verification URL.
type TestModeSigner struct{}

func (s *TestModeSigner) Sign(ctx context.Context, snapshot InvoiceSnapshot, previousHash string) (*SignResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.NewSignerUnavailableError(err.Error())
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s", snapshot.InvoiceNumber, snapshot.Total.StringFixed(2))))
	return &SignResult{
		VerifactuId: "VTEST-" + uuid.NewString(),
		Signature:   base64.StdEncoding.EncodeToString(sum[:]),
		Url:         "https://sede.agenciatributaria.gob.es/verifactu/consulta?csv=" + verificationCode(snapshot.Hash),
	}, nil
}

// ProductionSigner is the placeholder for the real AEAT submission client.
// Until certificate-based submission is wired it reports unavailability,
// which leaves records pending for the retry sweep.
type ProductionSigner struct{}

func (s *ProductionSigner) Sign(ctx context.Context, snapshot InvoiceSnapshot, previousHash string) (*SignResult, error) {
	return nil, utils.NewSignerUnavailableError("production AEAT submission is not configured")
}
