package models

import (
	"context"
	"strings"
	"testing"
	"time"

	"bitbucket.org/ancloraflow/billing_backend/utils"
)

func buildTestChain(businessId string, totals []string) []*VerifactuRecord {
	records := make([]*VerifactuRecord, 0, len(totals))
	previous := genesisHash(businessId)
	issueDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, total := range totals {
		index := int64(i + 1)
		number := "F2026-" + strings.Repeat("0", 2) + string(rune('1'+i))
		hash := computeRecordHash(number, issueDate, d(total), previous, index, businessId)
		records = append(records, &VerifactuRecord{
			BusinessId:    businessId,
			InvoiceId:     i + 1,
			InvoiceNumber: number,
			IssueDate:     issueDate,
			Total:         d(total),
			ChainIndex:    &index,
			Hash:          hash,
			PreviousHash:  previous,
			Status:        VerifactuStatusRegistered,
		})
		previous = hash
	}
	return records
}

func TestGenesisHash(t *testing.T) {
	a := genesisHash("owner-a")
	b := genesisHash("owner-b")

	if len(a) != 64 {
		t.Fatalf("genesis hash length = %d, want 64 hex chars", len(a))
	}
	if a != genesisHash("owner-a") {
		t.Error("genesis hash must be deterministic")
	}
	if a == b {
		t.Error("different owners must have different genesis anchors")
	}
}

func TestComputeRecordHash_SensitiveToEveryField(t *testing.T) {
	issueDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	base := computeRecordHash("F-001", issueDate, d("121.00"), "prev", 1, "owner")

	variants := []string{
		computeRecordHash("F-002", issueDate, d("121.00"), "prev", 1, "owner"),
		computeRecordHash("F-001", issueDate.AddDate(0, 0, 1), d("121.00"), "prev", 1, "owner"),
		computeRecordHash("F-001", issueDate, d("121.01"), "prev", 1, "owner"),
		computeRecordHash("F-001", issueDate, d("121.00"), "other", 1, "owner"),
		computeRecordHash("F-001", issueDate, d("121.00"), "prev", 2, "owner"),
		computeRecordHash("F-001", issueDate, d("121.00"), "prev", 1, "owner2"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d produced the same hash as the base record", i)
		}
	}

	if base != computeRecordHash("F-001", issueDate, d("121.00"), "prev", 1, "owner") {
		t.Error("hash must be deterministic")
	}
	// The payload uses the calendar day only, so time of day must not matter.
	sameDay := computeRecordHash("F-001", issueDate.Add(14*time.Hour), d("121.00"), "prev", 1, "owner")
	if sameDay != base {
		t.Error("time of day must not change the hash")
	}
	// 121.0 and 121.00 are the same amount and must hash identically.
	if computeRecordHash("F-001", issueDate, d("121.0"), "prev", 1, "owner") != base {
		t.Error("amount formatting must be normalized to two decimals")
	}
}

func TestVerificationCode(t *testing.T) {
	hash := "ab12cd34ef56ab78" + strings.Repeat("0", 48)
	code := verificationCode(hash)
	if code != "AB12CD34EF56AB78" {
		t.Errorf("verification code = %s, want AB12CD34EF56AB78", code)
	}
	if len(code) != 16 {
		t.Errorf("verification code length = %d, want 16", len(code))
	}
}

func TestVerifyChainRecords_ValidChain(t *testing.T) {
	records := buildTestChain("owner-x", []string{"100.00", "259.50", "42.00"})
	result := verifyChainRecords("owner-x", records)
	if !result.Valid {
		t.Fatalf("expected valid chain, got errors: %+v", result.Errors)
	}
	if result.RecordsChecked != 3 {
		t.Errorf("records checked = %d, want 3", result.RecordsChecked)
	}
}

func TestVerifyChainRecords_EmptyChainIsValid(t *testing.T) {
	result := verifyChainRecords("owner-x", nil)
	if !result.Valid || result.RecordsChecked != 0 {
		t.Errorf("empty chain: valid=%v checked=%d, want valid with 0 records", result.Valid, result.RecordsChecked)
	}
}

func TestVerifyChainRecords_DetectsTampering(t *testing.T) {
	t.Run("tampered total", func(t *testing.T) {
		records := buildTestChain("owner-x", []string{"100.00", "259.50", "42.00"})
		records[1].Total = d("999.99")
		result := verifyChainRecords("owner-x", records)
		if result.Valid {
			t.Fatal("expected tampered chain to be invalid")
		}
	})

	t.Run("broken link", func(t *testing.T) {
		records := buildTestChain("owner-x", []string{"100.00", "259.50"})
		records[1].PreviousHash = strings.Repeat("f", 64)
		result := verifyChainRecords("owner-x", records)
		if result.Valid {
			t.Fatal("expected broken link to be invalid")
		}
	})

	t.Run("index gap", func(t *testing.T) {
		records := buildTestChain("owner-x", []string{"100.00", "259.50", "42.00"})
		result := verifyChainRecords("owner-x", []*VerifactuRecord{records[0], records[2]})
		if result.Valid {
			t.Fatal("expected gapped chain to be invalid")
		}
	})

	t.Run("wrong genesis", func(t *testing.T) {
		records := buildTestChain("owner-x", []string{"100.00"})
		result := verifyChainRecords("owner-y", records)
		if result.Valid {
			t.Fatal("expected chain verified under another owner to be invalid")
		}
	})
}

func TestTestModeSigner(t *testing.T) {
	signer := &TestModeSigner{}
	snapshot := InvoiceSnapshot{
		InvoiceNumber: "F2026-001",
		IssueDate:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Total:         d("259.50"),
		ChainIndex:    1,
		Hash:          strings.Repeat("a", 64),
	}

	first, err := signer.Sign(context.Background(), snapshot, "prev")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	second, err := signer.Sign(context.Background(), snapshot, "prev")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if first.Signature != second.Signature {
		t.Error("test mode signature must be deterministic for the same snapshot")
	}
	if !strings.HasPrefix(first.VerifactuId, "VTEST-") {
		t.Errorf("verifactu id = %s, want VTEST- prefix", first.VerifactuId)
	}
	if first.VerifactuId == second.VerifactuId {
		t.Error("each submission must get its own id")
	}
	if !strings.Contains(first.Url, verificationCode(snapshot.Hash)) {
		t.Errorf("url %s must embed the verification code", first.Url)
	}
}

func TestTestModeSigner_CancelledContext(t *testing.T) {
	signer := &TestModeSigner{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := signer.Sign(ctx, InvoiceSnapshot{}, "prev")
	if err == nil {
		t.Fatal("expected an error on cancelled context")
	}
	if !utils.IsKind(err, utils.ErrorKindSignerUnavailable) {
		t.Errorf("error kind = %s, want signer_unavailable", utils.KindOf(err))
	}
	if !utils.Retryable(err) {
		t.Error("signer unavailability must be retryable")
	}
}

func TestChainRetryBackoff_DoublesPerAttempt(t *testing.T) {
	for attempt := 1; attempt < maxChainRetries; attempt++ {
		if got, prev := chainRetryBackoff(attempt+1), chainRetryBackoff(attempt); got != 2*prev {
			t.Errorf("backoff(%d) = %s, want double of %s", attempt+1, got, prev)
		}
	}
	if chainRetryBackoff(1) != 200*time.Millisecond {
		t.Errorf("backoff(1) = %s, want 200ms", chainRetryBackoff(1))
	}
}
