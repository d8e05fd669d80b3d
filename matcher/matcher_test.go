package matcher

import (
	"testing"

	"github.com/remitmatch/cashapp-agent/money"
)

func TestMatch_PerfectOneToOne(t *testing.T) {
	payment := Payment{TransactionId: "TXN-001", Amount: money.MustParse2dp("1000.00"), Currency: "EUR"}
	invoices := []Invoice{{InvoiceId: "INV-12345", AmountDue: money.MustParse2dp("1000.00"), Currency: "EUR"}}

	out, err := Match(payment, []string{"INV-12345"}, invoices, "", DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusMatched {
		t.Fatalf("status = %v, want Matched", out.Status)
	}
	if len(out.Allocations) != 1 || !out.Allocations[0].AmountApplied.Equal(money.MustParse2dp("1000.00")) {
		t.Fatalf("allocations = %+v", out.Allocations)
	}
	if !out.UnappliedAmount.IsZero() {
		t.Fatalf("unapplied = %v, want 0", out.UnappliedAmount)
	}
}

func TestMatch_PerfectOneToN(t *testing.T) {
	payment := Payment{TransactionId: "TXN-002", Amount: money.MustParse2dp("1500.00"), Currency: "EUR"}
	invoices := []Invoice{
		{InvoiceId: "INV-1", AmountDue: money.MustParse2dp("600.00"), Currency: "EUR"},
		{InvoiceId: "INV-2", AmountDue: money.MustParse2dp("900.00"), Currency: "EUR"},
	}

	out, err := Match(payment, []string{"INV-1", "INV-2"}, invoices, "", DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusMatched || len(out.Allocations) != 2 {
		t.Fatalf("out = %+v", out)
	}
}

func TestMatch_ShortPaymentSequentialFill(t *testing.T) {
	payment := Payment{TransactionId: "TXN-003", Amount: money.MustParse2dp("800.00"), Currency: "EUR"}
	dA, dB := int64(1704067200), int64(1706745600) // 2024-01-01, 2024-02-01
	invoices := []Invoice{
		{InvoiceId: "INV-B", AmountDue: money.MustParse2dp("500.00"), Currency: "EUR", DueDate: &dB},
		{InvoiceId: "INV-A", AmountDue: money.MustParse2dp("500.00"), Currency: "EUR", DueDate: &dA},
	}

	out, err := Match(payment, []string{"INV-A", "INV-B"}, invoices, "", DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusPartiallyMatched || out.DiscrepancyCode != DiscrepancyShortPayment {
		t.Fatalf("out = %+v", out)
	}
	if len(out.Allocations) != 2 || out.Allocations[0].InvoiceId != "INV-A" {
		t.Fatalf("expected oldest-first allocation, got %+v", out.Allocations)
	}
	if !out.Allocations[0].AmountApplied.Equal(money.MustParse2dp("500.00")) ||
		!out.Allocations[1].AmountApplied.Equal(money.MustParse2dp("300.00")) {
		t.Fatalf("allocations = %+v", out.Allocations)
	}
}

func TestMatch_OverPaymentBelowWriteOffThreshold(t *testing.T) {
	policy := DefaultPolicy()
	policy.ShortWriteOffThreshold = money.MustParse2dp("10.00")
	payment := Payment{TransactionId: "TXN-004", Amount: money.MustParse2dp("1005.00"), Currency: "EUR"}
	invoices := []Invoice{{InvoiceId: "INV", AmountDue: money.MustParse2dp("1000.00"), Currency: "EUR"}}

	out, err := Match(payment, []string{"INV"}, invoices, "", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusMatched || out.DiscrepancyCode != DiscrepancyOverPayment {
		t.Fatalf("out = %+v", out)
	}
	if !out.UnappliedAmount.IsZero() {
		t.Fatalf("unapplied = %v, want written off to 0", out.UnappliedAmount)
	}
}

func TestMatch_OverPaymentAboveWriteOffThreshold(t *testing.T) {
	policy := DefaultPolicy()
	policy.ShortWriteOffThreshold = money.MustParse2dp("10.00")
	payment := Payment{TransactionId: "TXN-005", Amount: money.MustParse2dp("1200.00"), Currency: "EUR"}
	invoices := []Invoice{{InvoiceId: "INV", AmountDue: money.MustParse2dp("1000.00"), Currency: "EUR"}}

	out, err := Match(payment, []string{"INV"}, invoices, "", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusPartiallyMatched || out.DiscrepancyCode != DiscrepancyOverPayment {
		t.Fatalf("out = %+v", out)
	}
	if !out.UnappliedAmount.Equal(money.MustParse2dp("200.00")) {
		t.Fatalf("unapplied = %v, want 200.00", out.UnappliedAmount)
	}
}

func TestMatch_UnmatchedNoCandidates(t *testing.T) {
	payment := Payment{TransactionId: "TXN-006", Amount: money.MustParse2dp("500.00"), Currency: "EUR"}
	out, err := Match(payment, nil, nil, "", DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusUnmatched || out.DiscrepancyCode != DiscrepancyNone {
		t.Fatalf("out = %+v", out)
	}
	if !out.UnappliedAmount.Equal(money.MustParse2dp("500.00")) {
		t.Fatalf("unapplied = %v, want full amount", out.UnappliedAmount)
	}
}

func TestMatch_CurrencyMismatch(t *testing.T) {
	payment := Payment{TransactionId: "TXN-007", Amount: money.MustParse2dp("1000.00"), Currency: "USD"}
	invoices := []Invoice{{InvoiceId: "INV-EU", AmountDue: money.MustParse2dp("1000.00"), Currency: "EUR"}}

	out, err := Match(payment, []string{"INV-EU"}, invoices, "", DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusUnmatched || out.DiscrepancyCode != DiscrepancyCurrencyMismatch {
		t.Fatalf("out = %+v", out)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	payment := Payment{TransactionId: "TXN-008", Amount: money.MustParse2dp("800.00"), Currency: "EUR"}
	invoices := []Invoice{
		{InvoiceId: "INV-A", AmountDue: money.MustParse2dp("500.00"), Currency: "EUR"},
		{InvoiceId: "INV-B", AmountDue: money.MustParse2dp("500.00"), Currency: "EUR"},
	}
	first, err1 := Match(payment, []string{"INV-A", "INV-B"}, invoices, "", DefaultPolicy())
	second, err2 := Match(payment, []string{"INV-A", "INV-B"}, invoices, "", DefaultPolicy())
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v %v", err1, err2)
	}
	if len(first.Allocations) != len(second.Allocations) {
		t.Fatalf("non-deterministic allocation count")
	}
	for i := range first.Allocations {
		if first.Allocations[i].InvoiceId != second.Allocations[i].InvoiceId ||
			!first.Allocations[i].AmountApplied.Equal(second.Allocations[i].AmountApplied) {
			t.Fatalf("non-deterministic allocation at %d: %+v vs %+v", i, first.Allocations[i], second.Allocations[i])
		}
	}
}

func TestMatch_PartialAllocationDisallowedBlocksMultiInvoiceShortFill(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowPartialAllocation = false
	payment := Payment{TransactionId: "TXN-010", Amount: money.MustParse2dp("800.00"), Currency: "EUR"}
	invoices := []Invoice{
		{InvoiceId: "INV-A", AmountDue: money.MustParse2dp("500.00"), Currency: "EUR"},
		{InvoiceId: "INV-B", AmountDue: money.MustParse2dp("500.00"), Currency: "EUR"},
	}

	out, err := Match(payment, []string{"INV-A", "INV-B"}, invoices, "", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusPartiallyMatched || out.DiscrepancyCode != DiscrepancyShortPayment {
		t.Fatalf("out = %+v", out)
	}
	if len(out.Allocations) != 0 || !out.RequiresHumanReview {
		t.Fatalf("expected no auto-allocation and human review, got %+v", out)
	}
}

func TestMatch_PartialAllocationDisallowedStillAllowsExactMultiInvoiceSum(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowPartialAllocation = false
	payment := Payment{TransactionId: "TXN-011", Amount: money.MustParse2dp("1500.00"), Currency: "EUR"}
	invoices := []Invoice{
		{InvoiceId: "INV-1", AmountDue: money.MustParse2dp("600.00"), Currency: "EUR"},
		{InvoiceId: "INV-2", AmountDue: money.MustParse2dp("900.00"), Currency: "EUR"},
	}

	out, err := Match(payment, []string{"INV-1", "INV-2"}, invoices, "", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusMatched || len(out.Allocations) != 2 {
		t.Fatalf("out = %+v", out)
	}
}

func TestMatch_InvalidInvoiceWhenNoneFoundInERP(t *testing.T) {
	payment := Payment{TransactionId: "TXN-009", Amount: money.MustParse2dp("100.00"), Currency: "EUR"}
	out, err := Match(payment, []string{"INV-MISSING"}, nil, "", DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusUnmatched || out.DiscrepancyCode != DiscrepancyInvalidInvoice {
		t.Fatalf("out = %+v", out)
	}
}
