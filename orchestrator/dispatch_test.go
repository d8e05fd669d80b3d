package orchestrator

import (
	"testing"

	"github.com/remitmatch/cashapp-agent/audit"
	"github.com/remitmatch/cashapp-agent/matcher"
	"github.com/shopspring/decimal"
)

func TestCommunicationFor_CleanMatchSendsConfirmation(t *testing.T) {
	kind, template, _ := communicationFor(matcher.Output{
		Status:          matcher.StatusMatched,
		DiscrepancyCode: matcher.DiscrepancyNone,
	})
	if kind != audit.CommKindConfirmation || template != "processing_complete" {
		t.Fatalf("got kind=%q template=%q", kind, template)
	}
}

func TestCommunicationFor_ShortPaymentAsksCustomer(t *testing.T) {
	kind, template, _ := communicationFor(matcher.Output{
		Status:          matcher.StatusPartiallyMatched,
		DiscrepancyCode: matcher.DiscrepancyShortPayment,
	})
	if kind != audit.CommKindCustomerClarification || template != "customer_clarification" {
		t.Fatalf("got kind=%q template=%q", kind, template)
	}
}

func TestCommunicationFor_OverpaymentWrittenOffStaysSilent(t *testing.T) {
	kind, _, _ := communicationFor(matcher.Output{
		Status:          matcher.StatusMatched,
		DiscrepancyCode: matcher.DiscrepancyOverPayment,
	})
	if kind != "" {
		t.Fatalf("expected no communication, got %q", kind)
	}
}

func TestCommunicationFor_RequiresHumanReviewAlwaysAlertsInternally(t *testing.T) {
	kind, template, _ := communicationFor(matcher.Output{
		Status:              matcher.StatusMatched,
		DiscrepancyCode:     matcher.DiscrepancyNone,
		RequiresHumanReview: true,
	})
	if kind != audit.CommKindInternalAlert || template != "internal_alert" {
		t.Fatalf("got kind=%q template=%q", kind, template)
	}
}

func TestTerminalStatusFor(t *testing.T) {
	cases := []struct {
		output matcher.Output
		want   audit.ProcessingStatus
	}{
		{matcher.Output{Status: matcher.StatusMatched}, audit.StatusMatched},
		{matcher.Output{Status: matcher.StatusPartiallyMatched}, audit.StatusPartiallyMatched},
		{matcher.Output{Status: matcher.StatusUnmatched}, audit.StatusUnmatched},
		{matcher.Output{Status: matcher.StatusMatched, RequiresHumanReview: true}, audit.StatusRequiresReview},
	}
	for _, c := range cases {
		if got := terminalStatusFor(c.output); got != c.want {
			t.Errorf("terminalStatusFor(%+v) = %q, want %q", c.output, got, c.want)
		}
	}
}

func TestShouldPost(t *testing.T) {
	withAllocations := matcher.Output{Allocations: []matcher.Allocation{{InvoiceId: "INV-1", AmountApplied: decimal.NewFromInt(10)}}}
	if !shouldPost(withAllocations, true) {
		t.Fatalf("expected posting when autonomous updates enabled and allocations exist")
	}
	if shouldPost(withAllocations, false) {
		t.Fatalf("expected no posting when autonomous updates disabled")
	}
	if shouldPost(matcher.Output{RequiresHumanReview: true, Allocations: withAllocations.Allocations}, true) {
		t.Fatalf("expected no posting when the outcome requires human review")
	}
	if shouldPost(matcher.Output{}, true) {
		t.Fatalf("expected no posting with zero allocations")
	}
}

func TestApplyAutonomousUpdatesGate(t *testing.T) {
	wouldPost := matcher.Output{
		Status:      matcher.StatusMatched,
		Allocations: []matcher.Allocation{{InvoiceId: "INV-1", AmountApplied: decimal.NewFromInt(10)}},
	}

	gated := applyAutonomousUpdatesGate(wouldPost, false)
	if !gated.RequiresHumanReview {
		t.Fatalf("expected RequiresHumanReview when autonomous updates disabled, got %+v", gated)
	}
	if terminalStatusFor(gated) != audit.StatusRequiresReview {
		t.Fatalf("expected RequiresReview terminal status, got %q", terminalStatusFor(gated))
	}
	if kind, _, _ := communicationFor(gated); kind != audit.CommKindInternalAlert {
		t.Fatalf("expected internal alert instead of a customer confirmation, got %q", kind)
	}

	unaffected := applyAutonomousUpdatesGate(wouldPost, true)
	if unaffected.RequiresHumanReview {
		t.Fatalf("enabling autonomous updates should not force human review: %+v", unaffected)
	}

	noAllocations := applyAutonomousUpdatesGate(matcher.Output{Status: matcher.StatusUnmatched}, false)
	if noAllocations.RequiresHumanReview {
		t.Fatalf("an outcome with nothing to post should not be forced to review: %+v", noAllocations)
	}
}

func TestToAuditRecords(t *testing.T) {
	output := matcher.Output{
		Status:           matcher.StatusMatched,
		UnappliedAmount:  decimal.Zero,
		DiscrepancyCode:  matcher.DiscrepancyNone,
		Confidence:       0.97,
		AlgorithmVersion: matcher.AlgorithmVersion,
		Allocations: []matcher.Allocation{
			{InvoiceId: "INV-1", AmountApplied: decimal.NewFromInt(50)},
			{InvoiceId: "INV-2", AmountApplied: decimal.NewFromInt(25)},
		},
	}
	mr, matches := toAuditRecords("txn-1", output)
	if mr.TransactionId != "txn-1" || mr.Status != audit.StatusMatched {
		t.Fatalf("unexpected match result: %+v", mr)
	}
	if len(matches) != 2 || matches[0].InvoiceId != "INV-1" || matches[1].InvoiceId != "INV-2" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
}
