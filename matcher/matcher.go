// Package matcher implements the cascading allocation algorithm: pure
// functions over decimal values, no I/O, no GORM, no globals. Determinism
// (invariant 6) falls out of that by construction.
package matcher

import (
	"sort"

	"github.com/remitmatch/cashapp-agent/cashapperr"
	"github.com/remitmatch/cashapp-agent/money"
	"github.com/shopspring/decimal"
)

// AlgorithmVersion is bumped on any rule change, for A/B and rollback.
const AlgorithmVersion = "cascade-v1"

type Status string

const (
	StatusMatched          Status = "Matched"
	StatusPartiallyMatched Status = "PartiallyMatched"
	StatusUnmatched        Status = "Unmatched"
)

type DiscrepancyCode string

const (
	DiscrepancyNone             DiscrepancyCode = "None"
	DiscrepancyShortPayment     DiscrepancyCode = "ShortPayment"
	DiscrepancyOverPayment      DiscrepancyCode = "OverPayment"
	DiscrepancyInvalidInvoice   DiscrepancyCode = "InvalidInvoice"
	DiscrepancyCurrencyMismatch DiscrepancyCode = "CurrencyMismatch"
)

// Payment is the minimal shape the algorithm needs from a PaymentTransaction.
type Payment struct {
	TransactionId string
	Amount        decimal.Decimal
	Currency      string
}

// Invoice is the minimal shape the algorithm needs from an Invoice snapshot.
type Invoice struct {
	InvoiceId string
	AmountDue decimal.Decimal
	Currency  string
	DueDate   *int64 // unix seconds; nil sorts last
}

// Allocation is one InvoicePaymentMatch candidate.
type Allocation struct {
	InvoiceId     string
	AmountApplied decimal.Decimal
}

// Output is MatchResult plus its allocations, pre-persistence.
type Output struct {
	Status              Status
	UnappliedAmount      decimal.Decimal
	WrittenOffAmount     decimal.Decimal // rule 5 remainder at or under the write-off threshold
	DiscrepancyCode      DiscrepancyCode
	Confidence           float64
	AlgorithmVersion     string
	LogEntry             string
	RequiresHumanReview  bool
	Allocations          []Allocation
}

// Policy is the configuration table from §4.3.
type Policy struct {
	AmountTolerancePct     decimal.Decimal
	ShortWriteOffThreshold decimal.Decimal
	AutoApplyCeiling       *decimal.Decimal
	RequireCustomerMatch   bool
	AllowPartialAllocation bool
	PerfectMatchOnly       bool
}

func DefaultPolicy() Policy {
	return Policy{
		AmountTolerancePct:     decimal.Zero,
		ShortWriteOffThreshold: decimal.Zero,
		AllowPartialAllocation: true,
	}
}

// Match runs the cascading allocation algorithm. candidateInvoiceIds were
// extracted/supplied up front; invoices is what EF actually found for
// those ids. customerIdentifier is the transaction's customer_identifier as
// received (the orchestrator passes it unresolved); Match only checks
// whether it is present.
func Match(payment Payment, candidateInvoiceIds []string, invoices []Invoice, customerIdentifier string, policy Policy) (Output, error) {
	out := matchInner(payment, candidateInvoiceIds, invoices, customerIdentifier, policy)
	if err := verifyInvariants(payment, invoices, out); err != nil {
		return Output{
			Status:              StatusUnmatched,
			UnappliedAmount:     payment.Amount,
			DiscrepancyCode:     DiscrepancyInvalidInvoice,
			Confidence:          0,
			AlgorithmVersion:    AlgorithmVersion,
			LogEntry:            "invariant violation: " + err.Error(),
			RequiresHumanReview: true,
		}, cashapperr.New(cashapperr.KindInvariantViolation, err.Error())
	}
	if policy.RequireCustomerMatch && customerIdentifier == "" && len(invoices) > 0 {
		out.RequiresHumanReview = true
	}
	if policy.AutoApplyCeiling != nil && payment.Amount.GreaterThan(*policy.AutoApplyCeiling) {
		out.RequiresHumanReview = true
	}
	if policy.PerfectMatchOnly && out.Status == StatusPartiallyMatched {
		out.RequiresHumanReview = true
	}
	return out, nil
}

func matchInner(payment Payment, candidateInvoiceIds []string, invoices []Invoice, customerIdentifier string, policy Policy) Output {
	base := Output{AlgorithmVersion: AlgorithmVersion}

	// Rule 1: currency guard.
	for _, inv := range invoices {
		if inv.Currency != payment.Currency {
			base.Status = StatusUnmatched
			base.DiscrepancyCode = DiscrepancyCurrencyMismatch
			base.Confidence = 0
			base.UnappliedAmount = payment.Amount
			base.LogEntry = "currency mismatch: invoice " + inv.InvoiceId + " is " + inv.Currency + ", payment is " + payment.Currency
			return base
		}
	}

	// Rule 6a: extractor found nothing.
	if len(candidateInvoiceIds) == 0 {
		base.Status = StatusUnmatched
		base.DiscrepancyCode = DiscrepancyNone
		base.Confidence = 0
		base.UnappliedAmount = payment.Amount
		base.LogEntry = "no candidate invoice ids extracted"
		return base
	}

	// Rule 6b: candidates given, none resolved in ERP.
	if len(invoices) == 0 {
		base.Status = StatusUnmatched
		base.DiscrepancyCode = DiscrepancyInvalidInvoice
		base.Confidence = 0
		base.UnappliedAmount = payment.Amount
		base.LogEntry = "no candidate invoices found in ERP"
		return base
	}

	tolerance := toleranceAmount(payment.Amount, policy.AmountTolerancePct)

	// Rule 2: perfect 1:1.
	if len(invoices) == 1 && withinTolerance(invoices[0].AmountDue, payment.Amount, tolerance) {
		base.Status = StatusMatched
		base.DiscrepancyCode = DiscrepancyNone
		base.Confidence = 0.99
		base.UnappliedAmount = decimal.Zero
		base.Allocations = []Allocation{{InvoiceId: invoices[0].InvoiceId, AmountApplied: payment.Amount}}
		base.LogEntry = "perfect 1:1 match"
		return base
	}

	// Rule 3: perfect 1:N sum-to-amount. Exact-sum multi-invoice matches are
	// always available: AllowPartialAllocation only gates applying less (or
	// more, unreconciled) than the full invoiced amount below, per §4.3's
	// "multi-invoice allocations require exact sum match" semantics.
	sum := sumDue(invoices)
	if withinTolerance(sum, payment.Amount, tolerance) {
		base.Status = StatusMatched
		base.DiscrepancyCode = DiscrepancyNone
		base.Confidence = 0.95
		base.UnappliedAmount = decimal.Zero
		base.Allocations = allocateFull(invoices)
		base.LogEntry = "perfect 1:N sum-to-amount match"
		return base
	}

	if len(invoices) > 1 && !policy.AllowPartialAllocation {
		code := DiscrepancyShortPayment
		if payment.Amount.GreaterThan(sum) {
			code = DiscrepancyOverPayment
		}
		base.Status = StatusPartiallyMatched
		base.DiscrepancyCode = code
		base.Confidence = 0
		base.UnappliedAmount = payment.Amount
		base.RequiresHumanReview = true
		base.LogEntry = "multi-invoice partial allocation blocked by policy: exact sum match required"
		return base
	}

	sorted := sortedByDueDateThenId(invoices)

	if payment.Amount.LessThan(sum) {
		// Rule 4: sequential short-payment fill, oldest first.
		allocations, _ := sequentialFill(sorted, payment.Amount)
		base.Status = StatusPartiallyMatched
		base.DiscrepancyCode = DiscrepancyShortPayment
		base.Confidence = 0.85
		base.UnappliedAmount = decimal.Zero
		base.Allocations = allocations
		base.LogEntry = "sequential short-payment fill"
		return base
	}

	// Rule 5: over-payment.
	remainder := payment.Amount.Sub(sum)
	if remainder.LessThanOrEqual(policy.ShortWriteOffThreshold) {
		base.Status = StatusMatched
		base.DiscrepancyCode = DiscrepancyOverPayment
		base.Confidence = 0.80
		base.UnappliedAmount = decimal.Zero
		base.WrittenOffAmount = remainder
		base.Allocations = allocateFull(invoices)
		base.LogEntry = "over-payment written off under threshold"
		return base
	}

	base.Status = StatusPartiallyMatched
	base.DiscrepancyCode = DiscrepancyOverPayment
	base.Confidence = 0.70
	base.UnappliedAmount = remainder
	base.Allocations = allocateFull(invoices)
	base.LogEntry = "over-payment above write-off threshold"
	return base
}

func toleranceAmount(amount, pct decimal.Decimal) decimal.Decimal {
	if pct.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(pct).Abs()
}

func withinTolerance(a, b, tolerance decimal.Decimal) bool {
	diff := a.Sub(b).Abs()
	return diff.LessThanOrEqual(tolerance)
}

func sumDue(invoices []Invoice) decimal.Decimal {
	sum := decimal.Zero
	for _, inv := range invoices {
		sum = sum.Add(inv.AmountDue)
	}
	return sum
}

func allocateFull(invoices []Invoice) []Allocation {
	out := make([]Allocation, 0, len(invoices))
	for _, inv := range invoices {
		if inv.AmountDue.IsPositive() {
			out = append(out, Allocation{InvoiceId: inv.InvoiceId, AmountApplied: inv.AmountDue})
		}
	}
	return out
}

func sortedByDueDateThenId(invoices []Invoice) []Invoice {
	sorted := make([]Invoice, len(invoices))
	copy(sorted, invoices)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.DueDate == nil && b.DueDate != nil {
			return false
		}
		if a.DueDate != nil && b.DueDate == nil {
			return true
		}
		if a.DueDate != nil && b.DueDate != nil && *a.DueDate != *b.DueDate {
			return *a.DueDate < *b.DueDate
		}
		return a.InvoiceId < b.InvoiceId
	})
	return sorted
}

func sequentialFill(sorted []Invoice, amount decimal.Decimal) ([]Allocation, decimal.Decimal) {
	remaining := amount
	allocations := make([]Allocation, 0, len(sorted))
	for _, inv := range sorted {
		if !remaining.IsPositive() {
			break
		}
		apply := inv.AmountDue
		if apply.GreaterThan(remaining) {
			apply = remaining
		}
		if apply.IsPositive() {
			allocations = append(allocations, Allocation{InvoiceId: inv.InvoiceId, AmountApplied: apply})
			remaining = remaining.Sub(apply)
		}
	}
	return allocations, remaining
}

func verifyInvariants(payment Payment, invoices []Invoice, out Output) error {
	dueById := make(map[string]decimal.Decimal, len(invoices))
	for _, inv := range invoices {
		dueById[inv.InvoiceId] = inv.AmountDue
	}

	total := out.UnappliedAmount.Add(out.WrittenOffAmount)
	seen := map[string]bool{}
	for _, a := range out.Allocations {
		if !a.AmountApplied.IsPositive() {
			return errInvariant("amount_applied must be > 0 for " + a.InvoiceId)
		}
		if due, ok := dueById[a.InvoiceId]; ok && a.AmountApplied.GreaterThan(due) {
			return errInvariant("amount_applied exceeds amount_due for " + a.InvoiceId)
		}
		if seen[a.InvoiceId] {
			return errInvariant("invoice allocated twice: " + a.InvoiceId)
		}
		seen[a.InvoiceId] = true
		total = total.Add(a.AmountApplied)
	}
	if !money.Equal(total, payment.Amount) {
		return errInvariant("sum of applied amounts + unapplied_amount + written-off remainder != payment.amount")
	}
	return nil
}

type invariantErr string

func (e invariantErr) Error() string { return string(e) }

func errInvariant(msg string) error { return invariantErr(msg) }
