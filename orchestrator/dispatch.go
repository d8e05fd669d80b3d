package orchestrator

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/remitmatch/cashapp-agent/appctx"
	"github.com/remitmatch/cashapp-agent/audit"
	"github.com/remitmatch/cashapp-agent/cashapperr"
	"github.com/remitmatch/cashapp-agent/communicator"
	"github.com/remitmatch/cashapp-agent/erp"
	"github.com/remitmatch/cashapp-agent/extractor"
	"github.com/remitmatch/cashapp-agent/matcher"
)

const (
	extractTimeout      = 30 * time.Second
	fetchInvoicesTimeout = 15 * time.Second
	postApplicationTimeout = 30 * time.Second
	communicateTimeout  = 20 * time.Second
)

// runToCompletion drives one transaction through the full step sequence.
// It runs on the per-source_account_ref scheduler goroutine, so it never
// races another step of the same transaction or another transaction on the
// same account.
func (o *Orchestrator) runToCompletion(ctx context.Context, workflowId, transactionId string) {
	if o.Metrics != nil {
		defer o.Metrics.WorkflowFinished(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, o.effectiveTimeout())
	defer cancel()

	txn, err := o.Store.GetTransaction(ctx, transactionId)
	if err != nil || txn == nil {
		o.logError(transactionId, "load-transaction", err)
		return
	}

	if o.cancelled(ctx, transactionId) {
		o.finalizeCancelled(ctx, workflowId, transactionId)
		return
	}

	extractStart := time.Now()
	extractResult, extractErr := o.runExtract(ctx, *txn)
	o.recordStepDuration("extract", extractStart)
	if extractErr != nil {
		e, ok := cashapperr.AsError(extractErr)
		if !ok || e.Kind != cashapperr.KindExtractorUnavailable {
			o.failWorkflow(ctx, workflowId, transactionId, extractErr)
			return
		}
		// Every tier failed; extractResult still holds the best partial
		// output earlier tiers produced, so matching proceeds on that.
	}

	if o.cancelled(ctx, transactionId) {
		o.finalizeCancelled(ctx, workflowId, transactionId)
		return
	}

	fetchStart := time.Now()
	invoices, _, fetchErr := o.runFetchInvoices(ctx, *txn, extractResult.InvoiceIds)
	o.recordStepDuration("fetch_invoices", fetchStart)
	if fetchErr != nil {
		o.failWorkflow(ctx, workflowId, transactionId, fetchErr)
		return
	}

	if o.cancelled(ctx, transactionId) {
		o.finalizeCancelled(ctx, workflowId, transactionId)
		return
	}

	matchStart := time.Now()
	output, matchErr := o.runMatch(*txn, extractResult.InvoiceIds, invoices)
	o.recordStepDuration("match", matchStart)
	if matchErr != nil {
		o.failWorkflow(ctx, workflowId, transactionId, matchErr)
		return
	}

	output = applyAutonomousUpdatesGate(output, o.Policy.EnableAutonomousERPUpdates)
	terminalStatus := terminalStatusFor(output)

	var erpTxnId string
	if shouldPost(output, o.Policy.EnableAutonomousERPUpdates) {
		postStart := time.Now()
		result, postErr := o.runPostApplication(ctx, *txn, output)
		o.recordStepDuration("post_application", postStart)
		if postErr != nil {
			o.failWorkflow(ctx, workflowId, transactionId, postErr)
			return
		}
		erpTxnId = result.ERPTransactionId
	}

	matchResult, matches := toAuditRecords(transactionId, output)
	if err := o.Store.RecordMatch(ctx, transactionId, terminalStatus, &matchResult, matches); err != nil {
		o.failWorkflow(ctx, workflowId, transactionId, err)
		return
	}

	o.runCommunicate(ctx, *txn, output, erpTxnId)

	o.finalize(ctx, workflowId, transactionId, terminalStatus)
}

func (o *Orchestrator) effectiveTimeout() time.Duration {
	if o.Policy.WorkflowTimeout > 0 {
		return o.Policy.WorkflowTimeout
	}
	return 10 * time.Minute
}

func (o *Orchestrator) cancelled(ctx context.Context, transactionId string) bool {
	var requested bool
	err := o.Store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cerr error
		requested, cerr = IsCancelRequested(tx, transactionId)
		return cerr
	})
	return err == nil && requested
}

func (o *Orchestrator) runExtract(ctx context.Context, txn audit.PaymentTransaction) (extractor.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	if o.Extractor == nil {
		return extractor.Result{}, nil
	}

	result, err := o.Extractor.Extract(ctx, extractor.Request{
		DocumentURIs:        []string(txn.DocumentURIs),
		RemittanceText:      txn.RawRemittanceData,
		ClientId:            txn.SourceAccountRef,
		TierPreference:      o.Policy.ExtractorTierPreference,
		ConfidenceThreshold: o.Policy.ExtractorConfidenceThreshold,
	})

	_ = o.Store.DB.WithContext(ctx).Create(&audit.DocumentParseResult{
		TransactionId:        txn.TransactionId,
		ExtractedInvoiceIds:  audit.StringSlice(result.InvoiceIds),
		Confidence:           result.Confidence,
		TierUsed:             string(result.TierUsed),
		ProcessingTimeMs:     result.ProcessingTimeMs,
	}).Error

	return result, err
}

func (o *Orchestrator) runFetchInvoices(ctx context.Context, txn audit.PaymentTransaction, candidateIds []string) ([]erp.Invoice, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchInvoicesTimeout)
	defer cancel()

	if o.ERP == nil || len(candidateIds) == 0 {
		return nil, candidateIds, nil
	}

	erpSystem := o.defaultERPSystem()
	customerId := ""
	if txn.CustomerIdentifier != nil {
		if id, ok := ResolveCustomerIdentity(*txn.CustomerIdentifier, o.Directory); ok {
			customerId = id
		}
	}
	return o.ERP.FetchInvoices(ctx, candidateIds, erpSystem, customerId)
}

func (o *Orchestrator) defaultERPSystem() string {
	return "netsuite"
}

func (o *Orchestrator) runMatch(txn audit.PaymentTransaction, candidateIds []string, invoices []erp.Invoice) (matcher.Output, error) {
	payment := matcher.Payment{TransactionId: txn.TransactionId, Amount: txn.Amount, Currency: txn.Currency}
	mInvoices := make([]matcher.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		var due *int64
		if inv.DueDate != nil {
			sec := inv.DueDate.Unix()
			due = &sec
		}
		mInvoices = append(mInvoices, matcher.Invoice{InvoiceId: inv.InvoiceId, AmountDue: inv.AmountDue, Currency: inv.Currency, DueDate: due})
	}
	identifier := ""
	if txn.CustomerIdentifier != nil {
		identifier = *txn.CustomerIdentifier
	}
	return matcher.Match(payment, candidateIds, mInvoices, identifier, o.Policy.Matcher)
}

// applyAutonomousUpdatesGate enforces the enable_autonomous_erp_updates
// master switch on the terminal outcome, not just on whether EF.Post gets
// called: with the switch off, a match that would otherwise have posted is
// forced to RequiresReview so its terminal status and any communication it
// triggers don't claim a completed posting that never happened.
func applyAutonomousUpdatesGate(output matcher.Output, autonomousUpdatesEnabled bool) matcher.Output {
	if !autonomousUpdatesEnabled && shouldPost(output, true) {
		output.RequiresHumanReview = true
	}
	return output
}

func shouldPost(output matcher.Output, autonomousUpdatesEnabled bool) bool {
	if !autonomousUpdatesEnabled || output.RequiresHumanReview {
		return false
	}
	return len(output.Allocations) > 0
}

func (o *Orchestrator) runPostApplication(ctx context.Context, txn audit.PaymentTransaction, output matcher.Output) (erp.PostResult, error) {
	ctx, cancel := context.WithTimeout(ctx, postApplicationTimeout)
	defer cancel()

	lines := make([]erp.LineApplication, 0, len(output.Allocations))
	total := txn.Amount.Sub(output.UnappliedAmount)
	for _, a := range output.Allocations {
		lines = append(lines, erp.LineApplication{InvoiceId: a.InvoiceId, AmountApplied: a.AmountApplied})
	}

	customerId := ""
	if txn.CustomerIdentifier != nil {
		if id, ok := ResolveCustomerIdentity(*txn.CustomerIdentifier, o.Directory); ok {
			customerId = id
		}
	}

	return o.ERP.PostApplication(ctx, erp.Application{
		TransactionId: txn.TransactionId,
		CustomerId:    customerId,
		ERPSystem:     o.defaultERPSystem(),
		Applications:  lines,
		TotalAmount:   total,
		Currency:      txn.Currency,
	})
}

func (o *Orchestrator) runCommunicate(ctx context.Context, txn audit.PaymentTransaction, output matcher.Output, erpTxnId string) {
	ctx, cancel := context.WithTimeout(ctx, communicateTimeout)
	defer cancel()

	kind, templateName, recipient := communicationFor(output)
	if kind == "" {
		return
	}
	if o.Communicator == nil {
		return
	}

	txnId := txn.TransactionId
	_, _ = o.Communicator.Dispatch(ctx, communicator.Event{
		Kind:          kind,
		Recipient:     recipient,
		TemplateName:  templateName,
		TransactionId: &txnId,
		Data: map[string]interface{}{
			"transaction_id":   txn.TransactionId,
			"amount":           txn.Amount.StringFixed(2),
			"currency":         txn.Currency,
			"discrepancy_code": string(output.DiscrepancyCode),
			"erp_transaction_id": erpTxnId,
		},
	})
}

// communicationFor implements §4.4's branch table: which communication (if
// any) follows a given match outcome.
func communicationFor(output matcher.Output) (kind audit.CommunicationKind, templateName, recipient string) {
	switch {
	case output.RequiresHumanReview:
		return audit.CommKindInternalAlert, "internal_alert", "ar-team@internal"
	case output.Status == matcher.StatusMatched && output.DiscrepancyCode == matcher.DiscrepancyNone:
		return audit.CommKindConfirmation, "processing_complete", "customer-portal"
	case output.Status == matcher.StatusPartiallyMatched && output.DiscrepancyCode == matcher.DiscrepancyShortPayment:
		return audit.CommKindCustomerClarification, "customer_clarification", "customer-portal"
	case output.Status == matcher.StatusMatched && output.DiscrepancyCode == matcher.DiscrepancyOverPayment:
		return "", "", ""
	case output.Status == matcher.StatusPartiallyMatched && output.DiscrepancyCode == matcher.DiscrepancyOverPayment:
		return audit.CommKindInternalAlert, "internal_alert", "ar-team@internal"
	default: // Unmatched
		return audit.CommKindInternalAlert, "internal_alert", "ar-team@internal"
	}
}

func terminalStatusFor(output matcher.Output) audit.ProcessingStatus {
	if output.RequiresHumanReview {
		return audit.StatusRequiresReview
	}
	switch output.Status {
	case matcher.StatusMatched:
		return audit.StatusMatched
	case matcher.StatusPartiallyMatched:
		return audit.StatusPartiallyMatched
	default:
		return audit.StatusUnmatched
	}
}

func toAuditRecords(transactionId string, output matcher.Output) (audit.MatchResult, []audit.InvoicePaymentMatch) {
	mr := audit.MatchResult{
		TransactionId:       transactionId,
		Status:              terminalStatusFor(output),
		UnappliedAmount:     output.UnappliedAmount,
		DiscrepancyCode:     audit.DiscrepancyCode(output.DiscrepancyCode),
		Confidence:          output.Confidence,
		AlgorithmVersion:    output.AlgorithmVersion,
		LogEntry:            output.LogEntry,
		RequiresHumanReview: output.RequiresHumanReview,
	}
	matches := make([]audit.InvoicePaymentMatch, 0, len(output.Allocations))
	for _, a := range output.Allocations {
		matches = append(matches, audit.InvoicePaymentMatch{InvoiceId: a.InvoiceId, AmountApplied: a.AmountApplied})
	}
	return mr, matches
}

// finalize runs after RecordMatch has already persisted the terminal status
// and processed_at; it only needs to clear the claim and emit audit/metrics.
func (o *Orchestrator) finalize(ctx context.Context, workflowId, transactionId string, terminalStatus audit.ProcessingStatus) {
	_ = o.Store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return MarkClaimSucceeded(tx, transactionId)
	})
	o.appendAudit(ctx, transactionId, "workflow.finalized", map[string]interface{}{"status": string(terminalStatus)})
	if o.Metrics != nil {
		o.Metrics.RecordTerminalStatus(ctx, string(terminalStatus))
	}
}

func (o *Orchestrator) finalizeCancelled(ctx context.Context, workflowId, transactionId string) {
	_ = o.Store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return MarkClaimFailed(tx, transactionId, cashapperr.New(cashapperr.KindCancelled, "workflow cancelled"))
	})
	o.transitionTerminal(ctx, transactionId, audit.StatusError)
	o.appendAudit(ctx, transactionId, "workflow.cancelled", nil)
	if o.Metrics != nil {
		o.Metrics.RecordTerminalStatus(ctx, string(audit.StatusError))
	}
}

func (o *Orchestrator) failWorkflow(ctx context.Context, workflowId, transactionId string, err error) {
	_ = o.Store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return MarkClaimFailed(tx, transactionId, err)
	})
	o.transitionTerminal(ctx, transactionId, audit.StatusError)
	o.appendAudit(ctx, transactionId, "workflow.failed", map[string]interface{}{"error": err.Error()})
	if o.Metrics != nil {
		o.Metrics.RecordTerminalStatus(ctx, string(audit.StatusError))
	}
	if o.Communicator != nil {
		txnId := transactionId
		_, _ = o.Communicator.Dispatch(ctx, communicator.Event{
			Kind:          audit.CommKindInternalAlert,
			Recipient:     "ar-team@internal",
			TemplateName:  "internal_alert",
			TransactionId: &txnId,
			Data:          map[string]interface{}{"transaction_id": transactionId, "error": err.Error()},
		})
	}
	o.logError(transactionId, "workflow", err)
}

func (o *Orchestrator) transitionTerminal(ctx context.Context, transactionId string, status audit.ProcessingStatus) {
	now := time.Now().UTC()
	_ = o.Store.DB.WithContext(ctx).Model(&audit.PaymentTransaction{}).
		Where("transaction_id = ?", transactionId).
		Updates(map[string]interface{}{"processing_status": status, "processed_at": &now}).Error
}

func (o *Orchestrator) appendAudit(ctx context.Context, transactionId, eventType string, data map[string]interface{}) {
	correlationId, _ := appctx.GetString(ctx, appctx.ContextKeyCorrelationId)
	_, _ = o.Store.AppendAudit(ctx, &audit.AuditEvent{
		EventType:     eventType,
		Source:        "orchestrator",
		CorrelationId: correlationId,
		TransactionId: &transactionId,
		Data:          audit.JSONMap(data),
	})
}

func (o *Orchestrator) recordStepDuration(step string, start time.Time) {
	if o.Metrics != nil {
		o.Metrics.RecordStepDuration(context.Background(), step, float64(time.Since(start).Milliseconds()))
	}
}

func (o *Orchestrator) logError(transactionId, step string, err error) {
	if o.Logger == nil || err == nil {
		return
	}
	o.Logger.WithError(err).WithFields(map[string]interface{}{
		"module":         "orchestrator",
		"transaction_id": transactionId,
		"step":           step,
	}).Error("workflow step failed")
}
