package orchestrator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/remitmatch/cashapp-agent/audit"
)

// Workflow is the status-poll shape GetStatus returns.
type Workflow struct {
	WorkflowId    string                 `json:"workflow_id"`
	TransactionId string                 `json:"transaction_id"`
	State         audit.ProcessingStatus `json:"state"`
	Result        *audit.MatchResult     `json:"result,omitempty"`
}

// StartWorkflow claims transaction_id (idempotent) and schedules its steps
// on the per-source_account_ref queue. It returns immediately with the
// workflow handle; processing happens asynchronously.
func (o *Orchestrator) StartWorkflow(ctx context.Context, txn audit.PaymentTransaction) (string, error) {
	workflowId := uuid.NewString()

	var skip bool
	var existingWorkflowId string
	err := o.Store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claimErr error
		skip, existingWorkflowId, claimErr = BeginClaim(tx, txn.TransactionId, workflowId)
		if claimErr != nil {
			return claimErr
		}
		if skip {
			return nil
		}
		txn.WorkflowId = workflowId
		if txn.ProcessingStatus == "" {
			txn.ProcessingStatus = audit.StatusPending
		}
		claimed, existingTxn, createErr := o.Store.ClaimTransaction(ctx, &txn)
		if createErr != nil {
			return createErr
		}
		if !claimed {
			// Row already existed from a prior attempt; reuse its workflow_id.
			if existingTxn != nil {
				existingWorkflowId = existingTxn.WorkflowId
			}
			skip = true
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrClaimInProgress) {
			return existingWorkflowId, nil
		}
		return "", err
	}
	if skip {
		return existingWorkflowId, nil
	}

	if o.Metrics != nil {
		o.Metrics.WorkflowStarted(ctx)
	}
	o.Scheduler.Enqueue(txn.SourceAccountRef, func(ctx context.Context) {
		o.runToCompletion(ctx, workflowId, txn.TransactionId)
	})
	return workflowId, nil
}

// GetStatus reports the current persisted state for transactionId.
func (o *Orchestrator) GetStatus(ctx context.Context, transactionId string) (Workflow, error) {
	txn, err := o.Store.GetTransaction(ctx, transactionId)
	if err != nil {
		return Workflow{}, err
	}
	if txn == nil {
		return Workflow{}, nil
	}
	w := Workflow{WorkflowId: txn.WorkflowId, TransactionId: txn.TransactionId, State: txn.ProcessingStatus}
	if txn.ProcessingStatus.Terminal() {
		var mr audit.MatchResult
		if err := o.Store.DB.WithContext(ctx).Where("transaction_id = ?", transactionId).
			Order("id DESC").Preload("Matches").First(&mr).Error; err == nil {
			w.Result = &mr
		}
	}
	return w, nil
}

// ResumeFromClaim re-enqueues a transaction that was left STARTED by a
// crashed instance, picking up at runToCompletion rather than StartWorkflow
// so no duplicate claim row is inserted. Called from the startup
// reconciliation sweep and from cashapp-ctl's workflow replay.
func (o *Orchestrator) ResumeFromClaim(ctx context.Context, txn audit.PaymentTransaction) {
	if o.Metrics != nil {
		o.Metrics.WorkflowStarted(ctx)
	}
	o.Scheduler.Enqueue(txn.SourceAccountRef, func(ctx context.Context) {
		o.runToCompletion(ctx, txn.WorkflowId, txn.TransactionId)
	})
}

// ErrWorkflowNotFound is returned by Cancel when transactionId names no
// known transaction.
var ErrWorkflowNotFound = errors.New("cash-application: workflow not found")

// ErrWorkflowAlreadyTerminal is returned by Cancel when the workflow has
// already reached a terminal ProcessingStatus and cooperative cancellation
// can no longer have any effect.
var ErrWorkflowAlreadyTerminal = errors.New("cash-application: workflow already in a terminal state")

// Cancel sets the cooperative cancellation flag read at the next step
// boundary. The in-flight external call, if any, is allowed to finish.
func (o *Orchestrator) Cancel(ctx context.Context, transactionId string) error {
	return o.Store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn audit.PaymentTransaction
		if err := tx.Where("transaction_id = ?", transactionId).First(&txn).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWorkflowNotFound
			}
			return err
		}
		if txn.ProcessingStatus.Terminal() {
			return ErrWorkflowAlreadyTerminal
		}
		return RequestCancel(tx, transactionId)
	})
}
