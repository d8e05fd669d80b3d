package orchestrator

import (
	"errors"
	"time"

	"github.com/remitmatch/cashapp-agent/audit"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

const handlerName = "cash-application"

// ErrClaimInProgress is returned when another worker is currently
// processing the same transaction_id and the caller should ask its
// transport (Pub/Sub) to retry rather than run a second attempt.
var ErrClaimInProgress = errors.New("cash-application claim in progress")

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// BeginClaim inserts a STARTED idempotency row for transaction_id. If a
// SUCCEEDED row already exists it returns (true, existingWorkflowId, nil),
// meaning "skip safely, this transaction already has a workflow". This is
// the teacher's BeginIdempotency/MarkIdempotencySucceeded/MarkIdempotencyFailed
// dance, generalized to a single-column key.
func BeginClaim(tx *gorm.DB, transactionId, workflowId string) (skip bool, existingWorkflowId string, err error) {
	key := audit.IdempotencyKey{
		TransactionId: transactionId,
		HandlerName:   handlerName,
		WorkflowId:    workflowId,
		Status:        audit.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, workflowId, nil
	} else if !isDuplicateKeyErr(err) {
		return false, "", err
	}

	var existing audit.IdempotencyKey
	if err := tx.Where("transaction_id = ?", transactionId).First(&existing).Error; err != nil {
		return false, "", err
	}

	switch existing.Status {
	case audit.IdempotencyStatusSucceeded:
		return true, existing.WorkflowId, nil
	case audit.IdempotencyStatusStarted:
		if time.Since(existing.UpdatedAt) < 5*time.Minute {
			return false, existing.WorkflowId, ErrClaimInProgress
		}
		return false, existing.WorkflowId, tx.Model(&audit.IdempotencyKey{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{"status": audit.IdempotencyStatusStarted, "last_error": nil}).Error
	default: // FAILED: retry from scratch, reusing the same workflow id.
		return false, existing.WorkflowId, tx.Model(&audit.IdempotencyKey{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{"status": audit.IdempotencyStatusStarted, "last_error": nil}).Error
	}
}

func MarkClaimSucceeded(tx *gorm.DB, transactionId string) error {
	return tx.Model(&audit.IdempotencyKey{}).
		Where("transaction_id = ?", transactionId).
		Updates(map[string]interface{}{"status": audit.IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func MarkClaimFailed(tx *gorm.DB, transactionId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return tx.Model(&audit.IdempotencyKey{}).
		Where("transaction_id = ?", transactionId).
		Updates(map[string]interface{}{"status": audit.IdempotencyStatusFailed, "last_error": &msg}).Error
}

// RequestCancel sets the cooperative cancellation flag read at each step
// boundary.
func RequestCancel(tx *gorm.DB, transactionId string) error {
	return tx.Model(&audit.IdempotencyKey{}).
		Where("transaction_id = ?", transactionId).
		Update("cancel_requested", true).Error
}

func IsCancelRequested(tx *gorm.DB, transactionId string) (bool, error) {
	var key audit.IdempotencyKey
	if err := tx.Where("transaction_id = ?", transactionId).First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return key.CancelRequested, nil
}
