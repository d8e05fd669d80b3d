package orchestrator

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/remitmatch/cashapp-agent/audit"
)

// OutboxDispatcher performs the side effect staged in one outbox row. The
// Orchestrator is the only implementation in this module; the interface
// exists so OutboxDirectProcessor stays generic over what it's dispatching.
type OutboxDispatcher interface {
	Dispatch(ctx context.Context, kind string, payload []byte) error
}

const outboxKindWorkflowContinue = "workflow.continue"

type workflowContinuePayload struct {
	WorkflowId    string `json:"workflow_id"`
	TransactionId string `json:"transaction_id"`
}

// Dispatch implements OutboxDispatcher by resuming the named workflow on
// the scheduler, same as a fresh StartWorkflow call would, except it skips
// the claim (the row already proves a workflow was in flight).
func (o *Orchestrator) Dispatch(ctx context.Context, kind string, payload []byte) error {
	switch kind {
	case outboxKindWorkflowContinue:
		var p workflowContinuePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		txn, err := o.Store.GetTransaction(ctx, p.TransactionId)
		if err != nil {
			return err
		}
		if txn == nil {
			return ErrWorkflowNotFound
		}
		o.Scheduler.Enqueue(txn.SourceAccountRef, func(ctx context.Context) {
			o.runToCompletion(ctx, p.WorkflowId, p.TransactionId)
		})
		return nil
	default:
		return nil
	}
}

// OutboxDirectProcessor drains audit.OutboxEvent rows without a Pub/Sub
// broker in front of them. It generalizes the teacher's
// OutboxDirectProcessor (outbox_direct_processor.go) from the
// PubSubMessageRecord/ProcessMessage shape to this module's
// OutboxEvent/OutboxDispatcher shape, and adds exponential backoff with a
// DEAD terminal status once PublishAttempts reaches MaxAttempts — the
// teacher's version retried forever.
type OutboxDirectProcessor struct {
	Store      *audit.Store
	Dispatcher OutboxDispatcher
	Logger     *logrus.Logger
	WorkerID   string
	BatchSize  int
	Interval   time.Duration
	LockTTL    time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
}

func NewOutboxDirectProcessor(store *audit.Store, dispatcher OutboxDispatcher, logger *logrus.Logger) *OutboxDirectProcessor {
	return &OutboxDirectProcessor{
		Store:       store,
		Dispatcher:  dispatcher,
		Logger:      logger,
		WorkerID:    "direct-" + time.Now().UTC().Format("20060102-150405.000"),
		BatchSize:   50,
		Interval:    2 * time.Second,
		LockTTL:     30 * time.Second,
		MaxAttempts: 8,
		BaseBackoff: time.Second,
	}
}

// shouldRunDirectOutboxProcessor mirrors the teacher's safety-net default:
// run even when a real broker is configured, since direct processing is
// idempotent (DB-backed claim) and catches misconfigured delivery.
func shouldRunDirectOutboxProcessor() bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv("OUTBOX_DIRECT_PROCESSING")))
	switch val {
	case "true":
		return true
	case "false":
		return false
	default:
		return true
	}
}

func (p *OutboxDirectProcessor) Run(ctx context.Context) {
	if p == nil || p.Store == nil || !shouldRunDirectOutboxProcessor() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.processOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.Interval):
		}
	}
}

func (p *OutboxDirectProcessor) processOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-p.LockTTL)

	var claimed []audit.OutboxEvent
	err := p.Store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("is_processed = ?", false).
			Where("publish_status IN ?", []string{audit.OutboxPublishStatusPending, audit.OutboxPublishStatusFailed}).
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
			Order("id ASC").
			Limit(p.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &p.WorkerID
			if err := tx.Model(&audit.OutboxEvent{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"locked_at":      claimed[i].LockedAt,
					"locked_by":      claimed[i].LockedBy,
					"publish_status": audit.OutboxPublishStatusProcessing,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	for _, rec := range claimed {
		p.process(ctx, rec)
	}
}

func (p *OutboxDirectProcessor) process(ctx context.Context, rec audit.OutboxEvent) {
	dispatchErr := p.Dispatcher.Dispatch(ctx, rec.Kind, rec.Payload)
	if dispatchErr == nil {
		now := time.Now().UTC()
		_ = p.Store.DB.WithContext(ctx).Model(&audit.OutboxEvent{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"publish_status": audit.OutboxPublishStatusSent,
				"is_processed":   true,
				"locked_at":      nil,
				"locked_by":      nil,
				"published_at":   &now,
			}).Error
		return
	}

	attempts := rec.PublishAttempts + 1
	errMsg := dispatchErr.Error()
	updates := map[string]interface{}{
		"publish_attempts":   attempts,
		"last_publish_error": &errMsg,
		"locked_at":          nil,
		"locked_by":          nil,
	}
	if attempts >= p.MaxAttempts {
		updates["publish_status"] = audit.OutboxPublishStatusDead
	} else {
		next := time.Now().UTC().Add(p.backoff(attempts))
		updates["publish_status"] = audit.OutboxPublishStatusFailed
		updates["next_attempt_at"] = &next
	}
	_ = p.Store.DB.WithContext(ctx).Model(&audit.OutboxEvent{}).
		Where("id = ?", rec.ID).
		Updates(updates).Error

	if p.Logger != nil {
		p.Logger.WithFields(logrus.Fields{
			"module":           "orchestrator",
			"outbox_id":        rec.ID,
			"transaction_id":   rec.TransactionId,
			"kind":             rec.Kind,
			"publish_attempts": attempts,
		}).Error("outbox dispatch failed: " + errMsg)
	}
}

func (p *OutboxDirectProcessor) backoff(attempts int) time.Duration {
	base := p.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	d := base * time.Duration(math.Pow(2, float64(attempts-1)))
	max := 5 * time.Minute
	if d > max {
		d = max
	}
	return d
}
