package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/remitmatch/cashapp-agent/audit"
	"github.com/remitmatch/cashapp-agent/config"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxPubSubDispatcher polls outbox_events for rows staged through
// StageOutboxEvent and publishes them to Pub/Sub,
// generalizing the teacher's OutboxPubSubDispatcher from accounting-journal
// publishes to workflow messages.
type OutboxPubSubDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxPubSubDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxPubSubDispatcher {
	return &OutboxPubSubDispatcher{
		DB:             db,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *OutboxPubSubDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *OutboxPubSubDispatcher) dispatchOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)
	db := d.DB
	if db == nil {
		return
	}

	var claimed []audit.OutboxEvent
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("is_processed = 0").
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{audit.OutboxPublishStatusPending, audit.OutboxPublishStatusFailed}, now, audit.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = audit.OutboxPublishStatusDead
				if err := tx.Model(&audit.OutboxEvent{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":      audit.OutboxPublishStatusDead,
					"last_publish_error":  &msg,
					"next_attempt_at":     nil,
					"locked_at":           nil,
					"locked_by":           nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].PublishStatus = audit.OutboxPublishStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &d.DispatcherID
			if err := tx.Model(&audit.OutboxEvent{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":      claimed[i].PublishStatus,
				"locked_at":           claimed[i].LockedAt,
				"locked_by":           claimed[i].LockedBy,
				"publish_attempts":    gorm.Expr("publish_attempts + 1"),
				"last_publish_error":  nil,
				"next_attempt_at":     nil,
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
		if rec.PublishStatus == audit.OutboxPublishStatusDead {
			continue
		}
		msg := config.WorkflowMessage{
			TransactionId: rec.TransactionId,
			Step:          rec.Kind,
			CorrelationId: rec.CorrelationId,
			EnqueuedAt:    now,
			Payload:       rec.Payload,
		}
		pubID, pubErr := config.PublishWorkflowMessageWithResult(ctx, rec.TransactionId, msg)
		if pubErr != nil {
			d.markPublishFailed(ctx, rec.ID, rec.TransactionId, pubErr, rec.PublishAttempts+1)
			continue
		}
		d.markPublishSent(ctx, rec.ID, rec.TransactionId, pubID, now)
	}
}

func (d *OutboxPubSubDispatcher) markPublishSent(ctx context.Context, recordID int, transactionId string, pubsubMsgID string, now time.Time) {
	db := d.DB.WithContext(ctx)
	id := pubsubMsgID
	_ = db.Model(&audit.OutboxEvent{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"publish_status":      audit.OutboxPublishStatusSent,
			"published_at":        &now,
			"pub_sub_message_id":  &id,
			"locked_at":           nil,
			"locked_by":           nil,
			"next_attempt_at":     nil,
			"is_processed":        true,
		}).Error
}

func (d *OutboxPubSubDispatcher) markPublishFailed(ctx context.Context, recordID int, transactionId string, err error, attempt int) {
	db := d.DB.WithContext(ctx)
	now := time.Now().UTC()
	msg := err.Error()

	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		_ = db.Model(&audit.OutboxEvent{}).
			Where("id = ?", recordID).
			Updates(map[string]interface{}{
				"publish_status":     audit.OutboxPublishStatusDead,
				"last_publish_error": &msg,
				"next_attempt_at":    nil,
				"locked_at":          nil,
				"locked_by":          nil,
			}).Error

		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"module":         "orchestrator",
				"transaction_id": transactionId,
				"record_id":      recordID,
				"attempt":        attempt,
			}).Error("outbox publish moved to DEAD after max attempts: " + err.Error())
		}
		return
	}

	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > time.Minute*10 {
			backoff = time.Minute * 10
			break
		}
	}
	next := now.Add(backoff)
	_ = db.Model(&audit.OutboxEvent{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"publish_status":     audit.OutboxPublishStatusFailed,
			"last_publish_error": &msg,
			"next_attempt_at":    &next,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error

	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"module":          "orchestrator",
			"transaction_id":  transactionId,
			"record_id":       recordID,
			"attempt":         attempt,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Error("outbox publish failed: " + err.Error())
	}
}

// StageOutboxEvent writes a durable row inside the caller's transaction
// without publishing. Publishing happens asynchronously after commit, via
// OutboxPubSubDispatcher or OutboxDirectProcessor — this is the transactional
// outbox pattern that makes "claim succeeded but publish crashed" unobservable.
func StageOutboxEvent(tx *gorm.DB, transactionId, kind, correlationId string, payload []byte) error {
	return tx.Create(&audit.OutboxEvent{
		TransactionId: transactionId,
		Kind:          kind,
		Payload:       payload,
		PublishStatus: audit.OutboxPublishStatusPending,
		CorrelationId: correlationId,
	}).Error
}
