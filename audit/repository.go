package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Store wraps one *gorm.DB and is the sole owner of persisted state for
// every entity in the module.
type Store struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewStore(db *gorm.DB, logger *logrus.Logger) *Store {
	return &Store{DB: db, Logger: logger}
}

// Migrate creates/updates all tables this package owns.
func (s *Store) Migrate() error {
	return s.DB.AutoMigrate(
		&PaymentTransaction{},
		&Invoice{},
		&MatchResult{},
		&InvoicePaymentMatch{},
		&DocumentParseResult{},
		&CommunicationEvent{},
		&AuditEvent{},
		&OutboxEvent{},
		&IdempotencyKey{},
	)
}

// EnsureAuditPartitioning issues best-effort monthly range-partition DDL for
// audit_log. Failure is logged, not fatal: not every MySQL instance (or
// managed offering) permits ALTER PARTITION, and the append-only invariant
// does not depend on it.
func (s *Store) EnsureAuditPartitioning() {
	ddl := `ALTER TABLE audit_events PARTITION BY RANGE (TO_DAYS(ts)) (
		PARTITION p_start VALUES LESS THAN (TO_DAYS('2024-01-01'))
	)`
	if err := s.DB.Exec(ddl).Error; err != nil {
		if s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{"module": "audit"}).
				Warnf("audit partitioning not applied (non-fatal): %v", err)
		}
	}
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// ClaimTransaction atomically claims a transaction_id for processing.
// Subsequent calls with the same id observe the already-claimed status
// instead of racing a second workflow into existence.
func (s *Store) ClaimTransaction(ctx context.Context, tx *PaymentTransaction) (claimed bool, existing *PaymentTransaction, err error) {
	err = s.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Set("gorm:query_option", "").Exec("SET TRANSACTION ISOLATION LEVEL SERIALIZABLE").Error; err != nil {
			// Not all MySQL configurations (e.g. already-open XA) allow changing
			// isolation mid-session; fall back to the connection default rather
			// than fail the claim.
		}

		tx.ProcessingStatus = StatusProcessing
		createErr := db.Create(tx).Error
		if createErr == nil {
			claimed = true
			return nil
		}
		if !isDuplicateKeyErr(createErr) {
			return createErr
		}

		var found PaymentTransaction
		if err := db.Where("transaction_id = ?", tx.TransactionId).First(&found).Error; err != nil {
			return err
		}
		existing = &found
		claimed = false
		return nil
	})
	return claimed, existing, err
}

// RecordMatch atomically writes a MatchResult and its InvoicePaymentMatch
// children, and transitions the owning transaction to its terminal status.
func (s *Store) RecordMatch(ctx context.Context, transactionId string, terminalStatus ProcessingStatus, result *MatchResult, matches []InvoicePaymentMatch) error {
	return s.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Create(result).Error; err != nil {
			return err
		}
		for i := range matches {
			matches[i].MatchResultId = result.ID
		}
		if len(matches) > 0 {
			if err := db.Create(&matches).Error; err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		return db.Model(&PaymentTransaction{}).
			Where("transaction_id = ?", transactionId).
			Updates(map[string]interface{}{
				"processing_status": terminalStatus,
				"processed_at":      &now,
			}).Error
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// RecordCommunication persists one communication attempt.
func (s *Store) RecordCommunication(ctx context.Context, event *CommunicationEvent) error {
	return s.DB.WithContext(ctx).Create(event).Error
}

// AppendAudit inserts an AuditEvent and returns its assigned sequence
// number. No Update/Delete path against AuditEvent exists in this package.
func (s *Store) AppendAudit(ctx context.Context, event *AuditEvent) (uint64, error) {
	if err := s.DB.WithContext(ctx).Create(event).Error; err != nil {
		return 0, err
	}
	return event.Seq, nil
}

// AuditFilter restricts QueryAudit results.
type AuditFilter struct {
	TransactionId string
	EventType     string
	Since         *time.Time
	Limit         int
}

func (s *Store) QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	q := s.DB.WithContext(ctx).Model(&AuditEvent{}).Order("seq ASC")
	if filter.TransactionId != "" {
		q = q.Where("transaction_id = ?", filter.TransactionId)
	}
	if filter.EventType != "" {
		q = q.Where("event_type = ?", filter.EventType)
	}
	if filter.Since != nil {
		q = q.Where("ts >= ?", *filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var events []AuditEvent
	if err := q.Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// TransactionFilter restricts QueryTransactions results.
type TransactionFilter struct {
	SourceAccountRef string
	Status           ProcessingStatus
	Limit            int
}

func (s *Store) QueryTransactions(ctx context.Context, filter TransactionFilter) ([]PaymentTransaction, error) {
	q := s.DB.WithContext(ctx).Model(&PaymentTransaction{}).Order("created_at DESC")
	if filter.SourceAccountRef != "" {
		q = q.Where("source_account_ref = ?", filter.SourceAccountRef)
	}
	if filter.Status != "" {
		q = q.Where("processing_status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var txns []PaymentTransaction
	if err := q.Limit(limit).Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// GetTransaction fetches a single transaction by id.
func (s *Store) GetTransaction(ctx context.Context, transactionId string) (*PaymentTransaction, error) {
	var txn PaymentTransaction
	if err := s.DB.WithContext(ctx).Where("transaction_id = ?", transactionId).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// ReconcileInFlight implements the crash-recovery sweep from §7: workflows
// past the Post step are finalized, those before it are restarted from Claim.
// The caller supplies restart/finalize callbacks so this package doesn't
// depend on orchestrator.
func (s *Store) ReconcileInFlight(ctx context.Context, pastPost func(PaymentTransaction) bool, restart func(PaymentTransaction) error, finalize func(PaymentTransaction) error) (int, error) {
	var stuck []PaymentTransaction
	if err := s.DB.WithContext(ctx).Where("processing_status = ?", StatusProcessing).Find(&stuck).Error; err != nil {
		return 0, err
	}
	count := 0
	for _, t := range stuck {
		var err error
		if pastPost(t) {
			err = finalize(t)
		} else {
			err = restart(t)
		}
		if err != nil {
			return count, fmt.Errorf("reconcile transaction_id=%s: %w", t.TransactionId, err)
		}
		count++
	}
	return count, nil
}
