// Package audit is the system's single persisted-state owner: every other
// component holds transient in-memory views only.
package audit

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProcessingStatus string

const (
	StatusPending          ProcessingStatus = "Pending"
	StatusProcessing       ProcessingStatus = "Processing"
	StatusMatched          ProcessingStatus = "Matched"
	StatusPartiallyMatched ProcessingStatus = "PartiallyMatched"
	StatusUnmatched        ProcessingStatus = "Unmatched"
	StatusRequiresReview   ProcessingStatus = "RequiresReview"
	StatusError            ProcessingStatus = "Error"
)

func (s ProcessingStatus) Terminal() bool {
	switch s {
	case StatusMatched, StatusPartiallyMatched, StatusUnmatched, StatusRequiresReview, StatusError:
		return true
	default:
		return false
	}
}

type InvoiceStatus string

const (
	InvoiceStatusOpen     InvoiceStatus = "Open"
	InvoiceStatusClosed   InvoiceStatus = "Closed"
	InvoiceStatusDisputed InvoiceStatus = "Disputed"
	InvoiceStatusOverdue  InvoiceStatus = "Overdue"
)

type DiscrepancyCode string

const (
	DiscrepancyNone            DiscrepancyCode = "None"
	DiscrepancyShortPayment    DiscrepancyCode = "ShortPayment"
	DiscrepancyOverPayment     DiscrepancyCode = "OverPayment"
	DiscrepancyInvalidInvoice  DiscrepancyCode = "InvalidInvoice"
	DiscrepancyCurrencyMismatch DiscrepancyCode = "CurrencyMismatch"
	DiscrepancyDuplicatePayment DiscrepancyCode = "DuplicatePayment"
)

type CommunicationKind string

const (
	CommKindCustomerClarification CommunicationKind = "CustomerClarification"
	CommKindInternalAlert         CommunicationKind = "InternalAlert"
	CommKindConfirmation          CommunicationKind = "Confirmation"
)

type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "Queued"
	DeliverySent      DeliveryStatus = "Sent"
	DeliveryDelivered DeliveryStatus = "Delivered"
	DeliveryFailed    DeliveryStatus = "Failed"
)

// PaymentTransaction is the unit of work the Orchestrator claims exactly once.
type PaymentTransaction struct {
	TransactionId      string           `gorm:"primaryKey;size:128" json:"transaction_id" binding:"required"`
	SourceAccountRef   string           `gorm:"size:128;not null;index" json:"source_account_ref" binding:"required"`
	Amount             decimal.Decimal  `gorm:"type:decimal(20,2);not null" json:"amount" binding:"required"`
	Currency           string           `gorm:"size:3;not null" json:"currency" binding:"required,len=3"`
	ValueDate          time.Time        `gorm:"not null" json:"value_date" binding:"required"`
	RawRemittanceData  string           `gorm:"type:text" json:"raw_remittance_data"`
	CustomerIdentifier *string          `gorm:"size:128" json:"customer_identifier,omitempty"`
	DocumentURIs        StringSlice      `gorm:"type:text" json:"associated_document_uris,omitempty"`
	ProcessingStatus    ProcessingStatus `gorm:"size:32;not null;index" json:"processing_status"`
	WorkflowId          string           `gorm:"size:64;index" json:"workflow_id,omitempty"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	ProcessedAt         *time.Time       `json:"processed_at,omitempty"`
}

// Invoice is an advisory snapshot. The ERP remains system of record.
type Invoice struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	InvoiceId      string          `gorm:"size:128;not null;uniqueIndex:uniq_invoice_erp" json:"invoice_id"`
	ERPSystem      string          `gorm:"size:64;not null;uniqueIndex:uniq_invoice_erp" json:"erp_system"`
	CustomerId     string          `gorm:"size:128;index" json:"customer_id"`
	OriginalAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"original_amount"`
	AmountDue      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount_due"`
	Currency       string          `gorm:"size:3;not null" json:"currency"`
	Status         InvoiceStatus   `gorm:"size:16;not null" json:"status"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	ERPRecordId    string          `gorm:"size:128" json:"erp_record_id"`
	FetchedAt      time.Time       `json:"fetched_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// MatchResult is written once per completed matching attempt for a transaction.
type MatchResult struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	TransactionId       string          `gorm:"size:128;not null;index" json:"transaction_id"`
	Status              ProcessingStatus `gorm:"size:32;not null" json:"status"`
	UnappliedAmount     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"unapplied_amount"`
	DiscrepancyCode     DiscrepancyCode `gorm:"size:32;not null" json:"discrepancy_code"`
	Confidence          float64         `json:"confidence"`
	AlgorithmVersion    string          `gorm:"size:32;not null" json:"algorithm_version"`
	LogEntry            string          `gorm:"type:text" json:"log_entry"`
	RequiresHumanReview bool            `json:"requires_human_review"`
	ProcessingTimeMs    int64           `json:"processing_time_ms"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`

	Matches []InvoicePaymentMatch `gorm:"foreignKey:MatchResultId" json:"matches,omitempty"`
}

// InvoicePaymentMatch relates a MatchResult to an Invoice with the amount applied.
type InvoicePaymentMatch struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	MatchResultId     uint            `gorm:"not null;uniqueIndex:uniq_match_invoice" json:"match_result_id"`
	InvoiceId         string          `gorm:"size:128;not null;uniqueIndex:uniq_match_invoice" json:"invoice_id"`
	ExternalInvoiceId string          `gorm:"size:128" json:"external_invoice_id"`
	AmountApplied     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount_applied"`
}

// DocumentParseResult is the Extractor's per-call record, retained for audit
// traceability but not queried by the Matcher.
type DocumentParseResult struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	TransactionId      string    `gorm:"size:128;index" json:"transaction_id"`
	ExtractedInvoiceIds StringSlice `gorm:"type:text" json:"extracted_invoice_ids"`
	Confidence         float64   `json:"confidence"`
	TierUsed           string    `gorm:"size:16" json:"tier_used"`
	CostEstimate       decimal.Decimal `gorm:"type:decimal(10,4)" json:"cost_estimate"`
	ProcessingTimeMs   int64     `json:"processing_time_ms"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// CommunicationEvent records every dispatch attempt, successful or not.
type CommunicationEvent struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	TransactionId *string           `gorm:"size:128;index" json:"transaction_id,omitempty"`
	Kind          CommunicationKind `gorm:"size:32;not null" json:"kind"`
	TemplateName  string            `gorm:"size:128;not null" json:"template_name"`
	Recipient     string            `gorm:"size:256;not null" json:"recipient"`
	Payload       JSONMap           `gorm:"type:json" json:"payload"`
	DeliveryStatus DeliveryStatus   `gorm:"size:16;not null" json:"delivery_status"`
	Error         *string           `gorm:"type:text" json:"error,omitempty"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
}

// AuditEvent is append-only: no Update/Delete call against it exists anywhere
// in the codebase. seq is the MySQL auto-increment primary key, which is
// monotonic and never decreasing.
type AuditEvent struct {
	Seq           uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	Ts            time.Time `gorm:"autoCreateTime" json:"ts"`
	EventType     string    `gorm:"size:64;not null;index" json:"event_type"`
	Source        string    `gorm:"size:64;not null" json:"source"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	TransactionId *string   `gorm:"size:128;index" json:"transaction_id,omitempty"`
	Data          JSONMap   `gorm:"type:json" json:"data"`
}

// OutboxEvent stages transitions that must survive a crash between "decided"
// and "dispatched" — ERP posts, communications, workflow step continuations.
// Mirrors the teacher's PubSubMessageRecord.
type OutboxEvent struct {
	ID                int        `gorm:"primaryKey" json:"id"`
	TransactionId     string     `gorm:"size:128;not null;index" json:"transaction_id"`
	Kind              string     `gorm:"size:64;not null" json:"kind"`
	Payload           []byte     `gorm:"type:longtext" json:"payload"`
	PublishStatus     string     `gorm:"size:16;not null;index" json:"publish_status"`
	PublishAttempts   int        `gorm:"not null;default:0" json:"publish_attempts"`
	LockedAt          *time.Time `json:"locked_at,omitempty"`
	LockedBy          *string    `gorm:"size:64" json:"locked_by,omitempty"`
	NextAttemptAt     *time.Time `json:"next_attempt_at,omitempty"`
	LastPublishError  *string    `gorm:"type:text" json:"last_publish_error,omitempty"`
	PubSubMessageId   *string    `gorm:"size:128" json:"pub_sub_message_id,omitempty"`
	IsProcessed       bool       `gorm:"not null;default:false" json:"is_processed"`
	CorrelationId     string     `gorm:"size:64" json:"correlation_id"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
}

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// IdempotencyKey gives the Orchestrator's Claim step durable, DB-backed
// idempotency, keyed on transaction_id alone (handler name fixed to
// "cash-application").
type IdempotencyKey struct {
	ID            int       `gorm:"primaryKey" json:"id"`
	TransactionId string    `gorm:"size:128;not null;uniqueIndex" json:"transaction_id"`
	HandlerName   string    `gorm:"size:100;not null" json:"handler_name"`
	WorkflowId    string    `gorm:"size:64;not null" json:"workflow_id"`
	Status        string    `gorm:"size:20;not null;index" json:"status"`
	LastError     *string   `gorm:"type:text" json:"last_error,omitempty"`
	CancelRequested bool    `gorm:"not null;default:false" json:"cancel_requested"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

const (
	IdempotencyStatusStarted   = "STARTED"
	IdempotencyStatusSucceeded = "SUCCEEDED"
	IdempotencyStatusFailed    = "FAILED"
)
