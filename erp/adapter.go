// Package erp is the ERP Facade: one Adapter interface, a registry keyed by
// erp_system (tagged-variant dispatch, not inheritance), shared retry,
// per-customer locking, and bounded connection pooling.
package erp

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is what FetchInvoices returns for one ERP record.
type Invoice struct {
	InvoiceId      string          `json:"invoice_id"`
	ERPSystem      string          `json:"erp_system"`
	CustomerId     string          `json:"customer_id"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	AmountDue      decimal.Decimal `json:"amount_due"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	ERPRecordId    string          `json:"erp_record_id"`
}

// Application is PostApplication's request shape.
type Application struct {
	TransactionId string            `json:"transaction_id"` // idempotency key
	CustomerId    string            `json:"customer_id"`
	ERPSystem     string            `json:"erp_system"`
	Applications  []LineApplication `json:"applications"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	Currency      string            `json:"currency"`
}

type LineApplication struct {
	InvoiceId     string          `json:"invoice_id"`
	AmountApplied decimal.Decimal `json:"amount_applied"`
}

type PostResult struct {
	ERPTransactionId string    `json:"erp_transaction_id"`
	PostedAt         time.Time `json:"posted_at"`
	Duplicate        bool      `json:"duplicate"` // true when a prior posting for TransactionId was detected and returned instead
}

type ConnectionStatus struct {
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
	Version   string `json:"version"`
}

// Adapter is the uniform contract every ERP variant satisfies.
type Adapter interface {
	ERPSystem() string
	FetchInvoices(ctx context.Context, invoiceIds []string, customerId string) (found []Invoice, notFound []string, err error)
	PostApplication(ctx context.Context, app Application) (PostResult, error)
	TestConnection(ctx context.Context) (ConnectionStatus, error)
}
