// Package extractor is the Extractor capability: a cost-tiered cascade
// (pattern, layout, cloud) that turns remittance text and document bytes
// into candidate invoice identifiers with a confidence score.
package extractor

import (
	"context"
	"time"
)

type TierPreference string

const (
	TierAuto    TierPreference = "Auto"
	TierPattern TierPreference = "Pattern"
	TierLayout  TierPreference = "Layout"
	TierCloud   TierPreference = "Cloud"
)

type Request struct {
	DocumentURIs        []string       `json:"document_uris,omitempty"`
	RemittanceText      string         `json:"remittance_text,omitempty"`
	ClientId            string         `json:"client_id,omitempty"`
	TierPreference      TierPreference `json:"tier_preference,omitempty"`
	ConfidenceThreshold float64        `json:"confidence_threshold,omitempty"`
}

type PerDocumentResult struct {
	URI        string   `json:"uri"`
	InvoiceIds []string `json:"invoice_ids,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type Result struct {
	InvoiceIds       []string            `json:"invoice_ids"`
	Confidence       float64             `json:"confidence"`
	TierUsed         TierPreference      `json:"tier_used"`
	CostEstimate     float64             `json:"cost_estimate"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
	PerDocument      []PerDocumentResult `json:"per_document,omitempty"`
}

// OCRReader is the capability an extractor deployment injects for the
// layout tier. A real implementation wraps a vision/OCR service; tests
// inject a stub that returns canned text.
type OCRReader interface {
	ExtractText(ctx context.Context, documentBytes []byte) (string, error)
}

// LayoutModel is the layout-aware tier's capability interface. The shipped
// implementation normalizes document bytes and delegates text extraction to
// an injected OCRReader before re-running the pattern table against the
// recognized text.
type LayoutModel interface {
	Extract(ctx context.Context, documentBytes []byte) (ids []string, confidence float64, err error)
}

// CloudFormRecognizer is the cloud tier's capability interface, called
// through retryOnTimeout, which retries only timed-out attempts.
type CloudFormRecognizer interface {
	Extract(ctx context.Context, documentBytes []byte, remittanceText string) (ids []string, confidence float64, costEstimate float64, err error)
}

// DocumentFetcher retrieves raw bytes for a document_uri. The shipped
// implementation (GCSFetcher) only accepts gs:// URIs via Cloud Storage and
// rejects any other scheme itself with a validation error.
type DocumentFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

func nowMs() int64 { return time.Now().UnixMilli() }
