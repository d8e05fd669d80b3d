package httpapi

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// startWorkflowRequest is the wire shape for POST /workflows/cash-application/start.
type startWorkflowRequest struct {
	TransactionId      string          `json:"transaction_id" binding:"required"`
	SourceAccountRef   string          `json:"source_account_ref" binding:"required"`
	Amount             decimal.Decimal `json:"amount" binding:"required"`
	Currency           string          `json:"currency" binding:"required,len=3"`
	ValueDate          time.Time       `json:"value_date" binding:"required"`
	RawRemittanceData  string          `json:"raw_remittance_data"`
	CustomerIdentifier *string         `json:"customer_identifier,omitempty"`
	DocumentURIs       []string        `json:"associated_document_uris,omitempty"`
}

type startWorkflowResponse struct {
	WorkflowId    string `json:"workflow_id"`
	TransactionId string `json:"transaction_id"`
}

type cancelResponse struct {
	TransactionId string `json:"transaction_id"`
	Cancelled     bool   `json:"cancelled"`
}

// extractRequest is the wire shape for POST /extract, a diagnostic entry
// point into the Extractor independent of a full workflow.
type extractRequest struct {
	DocumentURIs        []string `json:"document_uris"`
	RemittanceText      string   `json:"remittance_text"`
	ClientId            string   `json:"client_id"`
	TierPreference      string   `json:"tier_preference,omitempty" binding:"omitempty,oneof=auto pattern layout cloud"`
	ConfidenceThreshold float64  `json:"confidence_threshold,omitempty" binding:"omitempty,min=0,max=1"`
}

// fetchInvoicesBody is the wire shape for POST /invoices/fetch.
type fetchInvoicesBody struct {
	InvoiceIds []string `json:"invoice_ids" binding:"required,min=1"`
	ERPSystem  string   `json:"erp_system" binding:"required"`
	CustomerId string   `json:"customer_id"`
}

// postApplicationBody is the wire shape for POST /applications: a manual
// override of what the Orchestrator would otherwise post autonomously.
type postApplicationBody struct {
	TransactionId string                  `json:"transaction_id" binding:"required"`
	CustomerId    string                  `json:"customer_id" binding:"required"`
	ERPSystem     string                  `json:"erp_system" binding:"required"`
	Currency      string                  `json:"currency" binding:"required,len=3"`
	TotalAmount   decimal.Decimal         `json:"total_amount" binding:"required"`
	Applications  []postApplicationLine   `json:"applications" binding:"required,min=1,dive"`
}

type postApplicationLine struct {
	InvoiceId     string          `json:"invoice_id" binding:"required"`
	AmountApplied decimal.Decimal `json:"amount_applied" binding:"required"`
}

// notificationBody is the wire shape for POST /notifications: an ad hoc
// dispatch of a registered template, used for resends and manual alerts.
type notificationBody struct {
	Kind          string                 `json:"kind" binding:"required,oneof=CustomerClarification InternalAlert Confirmation"`
	Recipient     string                 `json:"recipient" binding:"required"`
	TemplateName  string                 `json:"template_name" binding:"required"`
	Data          map[string]interface{} `json:"data"`
	TransactionId *string                `json:"transaction_id,omitempty"`
}

// fieldErrors converts validator.ValidationErrors into a field->tag map,
// the same shape the teacher's ProcessValidationErrors produces.
func fieldErrors(err error) map[string]string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, v := range verrs {
		out[v.Field()] = v.Tag()
	}
	return out
}
