package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/remitmatch/cashapp-agent/cashapperr"
	"github.com/remitmatch/cashapp-agent/money"
)

// AuthMode enumerates the configurable auth strategies the generic adapter
// supports; any erp_systems[] entry not one of the three named variants
// (and any Odoo/Sage-shaped endpoint from the supplemented connector
// breadth) is just another AuthMode here.
type AuthMode string

const (
	AuthModeNone    AuthMode = "none"
	AuthModeAPIKey  AuthMode = "api_key"
	AuthModeBearer  AuthMode = "bearer"
)

// GenericConfig is one erp_systems[] entry for a non-named ERP variant.
type GenericConfig struct {
	System       string
	BaseURL      string
	AuthMode     AuthMode
	APIKey       string
	APIKeyHeader string
	BearerToken  string
}

// GenericAdapter is a configurable adapter driven by config, used by any
// ERP not one of the three named variants. It has no native
// idempotency-key support, so PostApplication does a read-detect-existing
// pass exactly like SAPAdapter.
type GenericAdapter struct {
	cfg  GenericConfig
	http *http.Client
}

func NewGenericAdapter(cfg GenericConfig) *GenericAdapter {
	return &GenericAdapter{cfg: cfg, http: &http.Client{Timeout: 30 * time.Second}}
}

func (a *GenericAdapter) ERPSystem() string { return a.cfg.System }

func (a *GenericAdapter) authorize(req *http.Request) {
	switch a.cfg.AuthMode {
	case AuthModeAPIKey:
		hdr := a.cfg.APIKeyHeader
		if hdr == "" {
			hdr = "X-API-Key"
		}
		req.Header.Set(hdr, a.cfg.APIKey)
	case AuthModeBearer:
		req.Header.Set("Authorization", "Bearer "+a.cfg.BearerToken)
	}
}

func (a *GenericAdapter) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, cashapperr.Wrap(cashapperr.KindValidation, "encode request", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, cashapperr.Wrap(cashapperr.KindERPTransient, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.authorize(req)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, cashapperr.Wrap(cashapperr.KindERPTransient, "generic erp request failed", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return raw, err
	}
	return raw, nil
}

type genericInvoice struct {
	InvoiceId  string `json:"invoice_id"`
	CustomerId string `json:"customer_id"`
	Original   string `json:"original_amount"`
	Due        string `json:"amount_due"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	DueDate    string `json:"due_date"`
	RecordId   string `json:"erp_record_id"`
}

func (a *GenericAdapter) FetchInvoices(ctx context.Context, invoiceIds []string, customerId string) ([]Invoice, []string, error) {
	raw, err := a.do(ctx, http.MethodPost, "/invoices/fetch", map[string]interface{}{"invoice_ids": invoiceIds, "customer_id": customerId})
	if err != nil {
		return nil, nil, err
	}
	var parsed struct {
		Invoices []genericInvoice `json:"invoices"`
		NotFound []string         `json:"not_found"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, cashapperr.Wrap(cashapperr.KindERPPermanent, "decode generic erp response", err)
	}
	found := make([]Invoice, 0, len(parsed.Invoices))
	for _, gi := range parsed.Invoices {
		var due *time.Time
		if gi.DueDate != "" {
			if t, err := time.Parse(time.RFC3339, gi.DueDate); err == nil {
				due = &t
			}
		}
		orig, _ := money.Parse(gi.Original)
		amt, _ := money.Parse(gi.Due)
		found = append(found, Invoice{
			InvoiceId: gi.InvoiceId, ERPSystem: a.cfg.System, CustomerId: gi.CustomerId,
			OriginalAmount: orig, AmountDue: amt, Currency: gi.Currency,
			Status: gi.Status, DueDate: due, ERPRecordId: gi.RecordId,
		})
	}
	return found, parsed.NotFound, nil
}

func (a *GenericAdapter) PostApplication(ctx context.Context, app Application) (PostResult, error) {
	if existing, ok, err := a.findExistingByReference(ctx, app.TransactionId); err != nil {
		return PostResult{}, err
	} else if ok {
		return existing, nil
	}
	raw, err := a.do(ctx, http.MethodPost, "/applications", map[string]interface{}{
		"reference_id": app.TransactionId,
		"customer_id":  app.CustomerId,
		"applications": app.Applications,
		"total_amount": app.TotalAmount.String(),
		"currency":     app.Currency,
	})
	if err != nil {
		return PostResult{}, err
	}
	var parsed struct{ ERPTransactionId string `json:"erp_transaction_id"` }
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return PostResult{}, cashapperr.Wrap(cashapperr.KindERPPermanent, "decode generic erp post response", err)
	}
	return PostResult{ERPTransactionId: parsed.ERPTransactionId, PostedAt: time.Now().UTC()}, nil
}

func (a *GenericAdapter) findExistingByReference(ctx context.Context, transactionId string) (PostResult, bool, error) {
	raw, err := a.do(ctx, http.MethodGet, "/applications?reference_id="+transactionId, nil)
	if err != nil {
		return PostResult{}, false, nil
	}
	var parsed struct{ ERPTransactionId string `json:"erp_transaction_id"` }
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.ERPTransactionId == "" {
		return PostResult{}, false, nil
	}
	return PostResult{ERPTransactionId: parsed.ERPTransactionId, PostedAt: time.Now().UTC(), Duplicate: true}, true, nil
}

func (a *GenericAdapter) TestConnection(ctx context.Context) (ConnectionStatus, error) {
	start := time.Now()
	raw, err := a.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return ConnectionStatus{}, err
	}
	var v struct{ Version string `json:"version"` }
	_ = json.Unmarshal(raw, &v)
	return ConnectionStatus{OK: true, LatencyMs: time.Since(start).Milliseconds(), Version: v.Version}, nil
}
