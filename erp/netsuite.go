package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/remitmatch/cashapp-agent/cashapperr"
	"github.com/remitmatch/cashapp-agent/money"
	"golang.org/x/oauth2/clientcredentials"
)

// NetSuiteAdapter authenticates via OAuth2 client-credentials, token cached
// and auto-refreshed by the oauth2 transport.
type NetSuiteAdapter struct {
	baseURL string
	http    *http.Client
}

func NewNetSuiteAdapter(baseURL, tokenURL, clientID, clientSecret string, scopes []string) *NetSuiteAdapter {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return &NetSuiteAdapter{
		baseURL: baseURL,
		http:    cfg.Client(context.Background()),
	}
}

func (a *NetSuiteAdapter) ERPSystem() string { return "netsuite" }

type netsuiteInvoice struct {
	InvoiceId      string `json:"invoiceId"`
	CustomerId     string `json:"customerId"`
	OriginalAmount string `json:"originalAmount"`
	AmountDue      string `json:"amountDue"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	DueDate        string `json:"dueDate"`
	RecordId       string `json:"internalId"`
}

func (a *NetSuiteAdapter) FetchInvoices(ctx context.Context, invoiceIds []string, customerId string) ([]Invoice, []string, error) {
	body, _ := json.Marshal(map[string]interface{}{"invoiceIds": invoiceIds, "customerId": customerId})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/invoices/search", bytes.NewReader(body))
	if err != nil {
		return nil, nil, cashapperr.Wrap(cashapperr.KindERPTransient, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, nil, cashapperr.Wrap(cashapperr.KindERPTransient, "netsuite request failed", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return nil, nil, err
	}

	var parsed struct {
		Invoices []netsuiteInvoice `json:"invoices"`
		NotFound []string          `json:"notFound"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, cashapperr.Wrap(cashapperr.KindERPPermanent, "decode netsuite response", err)
	}

	found := make([]Invoice, 0, len(parsed.Invoices))
	for _, ni := range parsed.Invoices {
		found = append(found, toInvoice(ni, "netsuite"))
	}
	return found, parsed.NotFound, nil
}

func (a *NetSuiteAdapter) PostApplication(ctx context.Context, app Application) (PostResult, error) {
	payload := map[string]interface{}{
		"idempotencyKey": app.TransactionId,
		"customerId":     app.CustomerId,
		"applications":   app.Applications,
		"totalAmount":    app.TotalAmount.String(),
		"currency":       app.Currency,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/payments/apply", bytes.NewReader(body))
	if err != nil {
		return PostResult{}, cashapperr.Wrap(cashapperr.KindERPTransient, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", app.TransactionId)

	resp, err := a.http.Do(req)
	if err != nil {
		return PostResult{}, cashapperr.Wrap(cashapperr.KindERPTransient, "netsuite post failed", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusConflict {
		var dup struct {
			ERPTransactionId string `json:"erpTransactionId"`
		}
		_ = json.Unmarshal(raw, &dup)
		return PostResult{ERPTransactionId: dup.ERPTransactionId, PostedAt: time.Now().UTC(), Duplicate: true}, nil
	}
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return PostResult{}, err
	}

	var parsed struct {
		ERPTransactionId string `json:"erpTransactionId"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return PostResult{}, cashapperr.Wrap(cashapperr.KindERPPermanent, "decode netsuite post response", err)
	}
	return PostResult{ERPTransactionId: parsed.ERPTransactionId, PostedAt: time.Now().UTC()}, nil
}

func (a *NetSuiteAdapter) TestConnection(ctx context.Context) (ConnectionStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return ConnectionStatus{}, cashapperr.Wrap(cashapperr.KindERPTransient, "build health request", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return ConnectionStatus{}, cashapperr.Wrap(cashapperr.KindERPTransient, "netsuite health check failed", err)
	}
	defer resp.Body.Close()
	latency := time.Since(start).Milliseconds()
	raw, _ := io.ReadAll(resp.Body)
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return ConnectionStatus{LatencyMs: latency}, err
	}
	var v struct{ Version string `json:"version"` }
	_ = json.Unmarshal(raw, &v)
	return ConnectionStatus{OK: true, LatencyMs: latency, Version: v.Version}, nil
}

func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return cashapperr.New(cashapperr.KindERPTransient, fmt.Sprintf("erp returned %d: %s", status, truncate(body)))
	}
	if status == http.StatusConflict {
		return cashapperr.New(cashapperr.KindDuplicatePayment, fmt.Sprintf("erp returned %d: %s", status, truncate(body)))
	}
	return cashapperr.New(cashapperr.KindERPPermanent, fmt.Sprintf("erp returned %d: %s", status, truncate(body)))
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func toInvoice(ni netsuiteInvoice, erpSystem string) Invoice {
	var due *time.Time
	if ni.DueDate != "" {
		if t, err := time.Parse(time.RFC3339, ni.DueDate); err == nil {
			due = &t
		}
	}
	orig, _ := money.Parse(ni.OriginalAmount)
	amt, _ := money.Parse(ni.AmountDue)
	return Invoice{
		InvoiceId:      ni.InvoiceId,
		ERPSystem:      erpSystem,
		CustomerId:     ni.CustomerId,
		OriginalAmount: orig,
		AmountDue:      amt,
		Currency:       ni.Currency,
		Status:         ni.Status,
		DueDate:        due,
		ERPRecordId:    ni.RecordId,
	}
}
