package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/remitmatch/cashapp-agent/cashapperr"
	"github.com/remitmatch/cashapp-agent/money"
)

// QuickBooksAdapter uses API-key header auth with a tick-based rate limiter,
// modeled directly on the teacher's pitixsync client.
type QuickBooksAdapter struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func NewQuickBooksAdapter(baseURL, apiKey, apiKeyHeader string, ratePerMinute int) *QuickBooksAdapter {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	interval := time.Minute / time.Duration(ratePerMinute)
	return &QuickBooksAdapter{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}
}

func (a *QuickBooksAdapter) ERPSystem() string { return "quickbooks" }

type qbInvoice struct {
	Id          string `json:"Id"`
	CustomerRef string `json:"CustomerRef"`
	TotalAmt    string `json:"TotalAmt"`
	Balance     string `json:"Balance"`
	CurrencyRef string `json:"CurrencyRef"`
	DueDate     string `json:"DueDate"`
}

type qbListResponse struct {
	Invoices   []qbInvoice `json:"invoices"`
	NotFound   []string    `json:"not_found"`
	NextCursor string      `json:"next_cursor"`
	HasMore    *bool       `json:"has_more"`
}

func (a *QuickBooksAdapter) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	<-a.limiter
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, cashapperr.Wrap(cashapperr.KindValidation, "encode request", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, cashapperr.Wrap(cashapperr.KindERPTransient, "build request", err)
	}
	req.Header.Set(a.apiKeyHdr, a.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, cashapperr.Wrap(cashapperr.KindERPTransient, "quickbooks request failed", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return raw, err
	}
	return raw, nil
}

func (a *QuickBooksAdapter) FetchInvoices(ctx context.Context, invoiceIds []string, customerId string) ([]Invoice, []string, error) {
	var all []Invoice
	var notFound []string
	cursor := ""
	for {
		path := "/v3/invoices/search"
		body := map[string]interface{}{"invoice_ids": invoiceIds, "customer_id": customerId, "cursor": cursor}
		raw, err := a.do(ctx, http.MethodPost, path, body)
		if err != nil {
			return nil, nil, err
		}
		var parsed qbListResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, nil, cashapperr.Wrap(cashapperr.KindERPPermanent, "decode quickbooks response", err)
		}
		for _, qi := range parsed.Invoices {
			var due *time.Time
			if qi.DueDate != "" {
				if t, err := time.Parse(time.RFC3339, qi.DueDate); err == nil {
					due = &t
				}
			}
			orig, _ := money.Parse(qi.TotalAmt)
			amt, _ := money.Parse(qi.Balance)
			all = append(all, Invoice{
				InvoiceId: qi.Id, ERPSystem: "quickbooks", CustomerId: qi.CustomerRef,
				OriginalAmount: orig, AmountDue: amt, Currency: qi.CurrencyRef,
				Status: "Open", DueDate: due, ERPRecordId: qi.Id,
			})
		}
		notFound = append(notFound, parsed.NotFound...)
		if parsed.HasMore == nil || !*parsed.HasMore || parsed.NextCursor == "" {
			break
		}
		cursor = parsed.NextCursor
	}
	return all, notFound, nil
}

func (a *QuickBooksAdapter) PostApplication(ctx context.Context, app Application) (PostResult, error) {
	body := map[string]interface{}{
		"idempotency_key": app.TransactionId,
		"customer_id":     app.CustomerId,
		"applications":    app.Applications,
		"total_amount":    app.TotalAmount.String(),
		"currency":        app.Currency,
	}
	raw, err := a.do(ctx, http.MethodPost, "/v3/payments/apply", body)
	if err != nil {
		if cerr, ok := cashapperr.AsError(err); ok && cerr.Kind == cashapperr.KindDuplicatePayment {
			var dup struct{ ERPTransactionId string `json:"erp_transaction_id"` }
			_ = json.Unmarshal(raw, &dup)
			return PostResult{ERPTransactionId: dup.ERPTransactionId, PostedAt: time.Now().UTC(), Duplicate: true}, nil
		}
		return PostResult{}, err
	}
	var parsed struct{ ERPTransactionId string `json:"erp_transaction_id"` }
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return PostResult{}, cashapperr.Wrap(cashapperr.KindERPPermanent, "decode quickbooks post response", err)
	}
	return PostResult{ERPTransactionId: parsed.ERPTransactionId, PostedAt: time.Now().UTC()}, nil
}

func (a *QuickBooksAdapter) TestConnection(ctx context.Context) (ConnectionStatus, error) {
	start := time.Now()
	raw, err := a.do(ctx, http.MethodGet, "/v3/health", nil)
	if err != nil {
		return ConnectionStatus{}, err
	}
	var v struct{ Version string `json:"version"` }
	_ = json.Unmarshal(raw, &v)
	return ConnectionStatus{OK: true, LatencyMs: time.Since(start).Milliseconds(), Version: v.Version}, nil
}
