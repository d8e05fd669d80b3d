package erp

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/remitmatch/cashapp-agent/cashapperr"
	"github.com/remitmatch/cashapp-agent/money"
)

// SAPAdapter authenticates via mutual TLS client certificates. SAP has no
// native idempotency-key support in this spec's scope, so PostApplication
// falls back to a read-detect-existing step before posting.
type SAPAdapter struct {
	baseURL string
	http    *http.Client
}

// NewSAPAdapter loads the client certificate/key and optional CA bundle
// from configured PEM paths.
func NewSAPAdapter(baseURL, certPath, keyPath, caPath string) (*SAPAdapter, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("erp: load sap client certificate: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if caPath != "" {
		caBytes, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("erp: read sap ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(caBytes)
		tlsCfg.RootCAs = pool
	}
	return &SAPAdapter{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second, Transport: &http.Transport{TLSClientConfig: tlsCfg}},
	}, nil
}

func (a *SAPAdapter) ERPSystem() string { return "sap" }

type sapInvoice struct {
	InvoiceNumber string `json:"InvoiceNumber"`
	CustomerCode  string `json:"CustomerCode"`
	GrossAmount   string `json:"GrossAmount"`
	OpenAmount    string `json:"OpenAmount"`
	Currency      string `json:"Currency"`
	DocStatus     string `json:"DocStatus"`
	DueDate       string `json:"DueDate"`
	DocEntry      string `json:"DocEntry"`
}

func (a *SAPAdapter) FetchInvoices(ctx context.Context, invoiceIds []string, customerId string) ([]Invoice, []string, error) {
	body, _ := json.Marshal(map[string]interface{}{"InvoiceNumbers": invoiceIds, "CustomerCode": customerId})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/b1s/v1/Invoices/search", bytes.NewReader(body))
	if err != nil {
		return nil, nil, cashapperr.Wrap(cashapperr.KindERPTransient, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, nil, cashapperr.Wrap(cashapperr.KindERPTransient, "sap request failed", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return nil, nil, err
	}

	var parsed struct {
		Invoices []sapInvoice `json:"value"`
		NotFound []string     `json:"NotFound"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, cashapperr.Wrap(cashapperr.KindERPPermanent, "decode sap response", err)
	}
	found := make([]Invoice, 0, len(parsed.Invoices))
	for _, si := range parsed.Invoices {
		var due *time.Time
		if si.DueDate != "" {
			if t, err := time.Parse(time.RFC3339, si.DueDate); err == nil {
				due = &t
			}
		}
		orig, _ := money.Parse(si.GrossAmount)
		amt, _ := money.Parse(si.OpenAmount)
		found = append(found, Invoice{
			InvoiceId: si.InvoiceNumber, ERPSystem: "sap", CustomerId: si.CustomerCode,
			OriginalAmount: orig, AmountDue: amt, Currency: si.Currency,
			Status: si.DocStatus, DueDate: due, ERPRecordId: si.DocEntry,
		})
	}
	return found, parsed.NotFound, nil
}

func (a *SAPAdapter) PostApplication(ctx context.Context, app Application) (PostResult, error) {
	if existing, ok, err := a.findExistingByReference(ctx, app.TransactionId); err != nil {
		return PostResult{}, err
	} else if ok {
		return existing, nil
	}

	payload := map[string]interface{}{
		"U_CashAppTxnRef": app.TransactionId,
		"CardCode":        app.CustomerId,
		"PaymentInvoices": app.Applications,
		"CashSum":         app.TotalAmount.String(),
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/b1s/v1/IncomingPayments", bytes.NewReader(body))
	if err != nil {
		return PostResult{}, cashapperr.Wrap(cashapperr.KindERPTransient, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return PostResult{}, cashapperr.Wrap(cashapperr.KindERPTransient, "sap post failed", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return PostResult{}, err
	}

	var parsed struct {
		DocEntry string `json:"DocEntry"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return PostResult{}, cashapperr.Wrap(cashapperr.KindERPPermanent, "decode sap post response", err)
	}
	return PostResult{ERPTransactionId: parsed.DocEntry, PostedAt: time.Now().UTC()}, nil
}

// findExistingByReference performs the read-detect-existing step required
// when the underlying ERP cannot accept a caller-supplied idempotency key.
func (a *SAPAdapter) findExistingByReference(ctx context.Context, transactionId string) (PostResult, bool, error) {
	endpoint := fmt.Sprintf("%s/b1s/v1/IncomingPayments?$filter=U_CashAppTxnRef eq '%s'", a.baseURL, transactionId)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PostResult{}, false, cashapperr.Wrap(cashapperr.KindERPTransient, "build request", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return PostResult{}, false, cashapperr.Wrap(cashapperr.KindERPTransient, "sap lookup failed", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return PostResult{}, false, err
	}
	var parsed struct {
		Value []struct{ DocEntry string `json:"DocEntry"` } `json:"value"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Value) == 0 {
		return PostResult{}, false, nil
	}
	return PostResult{ERPTransactionId: parsed.Value[0].DocEntry, PostedAt: time.Now().UTC(), Duplicate: true}, true, nil
}

func (a *SAPAdapter) TestConnection(ctx context.Context) (ConnectionStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/b1s/v1/", nil)
	if err != nil {
		return ConnectionStatus{}, cashapperr.Wrap(cashapperr.KindERPTransient, "build health request", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return ConnectionStatus{}, cashapperr.Wrap(cashapperr.KindERPTransient, "sap health check failed", err)
	}
	defer resp.Body.Close()
	latency := time.Since(start).Milliseconds()
	if resp.StatusCode >= 500 {
		return ConnectionStatus{LatencyMs: latency}, cashapperr.New(cashapperr.KindERPTransient, fmt.Sprintf("sap returned %d", resp.StatusCode))
	}
	return ConnectionStatus{OK: resp.StatusCode < 400, LatencyMs: latency}, nil
}
