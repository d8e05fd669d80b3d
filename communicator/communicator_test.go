package communicator

import (
	"context"
	"strings"
	"testing"

	"github.com/remitmatch/cashapp-agent/cashapperr"
)

func testRegistry(t *testing.T) *TemplateRegistry {
	r := NewTemplateRegistry()
	err := r.Add(TemplateSpec{
		Name:           "customer_clarification",
		Subject:        "Regarding payment {{.transaction_id}}",
		Body:           "Hello {{.customer_name}}, we could not fully apply your payment.",
		Format:         FormatText,
		RequiredFields: []string{"transaction_id", "customer_name"},
	})
	if err != nil {
		t.Fatalf("add template: %v", err)
	}
	err = r.Add(TemplateSpec{
		Name:    "internal_alert",
		Subject: "Unmatched payment {{.transaction_id}}",
		Body:    "# Alert\n\nNo candidate invoices found for **{{.transaction_id}}**.",
		Format:  FormatMarkdown,
	})
	if err != nil {
		t.Fatalf("add markdown template: %v", err)
	}
	return r
}

func TestDispatch_RendersAndSends(t *testing.T) {
	registry := testRegistry(t)
	transport := &RecordingTransport{}
	c := New(registry, transport, nil, nil, 10)

	result, err := c.Dispatch(context.Background(), Event{
		Kind:         "CustomerClarification",
		Recipient:    "ar@customer.example",
		TemplateName: "customer_clarification",
		Data: map[string]interface{}{
			"transaction_id": "txn-1",
			"customer_name":  "Acme Co",
		},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.DeliveryId == "" {
		t.Fatal("expected a delivery id")
	}
	if len(transport.Sent) != 1 {
		t.Fatalf("expected one sent message, got %d", len(transport.Sent))
	}
	if transport.Sent[0].Subject != "Regarding payment txn-1" {
		t.Fatalf("unexpected subject: %q", transport.Sent[0].Subject)
	}
}

func TestDispatch_MarkdownRendersToHTML(t *testing.T) {
	registry := testRegistry(t)
	transport := &RecordingTransport{}
	c := New(registry, transport, nil, nil, 10)

	_, err := c.Dispatch(context.Background(), Event{
		Kind:         "InternalAlert",
		Recipient:    "ops@company.example",
		TemplateName: "internal_alert",
		Data:         map[string]interface{}{"transaction_id": "txn-2"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if transport.Sent[0].ContentType != "text/html" {
		t.Fatalf("expected html content type, got %q", transport.Sent[0].ContentType)
	}
	if !strings.Contains(transport.Sent[0].Body, "<h1>Alert</h1>") {
		t.Fatalf("expected rendered heading, got %q", transport.Sent[0].Body)
	}
}

func TestDispatch_UnknownTemplate(t *testing.T) {
	registry := testRegistry(t)
	c := New(registry, &RecordingTransport{}, nil, nil, 10)

	_, err := c.Dispatch(context.Background(), Event{
		Recipient:    "someone@example.com",
		TemplateName: "does_not_exist",
	})
	cerr, ok := cashapperr.AsError(err)
	if !ok || cerr.Kind != cashapperr.KindTemplateNotFound {
		t.Fatalf("expected TemplateNotFound, got %v", err)
	}
}

func TestDispatch_MissingRequiredField(t *testing.T) {
	registry := testRegistry(t)
	c := New(registry, &RecordingTransport{}, nil, nil, 10)

	_, err := c.Dispatch(context.Background(), Event{
		Recipient:    "someone@example.com",
		TemplateName: "customer_clarification",
		Data:         map[string]interface{}{"transaction_id": "txn-3"},
	})
	cerr, ok := cashapperr.AsError(err)
	if !ok || cerr.Kind != cashapperr.KindValidation {
		t.Fatalf("expected Validation error for missing field, got %v", err)
	}
}

func TestDispatch_RateLimited(t *testing.T) {
	registry := testRegistry(t)
	c := New(registry, &RecordingTransport{}, nil, nil, 1)

	event := Event{
		Recipient:    "throttled@example.com",
		TemplateName: "customer_clarification",
		Data: map[string]interface{}{
			"transaction_id": "txn-4",
			"customer_name":  "Acme Co",
		},
	}
	if _, err := c.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("first dispatch should succeed: %v", err)
	}
	_, err := c.Dispatch(context.Background(), event)
	cerr, ok := cashapperr.AsError(err)
	if !ok || cerr.Kind != cashapperr.KindBusy {
		t.Fatalf("expected Busy (rate limited) on second dispatch, got %v", err)
	}
}

func TestDispatch_TransportFailureRecordedAsFailed(t *testing.T) {
	registry := testRegistry(t)
	transport := &RecordingTransport{Err: cashapperr.New(cashapperr.KindERPPermanent, "smtp rejected")}
	c := New(registry, transport, nil, nil, 10)

	result, err := c.Dispatch(context.Background(), Event{
		Recipient:    "someone@example.com",
		TemplateName: "customer_clarification",
		Data: map[string]interface{}{
			"transaction_id": "txn-5",
			"customer_name":  "Acme Co",
		},
	})
	if err == nil {
		t.Fatal("expected transport error to propagate")
	}
	if result.Status != "Failed" {
		t.Fatalf("expected Failed status, got %q", result.Status)
	}
}
