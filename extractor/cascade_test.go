package extractor

import (
	"context"
	"testing"
)

type stubLayoutModel struct {
	ids        []string
	confidence float64
	err        error
}

func (s *stubLayoutModel) Extract(ctx context.Context, documentBytes []byte) ([]string, float64, error) {
	return s.ids, s.confidence, s.err
}

type stubCloudRecognizer struct {
	ids        []string
	confidence float64
	cost       float64
	err        error
}

func (s *stubCloudRecognizer) Extract(ctx context.Context, documentBytes []byte, remittanceText string) ([]string, float64, float64, error) {
	return s.ids, s.confidence, s.cost, s.err
}

type stubFetcher struct {
	bytesByURI map[string][]byte
}

func (s *stubFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return s.bytesByURI[uri], nil
}

func TestExtract_PatternTierClearsThreshold(t *testing.T) {
	e := New(nil, nil, nil)
	result, err := e.Extract(context.Background(), Request{
		RemittanceText:      "Payment for Invoice #: INV-2024-0001 and INV-2024-0002",
		TierPreference:      TierAuto,
		ConfidenceThreshold: 0.85,
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if result.TierUsed != TierPattern {
		t.Fatalf("expected pattern tier, got %v", result.TierUsed)
	}
	if len(result.InvoiceIds) == 0 {
		t.Fatal("expected at least one invoice id")
	}
}

func TestExtract_FallsThroughToLayoutTier(t *testing.T) {
	layout := &stubLayoutModel{ids: []string{"INV-9999"}, confidence: 0.95}
	e := New(&stubFetcher{bytesByURI: map[string][]byte{"doc-1": []byte("fake-image-bytes")}}, layout, nil)

	result, err := e.Extract(context.Background(), Request{
		RemittanceText:      "no recognizable reference here",
		DocumentURIs:        []string{"doc-1"},
		TierPreference:      TierAuto,
		ConfidenceThreshold: 0.85,
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if result.TierUsed != TierLayout {
		t.Fatalf("expected layout tier, got %v", result.TierUsed)
	}
	if len(result.InvoiceIds) != 1 || result.InvoiceIds[0] != "INV-9999" {
		t.Fatalf("unexpected ids: %v", result.InvoiceIds)
	}
}

func TestExtract_EmptyTextYieldsZeroConfidence(t *testing.T) {
	e := New(nil, nil, nil)
	result, err := e.Extract(context.Background(), Request{TierPreference: TierAuto, ConfidenceThreshold: 0.85})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(result.InvoiceIds) != 0 || result.Confidence != 0 {
		t.Fatalf("expected empty zero-confidence result, got %+v", result)
	}
}

func TestExtract_ForcedTierDoesNotFallThrough(t *testing.T) {
	e := New(nil, nil, nil)
	_, err := e.Extract(context.Background(), Request{TierPreference: TierLayout})
	if err == nil {
		t.Fatal("expected error when forcing an unconfigured layout tier")
	}
}
