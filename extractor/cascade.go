package extractor

import (
	"context"

	"github.com/remitmatch/cashapp-agent/cashapperr"
)

// Extractor runs the cascading tier algorithm: Pattern, then Layout, then
// Cloud, stopping as soon as a tier's confidence clears the threshold.
// tier_preference != Auto forces a single tier; that tier's failure is
// reported rather than falling through to the next one.
type Extractor struct {
	Fetcher    DocumentFetcher
	LayoutTier LayoutModel
	CloudTier  CloudFormRecognizer
}

func New(fetcher DocumentFetcher, layout LayoutModel, cloud CloudFormRecognizer) *Extractor {
	return &Extractor{Fetcher: fetcher, LayoutTier: layout, CloudTier: cloud}
}

// Extract runs the cascade described by req.TierPreference and returns the
// first tier result clearing req.ConfidenceThreshold (Auto mode), or the
// single forced tier's result.
func (e *Extractor) Extract(ctx context.Context, req Request) (Result, error) {
	threshold := req.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.85
	}

	documents, fetchErrs := e.fetchDocuments(ctx, req.DocumentURIs)

	switch req.TierPreference {
	case TierPattern:
		return e.withFetchErrs(PatternTier(req.RemittanceText, nil), fetchErrs), nil
	case TierLayout:
		if e.LayoutTier == nil {
			return Result{}, cashapperr.New(cashapperr.KindExtractorUnavailable, "layout tier not configured")
		}
		result := LayoutTier(ctx, e.LayoutTier, documents)
		return e.withFetchErrs(result, fetchErrs), nil
	case TierCloud:
		if e.CloudTier == nil {
			return Result{}, cashapperr.New(cashapperr.KindExtractorUnavailable, "cloud tier not configured")
		}
		result, err := CloudTier(ctx, e.CloudTier, req.RemittanceText, documents)
		if err != nil {
			return e.withFetchErrs(result, fetchErrs), cashapperr.Wrap(cashapperr.KindExtractorUnavailable, "cloud tier failed", err)
		}
		return e.withFetchErrs(result, fetchErrs), nil
	}

	// Auto: cascade pattern -> layout -> cloud.
	patternResult := PatternTier(req.RemittanceText, nil)
	if patternResult.Confidence >= threshold {
		return e.withFetchErrs(patternResult, fetchErrs), nil
	}

	if e.LayoutTier != nil && len(documents) > 0 {
		layoutResult := LayoutTier(ctx, e.LayoutTier, documents)
		if layoutResult.Confidence >= threshold {
			return e.withFetchErrs(layoutResult, fetchErrs), nil
		}
		if e.CloudTier == nil {
			return e.withFetchErrs(bestOf(patternResult, layoutResult), fetchErrs), nil
		}
		cloudResult, err := CloudTier(ctx, e.CloudTier, req.RemittanceText, documents)
		if err != nil {
			partial := bestOf(patternResult, layoutResult)
			return e.withFetchErrs(partial, fetchErrs), cashapperr.Wrap(cashapperr.KindExtractorUnavailable, "all tiers exhausted", err)
		}
		return e.withFetchErrs(bestOf(patternResult, layoutResult, cloudResult), fetchErrs), nil
	}

	if e.CloudTier == nil {
		return e.withFetchErrs(patternResult, fetchErrs), nil
	}
	cloudResult, err := CloudTier(ctx, e.CloudTier, req.RemittanceText, documents)
	if err != nil {
		return e.withFetchErrs(patternResult, fetchErrs), cashapperr.Wrap(cashapperr.KindExtractorUnavailable, "all tiers exhausted", err)
	}
	return e.withFetchErrs(bestOf(patternResult, cloudResult), fetchErrs), nil
}

func (e *Extractor) fetchDocuments(ctx context.Context, uris []string) ([][]byte, []PerDocumentResult) {
	if e.Fetcher == nil {
		return nil, nil
	}
	var docs [][]byte
	var errs []PerDocumentResult
	for _, uri := range uris {
		data, err := e.Fetcher.Fetch(ctx, uri)
		if err != nil {
			errs = append(errs, PerDocumentResult{URI: uri, Error: err.Error()})
			continue
		}
		docs = append(docs, data)
	}
	return docs, errs
}

func (e *Extractor) withFetchErrs(r Result, fetchErrs []PerDocumentResult) Result {
	if len(fetchErrs) > 0 {
		r.PerDocument = append(r.PerDocument, fetchErrs...)
	}
	return r
}

// bestOf returns the highest-confidence result among candidates, defaulting
// to an empty zero-confidence result when none have any ids.
func bestOf(results ...Result) Result {
	best := Result{TierUsed: TierPattern, Confidence: 0}
	for _, r := range results {
		if r.Confidence >= best.Confidence && len(r.InvoiceIds) > 0 {
			best = r
		}
	}
	if len(best.InvoiceIds) == 0 && len(results) > 0 {
		return results[len(results)-1]
	}
	return best
}
