package extractor

import (
	"context"

	"github.com/remitmatch/cashapp-agent/cashapperr"
)

// CloudTier calls the external form-recognition service for every
// document, via retryOnTimeout (shared with the layout tier). Always returns unless the
// external service errors on every attempt, in which case it propagates
// ExtractorUnavailable with whatever partial results were gathered.
func CloudTier(ctx context.Context, recognizer CloudFormRecognizer, remittanceText string, documents [][]byte) (Result, error) {
	start := nowMs()
	result := Result{TierUsed: TierCloud}
	var perDoc []PerDocumentResult
	var lastErr error

	for _, doc := range documents {
		var ids []string
		var confidence, cost float64
		err := retryOnTimeout(ctx, defaultTierRetry, cloudTierCallTimeout, func(attemptCtx context.Context) error {
			i, c, cst, ferr := recognizer.Extract(attemptCtx, doc, remittanceText)
			if ferr != nil {
				return ferr
			}
			ids, confidence, cost = i, c, cst
			return nil
		})
		if err != nil {
			lastErr = cashapperr.Wrap(cashapperr.KindExtractorUnavailable, "cloud tier request failed", err)
			perDoc = append(perDoc, PerDocumentResult{Error: lastErr.Error()})
			continue
		}
		perDoc = append(perDoc, PerDocumentResult{InvoiceIds: ids})
		result.CostEstimate += cost
		if confidence > result.Confidence {
			result.Confidence = confidence
			result.InvoiceIds = ids
		}
	}

	result.PerDocument = perDoc
	result.ProcessingTimeMs = nowMs() - start

	if len(documents) > 0 && len(perDoc) == len(documents) && result.InvoiceIds == nil && lastErr != nil {
		return result, lastErr
	}
	return result, nil
}
