package extractor

import (
	"bytes"
	"context"

	"github.com/disintegration/imaging"

	"github.com/remitmatch/cashapp-agent/cashapperr"
)

// DefaultLayoutModel normalizes document bytes (resize + grayscale, the
// deskew-equivalent step available without a dedicated layout engine) and
// delegates text recognition to an injected OCRReader, then re-runs the
// pattern table against the recognized text.
type DefaultLayoutModel struct {
	OCR OCRReader
}

func NewDefaultLayoutModel(ocr OCRReader) *DefaultLayoutModel {
	return &DefaultLayoutModel{OCR: ocr}
}

func (m *DefaultLayoutModel) Extract(ctx context.Context, documentBytes []byte) ([]string, float64, error) {
	normalized, err := normalizeForOCR(documentBytes)
	if err != nil {
		return nil, 0, cashapperr.Wrap(cashapperr.KindExtractorUnavailable, "layout tier: normalize document", err)
	}

	var text string
	ocrErr := retryOnTimeout(ctx, defaultTierRetry, layoutTierCallTimeout, func(attemptCtx context.Context) error {
		t, err := m.OCR.ExtractText(attemptCtx, normalized)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	if ocrErr != nil {
		return nil, 0, cashapperr.Wrap(cashapperr.KindExtractorUnavailable, "layout tier: ocr failed", ocrErr)
	}

	matches, boundedHit := matchPatterns(text)
	ids := DedupePreserveOrder(matches)
	if len(ids) == 0 {
		return nil, 0, nil
	}
	confidence := 0.6 + 0.08*float64(len(ids))
	if boundedHit {
		confidence += 0.15
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return ids, confidence, nil
}

// normalizeForOCR resizes to a maximum width and converts to grayscale,
// mirroring the thumbnailing pipeline used elsewhere in this codebase for
// uploaded images, repurposed here to stabilize OCR input quality.
func normalizeForOCR(raw []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	resized := imaging.Resize(img, 1600, 0, imaging.Lanczos)
	gray := imaging.Grayscale(resized)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LayoutTier runs the layout model over every document's bytes, returning
// the best (highest-confidence) result across documents.
func LayoutTier(ctx context.Context, model LayoutModel, documents [][]byte) Result {
	start := nowMs()
	var best Result
	best.TierUsed = TierLayout
	var perDoc []PerDocumentResult

	for _, doc := range documents {
		ids, confidence, err := model.Extract(ctx, doc)
		if err != nil {
			perDoc = append(perDoc, PerDocumentResult{Error: err.Error()})
			continue
		}
		perDoc = append(perDoc, PerDocumentResult{InvoiceIds: ids})
		if confidence > best.Confidence {
			best.Confidence = confidence
			best.InvoiceIds = ids
		}
	}

	best.PerDocument = perDoc
	best.CostEstimate = 0.01 * float64(len(documents))
	best.ProcessingTimeMs = nowMs() - start
	return best
}
