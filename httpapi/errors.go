package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remitmatch/cashapp-agent/cashapperr"
)

// writeError maps a cashapperr.Kind to the HTTP status a caller should act
// on: 4xx for the caller's mistake, 409 for a conflict it can retry after
// inspecting state, 503 for a dependency that is down but may recover.
func writeError(c *gin.Context, err error) {
	e, ok := cashapperr.AsError(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch e.Kind {
	case cashapperr.KindValidation:
		status = http.StatusBadRequest
	case cashapperr.KindDuplicatePayment, cashapperr.KindConcurrencyConflict:
		status = http.StatusConflict
	case cashapperr.KindERPTransient, cashapperr.KindExtractorUnavailable, cashapperr.KindBusy:
		status = http.StatusServiceUnavailable
	case cashapperr.KindTemplateNotFound:
		status = http.StatusNotFound
	case cashapperr.KindCancelled:
		status = http.StatusGone
	case cashapperr.KindERPPermanent, cashapperr.KindInvariantViolation:
		status = http.StatusUnprocessableEntity
	}

	c.JSON(status, gin.H{"error": e.Message, "kind": string(e.Kind), "retryable": e.Retryable})
}
