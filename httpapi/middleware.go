package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/remitmatch/cashapp-agent/appctx"
)

// CorrelationIdMiddleware generates a correlation id once per request
// (honoring an inbound x-correlation-id, for callers that already have
// one) and threads it through the request context so every audit event
// and log line this request produces can be tied back to it.
func CorrelationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Writer.Header().Set("x-correlation-id", cid)
		c.Request = c.Request.WithContext(appctx.Set(c.Request.Context(), appctx.ContextKeyCorrelationId, cid))
		c.Next()
	}
}

// ReadinessGate returns 503 for everything except /health until the
// server has finished wiring its dependencies.
func ReadinessGate(ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		if !ready() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

// ErrorLogger logs only requests that accumulated a gin error, keeping
// access-log noise out of the default logrus output.
func ErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 && logger != nil {
			logger.WithFields(logrus.Fields{
				"module": "httpapi",
				"path":   c.Request.URL.Path,
			}).Error(c.Errors.String())
		}
	}
}

func notFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}
