package httpapi

import (
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/remitmatch/cashapp-agent/communicator"
	"github.com/remitmatch/cashapp-agent/erp"
	"github.com/remitmatch/cashapp-agent/extractor"
	"github.com/remitmatch/cashapp-agent/orchestrator"
)

// Deps is everything the router needs to wire its handlers.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Extractor    *extractor.Extractor
	ERP          *erp.Facade
	Communicator *communicator.Communicator
	Logger       *logrus.Logger
	Ready        func() bool
	Ping         func() error
}

// NewRouter assembles the gin engine for every endpoint this module
// exposes, following the teacher's server.go layering: correlation id,
// readiness gate, CORS, error logging, recovery, then routes; every route
// except /health sits in a group guarded by AuthMiddleware.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()

	r.Use(CorrelationIdMiddleware())
	if deps.Ready != nil {
		r.Use(ReadinessGate(deps.Ready))
	}
	r.Use(corsMiddleware())
	r.Use(ErrorLogger(deps.Logger))
	r.Use(gin.Recovery())

	r.GET("/health", healthHandler(pingOrNoop(deps.Ping)))

	authed := r.Group("/")
	authed.Use(AuthMiddleware())

	authed.POST("/workflows/cash-application/start", startWorkflowHandler(deps.Orchestrator))
	authed.GET("/workflows/:id", getWorkflowHandler(deps.Orchestrator))
	authed.POST("/workflows/:id/cancel", cancelWorkflowHandler(deps.Orchestrator))
	authed.POST("/extract", extractHandler(deps.Extractor))
	authed.POST("/invoices/fetch", fetchInvoicesHandler(deps.ERP))
	authed.POST("/applications", RequireAdmin(), postApplicationHandler(deps.ERP))
	authed.POST("/erp/:system/test", RequireAdmin(), testERPConnectionHandler(deps.ERP))
	authed.POST("/notifications", notificationsHandler(deps.Communicator))

	r.NoRoute(notFoundHandler)
	return r
}

func pingOrNoop(ping func() error) func() error {
	if ping != nil {
		return ping
	}
	return func() error { return nil }
}

// corsMiddleware mirrors the teacher's production-safe default: an
// explicit allowlist in production, wide open otherwise.
func corsMiddleware() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	allowed := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowed == "" {
			cfg.AllowOrigins = []string{}
		} else {
			cfg.AllowOrigins = splitAndTrim(allowed)
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("Authorization", "Content-Type", "x-correlation-id")
	cfg.AddExposeHeaders("x-correlation-id")
	cfg.AllowCredentials = true
	return cors.New(cfg)
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
