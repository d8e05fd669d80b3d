package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/remitmatch/cashapp-agent/audit"
	"github.com/remitmatch/cashapp-agent/communicator"
	"github.com/remitmatch/cashapp-agent/config"
	"github.com/remitmatch/cashapp-agent/erp"
	"github.com/remitmatch/cashapp-agent/extractor"
	"github.com/remitmatch/cashapp-agent/httpapi"
	"github.com/remitmatch/cashapp-agent/orchestrator"
)

const defaultPort = "8080"

func main() {
	port := config.StringFromEnv("PORT", defaultPort)
	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start listening immediately (Cloud Run's startup probe is TCP based);
	// dependencies connect afterward and requests 503 until ready.
	ready := false
	router := httpapi.NewRouter(httpapi.Deps{Ready: func() bool { return ready }, Logger: logger})
	srv := &http.Server{Addr: ":" + port, Handler: router}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	store := audit.NewStore(db, logger)
	if !config.BoolFromEnv("SKIP_MIGRATIONS", false) {
		if err := store.Migrate(); err != nil {
			logger.WithError(err).Fatal("audit store migration failed")
		}
		store.EnsureAuditPartitioning()
	} else {
		logger.Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	erpFacade, err := buildERPFacade(logger)
	if err != nil {
		logger.WithError(err).Fatal("erp facade setup failed")
	}

	ex := buildExtractor()

	comm, err := buildCommunicator(store, logger)
	if err != nil {
		logger.WithError(err).Fatal("communicator setup failed")
	}

	directory, err := loadDirectory(logger)
	if err != nil {
		logger.WithError(err).Warn("customer directory not loaded; customer-identifier resolution disabled")
	}

	scheduler := orchestrator.NewScheduler(config.Int64FromEnv("MAX_CONCURRENT_TRANSACTIONS", 10))
	metrics, err := orchestrator.NewMetrics()
	if err != nil {
		logger.WithError(err).Warn("orchestrator metrics disabled")
		metrics = nil
	}

	policy := buildWorkflowPolicy()
	orch := orchestrator.New(store, ex, erpFacade, comm, scheduler, metrics, policy, logger)
	orch.Directory = directory

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go orchestrator.NewOutboxPubSubDispatcher(db, logger).Run(dispatcherCtx)
	go orchestrator.NewOutboxDirectProcessor(store, orch, logger).Run(dispatcherCtx)

	reconciled, err := store.ReconcileInFlight(context.Background(),
		func(t audit.PaymentTransaction) bool {
			var count int64
			db.Model(&audit.MatchResult{}).Where("transaction_id = ?", t.TransactionId).Count(&count)
			return count > 0
		},
		func(t audit.PaymentTransaction) error {
			scheduler.Enqueue(t.SourceAccountRef, func(ctx context.Context) {
				orch.ResumeFromClaim(ctx, t)
			})
			return nil
		},
		func(t audit.PaymentTransaction) error {
			return store.DB.Model(&audit.PaymentTransaction{}).
				Where("transaction_id = ?", t.TransactionId).
				Update("processing_status", audit.StatusError).Error
		},
	)
	if err != nil {
		logger.WithError(err).Error("startup reconciliation failed")
	} else if reconciled > 0 {
		logger.WithField("count", reconciled).Info("reconciled in-flight workflows from prior crash")
	}

	router = httpapi.NewRouter(httpapi.Deps{
		Orchestrator: orch,
		Extractor:    ex,
		ERP:          erpFacade,
		Communicator: comm,
		Logger:       logger,
		Ready:        func() bool { return ready },
		Ping: func() error {
			if sqlDB == nil {
				return errors.New("database not connected")
			}
			return sqlDB.Ping()
		},
	})
	srv.Handler = router
	ready = true

	logger.WithField("port", port).Info("cash-application agent listening")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server stopped unexpectedly")
		}
	}

	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// buildERPFacade registers every configured erp_systems[] entry behind the
// facade. An ERP variant with no credentials in the environment is simply
// not registered; FetchInvoices/PostApplication against it then fail with
// the facade's own "unknown erp_system" validation error rather than a nil
// adapter panic.
func buildERPFacade(logger *logrus.Logger) (*erp.Facade, error) {
	facade, err := erp.NewFacade(
		config.GetRedisLock(),
		config.Int64FromEnv("ERP_CONNECTION_POOL_SIZE", 8),
		config.IntFromEnv("ERP_INVOICE_CACHE_TTL_SECONDS", 60),
	)
	if err != nil {
		return nil, err
	}

	if baseURL := config.StringFromEnv("NETSUITE_BASE_URL", ""); baseURL != "" {
		facade.Register(erp.NewNetSuiteAdapter(
			baseURL,
			config.StringFromEnv("NETSUITE_TOKEN_URL", ""),
			config.StringFromEnv("NETSUITE_CLIENT_ID", ""),
			config.StringFromEnv("NETSUITE_CLIENT_SECRET", ""),
			splitCSV(config.StringFromEnv("NETSUITE_SCOPES", "")),
		))
		logger.Info("registered NetSuite ERP adapter")
	}

	if baseURL := config.StringFromEnv("SAP_BASE_URL", ""); baseURL != "" {
		sap, err := erp.NewSAPAdapter(
			baseURL,
			config.StringFromEnv("SAP_CLIENT_CERT_PATH", ""),
			config.StringFromEnv("SAP_CLIENT_KEY_PATH", ""),
			config.StringFromEnv("SAP_CA_BUNDLE_PATH", ""),
		)
		if err != nil {
			return nil, err
		}
		facade.Register(sap)
		logger.Info("registered SAP ERP adapter")
	}

	if baseURL := config.StringFromEnv("QUICKBOOKS_BASE_URL", ""); baseURL != "" {
		facade.Register(erp.NewQuickBooksAdapter(
			baseURL,
			config.StringFromEnv("QUICKBOOKS_API_KEY", ""),
			config.StringFromEnv("QUICKBOOKS_API_KEY_HEADER", ""),
			config.IntFromEnv("QUICKBOOKS_RATE_PER_MINUTE", 60),
		))
		logger.Info("registered QuickBooks ERP adapter")
	}

	for _, entry := range strings.Split(config.StringFromEnv("GENERIC_ERP_SYSTEMS", ""), ",") {
		system := strings.TrimSpace(entry)
		if system == "" {
			continue
		}
		prefix := "GENERIC_ERP_" + strings.ToUpper(system) + "_"
		facade.Register(erp.NewGenericAdapter(erp.GenericConfig{
			System:       system,
			BaseURL:      config.StringFromEnv(prefix+"BASE_URL", ""),
			AuthMode:     erp.AuthMode(config.StringFromEnv(prefix+"AUTH_MODE", string(erp.AuthModeNone))),
			APIKey:       config.StringFromEnv(prefix+"API_KEY", ""),
			APIKeyHeader: config.StringFromEnv(prefix+"API_KEY_HEADER", ""),
			BearerToken:  config.StringFromEnv(prefix+"BEARER_TOKEN", ""),
		}))
		logger.WithField("erp_system", system).Info("registered generic ERP adapter")
	}

	return facade, nil
}

// buildExtractor wires only the Pattern tier (it never fails and needs no
// external capability): no document fetcher, layout model or cloud
// recognizer is passed in. Neither layout OCR nor a cloud
// form-recognition provider is implemented in this module: both are
// vendor-specific ML services out of scope per this module's non-goals, so
// a deployment wanting them links in its own OCRReader/CloudFormRecognizer.
func buildExtractor() *extractor.Extractor {
	return extractor.New(nil, nil, nil)
}

func buildCommunicator(store *audit.Store, logger *logrus.Logger) (*communicator.Communicator, error) {
	registry := communicator.NewTemplateRegistry()
	if path := config.StringFromEnv("COMMUNICATOR_TEMPLATES_PATH", "communicator/templates.yaml"); path != "" {
		if err := registry.LoadFile(path); err != nil {
			if !os.IsNotExist(errors.Unwrap(err)) {
				return nil, err
			}
			logger.WithField("path", path).Warn("communicator template file not found; registry empty until templates are added")
		}
	}

	var transport communicator.Transport = communicator.NullTransport{}
	return communicator.New(registry, transport, store, logger, config.IntFromEnv("NOTIFICATION_RATE_PER_RECIPIENT", 10)), nil
}

func loadDirectory(logger *logrus.Logger) ([]orchestrator.CustomerDirectoryEntry, error) {
	path := config.StringFromEnv("CUSTOMER_DIRECTORY_PATH", "")
	if path == "" {
		return nil, nil
	}
	entries, err := orchestrator.LoadCachedDirectory(path)
	if err != nil {
		return nil, err
	}
	logger.WithField("count", len(entries)).Info("loaded customer directory")
	return entries, nil
}

func buildWorkflowPolicy() orchestrator.Policy {
	policy := orchestrator.DefaultPolicy()

	policy.Matcher.AmountTolerancePct = decimal.NewFromFloat(config.Float64FromEnv("AMOUNT_TOLERANCE_PCT", 0))
	policy.Matcher.ShortWriteOffThreshold = decimal.NewFromFloat(config.Float64FromEnv("SHORT_WRITE_OFF_THRESHOLD", 0))
	policy.Matcher.RequireCustomerMatch = config.BoolFromEnv("REQUIRE_CUSTOMER_MATCH", false)
	policy.Matcher.AllowPartialAllocation = config.BoolFromEnv("ALLOW_PARTIAL_ALLOCATION", true)
	policy.Matcher.PerfectMatchOnly = config.BoolFromEnv("PERFECT_MATCH_ONLY", false)
	if ceiling := config.Float64FromEnv("AUTO_APPLY_CEILING", 0); ceiling > 0 {
		d := decimal.NewFromFloat(ceiling)
		policy.Matcher.AutoApplyCeiling = &d
	}

	policy.ExtractorTierPreference = extractor.TierPreference(config.StringFromEnv("EXTRACTOR_TIER_PREFERENCE", string(extractor.TierAuto)))
	policy.ExtractorConfidenceThreshold = config.Float64FromEnv("EXTRACTOR_CONFIDENCE_THRESHOLD", 0.85)
	policy.EnableAutonomousERPUpdates = config.BoolFromEnv("ENABLE_AUTONOMOUS_ERP_UPDATES", true)
	policy.WorkflowTimeout = time.Duration(config.IntFromEnv("WORKFLOW_TIMEOUT_SECONDS", 600)) * time.Second

	return policy
}

func splitCSV(csv string) []string {
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
