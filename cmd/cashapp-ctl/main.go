// cashapp-ctl is the operator toolbox for this agent: connection checks,
// stuck-workflow replay, audit inspection, and dead-letter requeue — the
// same kind of one-binary-per-concern operator tooling the teacher ships
// under its own cmd/ tree, collapsed here into one multi-command app.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sosodev/duration"
	"github.com/urfave/cli/v2"

	"github.com/remitmatch/cashapp-agent/audit"
	"github.com/remitmatch/cashapp-agent/communicator"
	"github.com/remitmatch/cashapp-agent/config"
	"github.com/remitmatch/cashapp-agent/erp"
	"github.com/remitmatch/cashapp-agent/extractor"
	"github.com/remitmatch/cashapp-agent/orchestrator"
)

func main() {
	app := &cli.App{
		Name:  "cashapp-ctl",
		Usage: "operator tooling for the cash-application agent",
		Commands: []*cli.Command{
			erpCommand(),
			workflowCommand(),
			auditCommand(),
			outboxCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "cashapp-ctl: "+err.Error())
		os.Exit(1)
	}
}

func erpCommand() *cli.Command {
	return &cli.Command{
		Name:  "erp",
		Usage: "inspect and exercise ERP adapters",
		Subcommands: []*cli.Command{
			{
				Name:  "test-connection",
				Usage: "probe one erp_system and report latency/status",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "system", Required: true, Usage: "erp_system key, e.g. netsuite, sap, quickbooks, or a generic key"},
					&cli.StringFlag{Name: "generic-config", Usage: "path to a JSON object of GenericConfig overrides, registered ad hoc before the probe"},
				},
				Action: func(c *cli.Context) error {
					facade, err := buildERPFacade(config.GetLogger())
					if err != nil {
						return err
					}
					if path := c.String("generic-config"); path != "" {
						gc, err := loadGenericConfigOverrides(path, c.String("system"))
						if err != nil {
							return err
						}
						facade.Register(erp.NewGenericAdapter(gc))
					}
					status, err := facade.TestConnection(c.Context, c.String("system"))
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
		},
	}
}

// loadGenericConfigOverrides reads a loosely-typed JSON object (operators
// hand-edit these) and decodes it into erp.GenericConfig with mapstructure,
// the same "arbitrary map in, typed struct out" job it does in every other
// pack repo that takes operator-supplied config at the command line rather
// than through env vars.
func loadGenericConfigOverrides(path, system string) (erp.GenericConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return erp.GenericConfig{}, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return erp.GenericConfig{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	var gc erp.GenericConfig
	if err := mapstructure.Decode(m, &gc); err != nil {
		return erp.GenericConfig{}, fmt.Errorf("decoding %s into GenericConfig: %w", path, err)
	}
	if gc.System == "" {
		gc.System = system
	}
	return gc, nil
}

func workflowCommand() *cli.Command {
	return &cli.Command{
		Name:  "workflow",
		Usage: "inspect and replay stuck workflows",
		Subcommands: []*cli.Command{
			{
				Name:      "replay",
				Usage:     "re-run a non-terminal workflow through Claim onward and wait for it to settle",
				ArgsUsage: "<transaction_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "timeout", Value: "PT5M", Usage: "ISO-8601 duration to wait for the workflow to reach a terminal state"},
				},
				Action: func(c *cli.Context) error {
					transactionId := c.Args().First()
					if transactionId == "" {
						return cli.Exit("transaction_id is required", 1)
					}
					waitFor, err := duration.Parse(c.String("timeout"))
					if err != nil {
						return fmt.Errorf("parsing --timeout: %w", err)
					}

					logger := config.GetLogger()
					config.ConnectDatabaseWithRetry()
					store := audit.NewStore(config.GetDB(), logger)

					txn, err := store.GetTransaction(c.Context, transactionId)
					if err != nil {
						return err
					}
					if txn == nil {
						return cli.Exit(fmt.Sprintf("no transaction with transaction_id=%q", transactionId), 2)
					}
					if txn.ProcessingStatus.Terminal() {
						return cli.Exit(fmt.Sprintf("transaction_id=%q is already terminal (%s); nothing to replay", transactionId, txn.ProcessingStatus), 3)
					}

					orch, err := buildOrchestrator(store, logger)
					if err != nil {
						return err
					}
					orch.ResumeFromClaim(c.Context, *txn)

					return waitForTerminal(c.Context, store, transactionId, waitFor.ToTimeDuration())
				},
			},
		},
	}
}

func waitForTerminal(ctx context.Context, store *audit.Store, transactionId string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		txn, err := store.GetTransaction(ctx, transactionId)
		if err != nil {
			return err
		}
		if txn != nil && txn.ProcessingStatus.Terminal() {
			return printJSON(txn)
		}
		if time.Now().After(deadline) {
			return cli.Exit(fmt.Sprintf("timed out after %s waiting for transaction_id=%q to settle; it may still be in flight", timeout, transactionId), 4)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "read the append-only audit log",
		Subcommands: []*cli.Command{
			{
				Name:  "tail",
				Usage: "print audit events matching a filter, optionally following for new ones",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "transaction-id"},
					&cli.StringFlag{Name: "event-type"},
					&cli.IntFlag{Name: "limit", Value: 200},
					&cli.BoolFlag{Name: "follow"},
				},
				Action: func(c *cli.Context) error {
					logger := config.GetLogger()
					config.ConnectDatabaseWithRetry()
					store := audit.NewStore(config.GetDB(), logger)

					filter := audit.AuditFilter{
						TransactionId: c.String("transaction-id"),
						EventType:     c.String("event-type"),
						Limit:         c.Int("limit"),
					}

					var lastSeq uint64
					for {
						events, err := store.QueryAudit(c.Context, filter)
						if err != nil {
							return err
						}
						for _, e := range events {
							if e.Seq <= lastSeq {
								continue
							}
							if err := printJSON(e); err != nil {
								return err
							}
							lastSeq = e.Seq
						}
						if !c.Bool("follow") {
							return nil
						}
						since := time.Now().UTC()
						filter.Since = &since
						select {
						case <-c.Context.Done():
							return c.Context.Err()
						case <-time.After(2 * time.Second):
						}
					}
				},
			},
		},
	}
}

func outboxCommand() *cli.Command {
	return &cli.Command{
		Name:  "outbox",
		Usage: "operate on the durable outbox",
		Subcommands: []*cli.Command{
			{
				Name:  "requeue-dead",
				Usage: "reset DEAD outbox rows to PENDING so the dispatcher retries them, generalizing the teacher's per-reference dead-letter revert",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 100},
					&cli.StringFlag{Name: "transaction-id", Usage: "restrict to one transaction_id; default is every dead row"},
				},
				Action: func(c *cli.Context) error {
					logger := config.GetLogger()
					config.ConnectDatabaseWithRetry()
					db := config.GetDB()

					q := db.WithContext(c.Context).Model(&audit.OutboxEvent{}).
						Where("publish_status = ?", audit.OutboxPublishStatusDead)
					if txnId := c.String("transaction-id"); txnId != "" {
						q = q.Where("transaction_id = ?", txnId)
					}

					var ids []int
					if err := q.Order("id ASC").Limit(c.Int("limit")).Pluck("id", &ids).Error; err != nil {
						return err
					}
					if len(ids) == 0 {
						fmt.Println("no DEAD outbox rows matched")
						return nil
					}

					err := db.WithContext(c.Context).Model(&audit.OutboxEvent{}).
						Where("id IN ?", ids).
						Updates(map[string]interface{}{
							"publish_status":   audit.OutboxPublishStatusPending,
							"publish_attempts": 0,
							"next_attempt_at":  nil,
							"last_publish_error": nil,
						}).Error
					if err != nil {
						return err
					}
					logger.WithField("count", len(ids)).Info("requeued DEAD outbox rows to PENDING")
					fmt.Printf("requeued %d outbox row(s): %v\n", len(ids), ids)
					return nil
				},
			},
		},
	}
}

// buildERPFacade mirrors cmd/server's adapter registration from env vars;
// duplicated here rather than shared because this binary, like every
// cmd/* tool in the teacher's tree, is meant to be readable and runnable
// standalone without importing cmd/server's internals.
func buildERPFacade(logger *logrus.Logger) (*erp.Facade, error) {
	config.ConnectRedisWithRetry()
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

// buildOrchestrator assembles just enough of the stack for "workflow
// replay" to drive a transaction through the same Claim-onward path
// cmd/server uses, without standing up the HTTP listener.
func buildOrchestrator(store *audit.Store, logger *logrus.Logger) (*orchestrator.Orchestrator, error) {
	facade, err := buildERPFacade(logger)
	if err != nil {
		return nil, err
	}
	ex := extractor.New(nil, nil, nil)

	registry := communicator.NewTemplateRegistry()
	if path := config.StringFromEnv("COMMUNICATOR_TEMPLATES_PATH", "communicator/templates.yaml"); path != "" {
		_ = registry.LoadFile(path)
	}
	comm := communicator.New(registry, communicator.NullTransport{}, store, logger, config.IntFromEnv("NOTIFICATION_RATE_PER_RECIPIENT", 10))

	scheduler := orchestrator.NewScheduler(config.Int64FromEnv("MAX_CONCURRENT_TRANSACTIONS", 10))
	metrics, err := orchestrator.NewMetrics()
	if err != nil {
		metrics = nil
	}

	policy := orchestrator.DefaultPolicy()
	policy.Matcher.AmountTolerancePct = decimal.NewFromFloat(config.Float64FromEnv("AMOUNT_TOLERANCE_PCT", 0))
	policy.Matcher.ShortWriteOffThreshold = decimal.NewFromFloat(config.Float64FromEnv("SHORT_WRITE_OFF_THRESHOLD", 0))
	policy.Matcher.RequireCustomerMatch = config.BoolFromEnv("REQUIRE_CUSTOMER_MATCH", false)
	policy.Matcher.AllowPartialAllocation = config.BoolFromEnv("ALLOW_PARTIAL_ALLOCATION", true)
	policy.Matcher.PerfectMatchOnly = config.BoolFromEnv("PERFECT_MATCH_ONLY", false)
	policy.ExtractorTierPreference = extractor.TierPreference(config.StringFromEnv("EXTRACTOR_TIER_PREFERENCE", string(extractor.TierAuto)))
	policy.ExtractorConfidenceThreshold = config.Float64FromEnv("EXTRACTOR_CONFIDENCE_THRESHOLD", 0.85)
	policy.EnableAutonomousERPUpdates = config.BoolFromEnv("ENABLE_AUTONOMOUS_ERP_UPDATES", true)
	policy.WorkflowTimeout = time.Duration(config.IntFromEnv("WORKFLOW_TIMEOUT_SECONDS", 600)) * time.Second

	return orchestrator.New(store, ex, facade, comm, scheduler, metrics, policy, logger), nil
}

func splitCSV(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
