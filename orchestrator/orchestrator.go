// Package orchestrator is the Orchestrator (OR): the durable per-transaction
// workflow that coordinates Extract -> FetchInvoices -> Match -> branch ->
// PostApplication -> Communicate -> Finalize, enforcing idempotency, retry,
// per-account ordering, and backpressure.
package orchestrator

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/remitmatch/cashapp-agent/audit"
	"github.com/remitmatch/cashapp-agent/communicator"
	"github.com/remitmatch/cashapp-agent/erp"
	"github.com/remitmatch/cashapp-agent/extractor"
	"github.com/remitmatch/cashapp-agent/matcher"
)

// Policy bundles the workflow-level configuration options that are not
// matcher.Policy's concern: tiering, timeouts, and whether ERP writes are
// allowed to actually happen.
type Policy struct {
	Matcher                     matcher.Policy
	ExtractorTierPreference     extractor.TierPreference
	ExtractorConfidenceThreshold float64
	EnableAutonomousERPUpdates  bool
	WorkflowTimeout              time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Matcher:                      matcher.DefaultPolicy(),
		ExtractorTierPreference:      extractor.TierAuto,
		ExtractorConfidenceThreshold: 0.85,
		EnableAutonomousERPUpdates:   true,
		WorkflowTimeout:              10 * time.Minute,
	}
}

// Orchestrator wires together every component this module owns into the
// durable workflow described in the system's operational contract.
type Orchestrator struct {
	Store        *audit.Store
	Extractor    *extractor.Extractor
	ERP          *erp.Facade
	Communicator *communicator.Communicator
	Scheduler    *Scheduler
	Metrics      *Metrics
	Directory    []CustomerDirectoryEntry
	Policy       Policy
	Logger       *logrus.Logger
}

func New(
	store *audit.Store,
	ex *extractor.Extractor,
	erpFacade *erp.Facade,
	comm *communicator.Communicator,
	scheduler *Scheduler,
	metrics *Metrics,
	policy Policy,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		Store:        store,
		Extractor:    ex,
		ERP:          erpFacade,
		Communicator: comm,
		Scheduler:    scheduler,
		Metrics:      metrics,
		Policy:       policy,
		Logger:       logger,
	}
}
