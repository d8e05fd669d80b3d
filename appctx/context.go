package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> orchestrator).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	// ContextKeyCorrelationId threads a single request/workflow's tracing id
	// through logs, outbox rows, and ERP calls.
	ContextKeyCorrelationId = ContextKey("CorrelationId")

	// ContextKeyTransactionId is the bank transaction a workflow step is
	// currently operating on.
	ContextKeyTransactionId = ContextKey("TransactionId")

	// ContextKeyWorkflowId identifies the orchestrator run (one per claimed
	// transaction) across its retried steps.
	ContextKeyWorkflowId = ContextKey("WorkflowId")

	// ContextKeyServiceIdentity carries the authenticated caller of the
	// control-plane API (operator user or service account subject).
	ContextKeyServiceIdentity = ContextKey("ServiceIdentity")

	// ContextKeyIsAdmin marks a caller allowed to bypass review-queue gating
	// (e.g. manual match approval, dead-letter requeue).
	ContextKeyIsAdmin = ContextKey("IsAdmin")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetBool(ctx context.Context, key ContextKey) (bool, bool) {
	v, ok := ctx.Value(key).(bool)
	return v, ok
}

func GetInt(ctx context.Context, key ContextKey) (int, bool) {
	v, ok := ctx.Value(key).(int)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
