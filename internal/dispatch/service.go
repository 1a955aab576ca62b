// Package dispatch orchestrates a task end to end: routing, provider
// invocation, cost computation, and ledger recording.
package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hvngo/llm-dispatch/internal/ledger"
	"github.com/hvngo/llm-dispatch/internal/pricing"
	"github.com/hvngo/llm-dispatch/internal/provider"
	"github.com/hvngo/llm-dispatch/internal/routing"
)

type Service struct {
	policy *routing.Policy
	prices pricing.Table
	ledger ledger.Store
	tracer trace.Tracer
	logger *zap.Logger
	now    func() time.Time
}

func NewService(policy *routing.Policy, prices pricing.Table, store ledger.Store, tracer trace.Tracer, logger *zap.Logger) *Service {
	return &Service{
		policy: policy,
		prices: prices,
		ledger: store,
		tracer: tracer,
		logger: logger,
		now:    time.Now,
	}
}

// RunTask routes the request to exactly one provider, invokes it, and books
// the priced usage into the ledger. Missing usage or a missing price entry
// skips the booking; a ledger write failure is logged but the caller still
// gets the result, since the task itself already succeeded.
func (s *Service) RunTask(ctx context.Context, req *provider.TaskRequest) (*provider.TaskResult, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.run_task")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.intent", string(req.Intent)),
		attribute.String("task.privacy", string(req.Privacy)),
		attribute.String("task.cost_tier", string(req.CostTier)),
	)
	if req.RoutingHint != "" {
		// Hint is informational only; it never influences selection.
		span.SetAttributes(attribute.String("task.routing_hint", req.RoutingHint))
	}

	prov, model, err := s.policy.Select(req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	desc := prov.Descriptor()
	span.SetAttributes(
		attribute.String("task.provider", desc.ID),
		attribute.String("task.model", model),
	)

	result, err := prov.Invoke(ctx, model, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.recordSpend(ctx, result)
	return result, nil
}

func (s *Service) recordSpend(ctx context.Context, result *provider.TaskResult) {
	if result.Usage == nil {
		s.logger.Debug("no usage reported, spend not recorded",
			zap.String("provider", result.ProviderID))
		return
	}

	entry, ok := s.prices.Lookup(result.ProviderID)
	if !ok {
		s.logger.Debug("no pricing entry, spend not recorded",
			zap.String("provider", result.ProviderID))
		return
	}

	cost := entry.Cost(*result.Usage)
	if err := s.ledger.RecordUsage(ctx, result.ProviderID, cost, s.now()); err != nil {
		// The task already succeeded; accounting failure must not fail it,
		// but it must not be silent either.
		s.logger.Error("failed to record spend",
			zap.String("provider", result.ProviderID),
			zap.Float64("cost_usd", cost),
			zap.Error(err))
	}
}

// CurrentSpend reads the current-month summary.
func (s *Service) CurrentSpend(ctx context.Context) (ledger.Summary, error) {
	return s.ledger.CurrentMonth(ctx)
}

// SpendHistory reads the archive of completed months.
func (s *Service) SpendHistory(ctx context.Context) (map[string]ledger.Snapshot, error) {
	return s.ledger.History(ctx)
}
