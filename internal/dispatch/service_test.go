package dispatch

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/hvngo/llm-dispatch/internal/ledger"
	"github.com/hvngo/llm-dispatch/internal/pricing"
	"github.com/hvngo/llm-dispatch/internal/provider"
	"github.com/hvngo/llm-dispatch/internal/routing"
)

type MockProvider struct {
	desc      provider.Descriptor
	result    *provider.TaskResult
	invokeErr error
	invoked   int
	lastModel string
}

func (m *MockProvider) Descriptor() provider.Descriptor { return m.desc }

func (m *MockProvider) Invoke(ctx context.Context, model string, req *provider.TaskRequest) (*provider.TaskResult, error) {
	m.invoked++
	m.lastModel = model
	if m.invokeErr != nil {
		return nil, m.invokeErr
	}
	return m.result, nil
}

type MockLedger struct {
	recordErr error
	records   []recordedUsage
}

type recordedUsage struct {
	ProviderID string
	CostUSD    float64
	At         time.Time
}

func (m *MockLedger) RecordUsage(ctx context.Context, providerID string, costUSD float64, at time.Time) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.records = append(m.records, recordedUsage{providerID, costUSD, at})
	return nil
}

func (m *MockLedger) CurrentMonth(ctx context.Context) (ledger.Summary, error) {
	return ledger.Summary{}, nil
}

func (m *MockLedger) History(ctx context.Context) (map[string]ledger.Snapshot, error) {
	return map[string]ledger.Snapshot{}, nil
}

func summarizeProvider(result *provider.TaskResult, invokeErr error) *MockProvider {
	return &MockProvider{
		desc: provider.NewDescriptor(
			"gemini", "Google Gemini", provider.TierCheap, 1000000, "gemini-1.5-flash",
			[]provider.Intent{provider.IntentSummarize},
			provider.PrivacyNormal,
		),
		result:    result,
		invokeErr: invokeErr,
	}
}

func newTestService(t *testing.T, p provider.Provider, prices pricing.Table, store ledger.Store) *Service {
	t.Helper()
	reg, err := routing.NewRegistry([]provider.Provider{p}, "")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	rules := make(routing.RuleTable)
	for _, intent := range provider.Intents() {
		rules[intent] = routing.Rule{ProviderID: p.Descriptor().ID, Model: "gemini-1.5-flash"}
	}
	policy, err := routing.NewPolicy(reg, rules)
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewService(policy, prices, store, tracer, zap.NewNop())
}

func summarizeRequest() *provider.TaskRequest {
	return &provider.TaskRequest{
		Intent:   provider.IntentSummarize,
		Privacy:  provider.PrivacyNormal,
		CostTier: provider.TierStandard,
		Messages: []provider.Message{{Role: "user", Content: "summarize this"}},
	}
}

func TestRunTask_RecordsPricedUsage(t *testing.T) {
	p := summarizeProvider(&provider.TaskResult{
		ProviderID: "gemini",
		Model:      "gemini-1.5-flash",
		Output:     []provider.Message{{Role: "assistant", Content: "a summary"}},
		Usage:      &provider.Usage{InputTokens: 1000, OutputTokens: 200},
	}, nil)
	store := &MockLedger{}
	prices := pricing.Table{"gemini": {Input: 1.25, Output: 10.00}}
	svc := newTestService(t, p, prices, store)

	result, err := svc.RunTask(context.Background(), summarizeRequest())
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if result.ProviderID != "gemini" {
		t.Errorf("provider = %s, want gemini", result.ProviderID)
	}
	if p.lastModel != "gemini-1.5-flash" {
		t.Errorf("invoked model = %s, want gemini-1.5-flash", p.lastModel)
	}

	if len(store.records) != 1 {
		t.Fatalf("expected 1 ledger record, got %d", len(store.records))
	}
	rec := store.records[0]
	want := 0.00125 + 0.002 // 1000 in @ $1.25/M + 200 out @ $10/M
	if math.Abs(rec.CostUSD-want) > 1e-9 {
		t.Errorf("recorded cost = %v, want %v", rec.CostUSD, want)
	}
	if rec.ProviderID != "gemini" {
		t.Errorf("recorded provider = %s, want gemini", rec.ProviderID)
	}
}

func TestRunTask_UsageAbsentSkipsRecording(t *testing.T) {
	p := summarizeProvider(&provider.TaskResult{
		ProviderID: "gemini",
		Model:      "gemini-1.5-flash",
		Output:     []provider.Message{{Role: "assistant", Content: "a summary"}},
	}, nil)
	store := &MockLedger{}
	svc := newTestService(t, p, pricing.Table{"gemini": {Input: 1.25, Output: 10.00}}, store)

	if _, err := svc.RunTask(context.Background(), summarizeRequest()); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if len(store.records) != 0 {
		t.Errorf("expected no ledger records without usage, got %d", len(store.records))
	}
}

func TestRunTask_PricingMissSkipsRecording(t *testing.T) {
	p := summarizeProvider(&provider.TaskResult{
		ProviderID: "gemini",
		Model:      "gemini-1.5-flash",
		Usage:      &provider.Usage{InputTokens: 1000, OutputTokens: 200},
	}, nil)
	store := &MockLedger{}
	svc := newTestService(t, p, pricing.Table{}, store)

	result, err := svc.RunTask(context.Background(), summarizeRequest())
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected result despite pricing miss")
	}
	if len(store.records) != 0 {
		t.Errorf("expected no ledger records without pricing, got %d", len(store.records))
	}
}

func TestRunTask_LedgerFailureStillReturnsResult(t *testing.T) {
	p := summarizeProvider(&provider.TaskResult{
		ProviderID: "gemini",
		Model:      "gemini-1.5-flash",
		Usage:      &provider.Usage{InputTokens: 1000, OutputTokens: 200},
	}, nil)
	store := &MockLedger{recordErr: errors.New("disk full")}
	svc := newTestService(t, p, pricing.Table{"gemini": {Input: 1.25, Output: 10.00}}, store)

	result, err := svc.RunTask(context.Background(), summarizeRequest())
	if err != nil {
		t.Fatalf("RunTask must not fail on ledger error, got %v", err)
	}
	if result == nil {
		t.Fatal("expected result despite ledger error")
	}
}

func TestRunTask_ProviderFailurePropagates(t *testing.T) {
	upstream := errors.New("gemini api error (status 500): boom")
	p := summarizeProvider(nil, upstream)
	store := &MockLedger{}
	svc := newTestService(t, p, pricing.Table{}, store)

	_, err := svc.RunTask(context.Background(), summarizeRequest())
	if !errors.Is(err, upstream) {
		t.Errorf("expected upstream error propagated verbatim, got %v", err)
	}
	if len(store.records) != 0 {
		t.Errorf("failed invocation must not record spend")
	}
}

func TestRunTask_EndToEndWithFileLedger(t *testing.T) {
	p := summarizeProvider(&provider.TaskResult{
		ProviderID: "gemini",
		Model:      "gemini-1.5-flash",
		Output:     []provider.Message{{Role: "assistant", Content: "a summary"}},
		Usage:      &provider.Usage{InputTokens: 1000, OutputTokens: 200},
	}, nil)
	store, err := ledger.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	svc := newTestService(t, p, pricing.Table{"gemini": {Input: 1.25, Output: 10.00}}, store)
	at := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }

	if _, err := svc.RunTask(context.Background(), summarizeRequest()); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	summary, err := store.CurrentMonth(context.Background())
	if err != nil {
		t.Fatalf("CurrentMonth failed: %v", err)
	}
	if summary.Month != "2026-03" {
		t.Errorf("month = %s, want 2026-03", summary.Month)
	}
	if math.Abs(summary.Providers["gemini"]-0.00325) > 1e-9 {
		t.Errorf("gemini spend = %v, want 0.00325", summary.Providers["gemini"])
	}
}
