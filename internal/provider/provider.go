package provider

import (
	"context"
)

// Intent categorizes what kind of work a task asks for. Routing is keyed on
// intent, so the set is closed: a value outside this list has no routing rule
// and the dispatch fails rather than guessing a provider.
type Intent string

const (
	IntentChat      Intent = "chat"
	IntentCodeGen   Intent = "code_gen"
	IntentSummarize Intent = "summarize"
	IntentTranslate Intent = "translate"
	IntentWebSearch Intent = "web_search"
	IntentExtract   Intent = "extract"
)

// Intents lists every intent the rule table must cover.
func Intents() []Intent {
	return []Intent{
		IntentChat,
		IntentCodeGen,
		IntentSummarize,
		IntentTranslate,
		IntentWebSearch,
		IntentExtract,
	}
}

type PrivacyLevel string

const (
	PrivacyStrict PrivacyLevel = "strict"
	PrivacyNormal PrivacyLevel = "normal"
)

type CostTier string

const (
	TierCheap    CostTier = "cheap"
	TierStandard CostTier = "standard"
	TierPremium  CostTier = "premium"
)

// TaskRequest is the caller-supplied task. Built once per call and never
// mutated by the core.
type TaskRequest struct {
	Role        string       `json:"role"`
	Intent      Intent       `json:"intent" validate:"required"`
	Priority    int          `json:"priority"`
	Privacy     PrivacyLevel `json:"privacy_level" validate:"required,oneof=strict normal"`
	CostTier    CostTier     `json:"cost_tier" validate:"required,oneof=cheap standard premium"`
	Messages    []Message    `json:"messages" validate:"required,min=1,dive"`
	Tools       []ToolDef    `json:"tools,omitempty"`
	RoutingHint string       `json:"routing_hint,omitempty"`
}

type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant tool"`
	Content string `json:"content"`
}

type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Usage is the token consumption a provider reported for one invocation.
// Some providers never report it, so TaskResult carries it as a pointer.
type Usage struct {
	InputTokens       int `json:"input_tokens"`
	OutputTokens      int `json:"output_tokens"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
}

// TaskResult is the normalized outcome of one provider invocation. Model is
// what the provider says it ran, which may differ from what routing asked for.
type TaskResult struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	Model      string    `json:"model"`
	Output     []Message `json:"output"`
	Usage      *Usage    `json:"usage,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
}

// Descriptor is a backend's static capability record. One per provider,
// built at construction, never mutated.
type Descriptor struct {
	ID               string
	Label            string
	CostTier         CostTier
	MaxContextTokens int
	Specialties      []Intent
	// DefaultModel is what the strict-privacy override runs when routing
	// bypasses the intent rule table.
	DefaultModel string

	privacy map[PrivacyLevel]bool
}

// NewDescriptor builds a descriptor whose SupportsPrivacy predicate holds for
// exactly the given levels.
func NewDescriptor(id, label string, tier CostTier, maxContext int, defaultModel string, specialties []Intent, levels ...PrivacyLevel) Descriptor {
	p := make(map[PrivacyLevel]bool, len(levels))
	for _, l := range levels {
		p[l] = true
	}
	return Descriptor{
		ID:               id,
		Label:            label,
		CostTier:         tier,
		MaxContextTokens: maxContext,
		Specialties:      specialties,
		DefaultModel:     defaultModel,
		privacy:          p,
	}
}

func (d Descriptor) SupportsPrivacy(level PrivacyLevel) bool {
	return d.privacy[level]
}

// Provider is one downstream backend. Invoke performs the actual network call
// with the model routing chose; each adapter owns its own timeout.
type Provider interface {
	Descriptor() Descriptor
	Invoke(ctx context.Context, model string, req *TaskRequest) (*TaskResult, error)
}
