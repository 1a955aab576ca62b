// Package routing decides which backend runs a task. The decision is a pure
// function of the request's privacy level and intent: strict privacy wins
// over everything, otherwise a static intent rule table names exactly one
// provider/model pair. There is no ranking, load balancing, or fallback.
package routing

import (
	"errors"
	"fmt"

	"github.com/hvngo/llm-dispatch/internal/provider"
)

var (
	ErrNoRule          = errors.New("no routing rule for intent")
	ErrUnknownProvider = errors.New("routing rule references unknown provider")
	ErrPrivacyRejected = errors.New("provider does not support requested privacy level")
)

// Rule names the provider and model an intent routes to.
type Rule struct {
	ProviderID string
	Model      string
}

type RuleTable map[provider.Intent]Rule

// DefaultRules is the shipped decision table. Every intent in
// provider.Intents() must appear exactly once; NewPolicy enforces that.
func DefaultRules() RuleTable {
	return RuleTable{
		provider.IntentChat:      {ProviderID: "openai", Model: "gpt-4o-mini"},
		provider.IntentCodeGen:   {ProviderID: "claude", Model: "claude-3-5-sonnet-20241022"},
		provider.IntentSummarize: {ProviderID: "gemini", Model: "gemini-1.5-flash"},
		provider.IntentTranslate: {ProviderID: "gemini", Model: "gemini-1.5-flash"},
		provider.IntentWebSearch: {ProviderID: "openai", Model: "gpt-4o"},
		provider.IntentExtract:   {ProviderID: "openai", Model: "gpt-4o-mini"},
	}
}

type Policy struct {
	registry *Registry
	rules    RuleTable
}

// NewPolicy validates the rule table against the registry: every built-in
// intent needs a rule and every rule's provider must resolve. A bad table is
// a deployment error and fails startup, not a request.
func NewPolicy(registry *Registry, rules RuleTable) (*Policy, error) {
	for _, intent := range provider.Intents() {
		rule, ok := rules[intent]
		if !ok {
			return nil, fmt.Errorf("rule table missing intent %q", intent)
		}
		if _, ok := registry.Get(rule.ProviderID); !ok {
			return nil, fmt.Errorf("rule for intent %q: %w: %q", intent, ErrUnknownProvider, rule.ProviderID)
		}
		if rule.Model == "" {
			return nil, fmt.Errorf("rule for intent %q has no model", intent)
		}
	}
	return &Policy{registry: registry, rules: rules}, nil
}

// Select picks the single provider and model for a request.
//
// Strict privacy overrides the rule table: if a local backend is registered
// and attests strict support, it handles the task with its default model.
// Without such a backend the request falls through to the intent rule and the
// privacy check below rejects any provider that does not attest strict, so a
// strict task can never leak to a non-strict backend.
func (p *Policy) Select(req *provider.TaskRequest) (provider.Provider, string, error) {
	if req.Privacy == provider.PrivacyStrict {
		if local, ok := p.registry.Local(); ok {
			d := local.Descriptor()
			if d.SupportsPrivacy(provider.PrivacyStrict) {
				return local, d.DefaultModel, nil
			}
		}
	}

	rule, ok := p.rules[req.Intent]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrNoRule, req.Intent)
	}

	prov, ok := p.registry.Get(rule.ProviderID)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownProvider, rule.ProviderID)
	}

	if !prov.Descriptor().SupportsPrivacy(req.Privacy) {
		return nil, "", fmt.Errorf("%w: provider %q, level %q", ErrPrivacyRejected, rule.ProviderID, req.Privacy)
	}

	return prov, rule.Model, nil
}
