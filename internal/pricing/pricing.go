// Package pricing holds the static per-provider unit prices and turns
// reported token usage into USD. A provider with no entry simply has no
// recordable cost; that is the normal state for local backends.
package pricing

import (
	"github.com/hvngo/llm-dispatch/internal/provider"
)

// Entry is the USD price per million tokens for one provider. CachedInput is
// zero for providers without a cached-input discount.
type Entry struct {
	Input       float64
	Output      float64
	CachedInput float64
}

type Table map[string]Entry

// Default prices blended per provider. Ollama is deliberately absent: local
// inference has no metered cost.
func Default() Table {
	return Table{
		"openai": {Input: 0.15, Output: 0.60, CachedInput: 0.075},
		"claude": {Input: 3.00, Output: 15.00, CachedInput: 0.30},
		"gemini": {Input: 0.075, Output: 0.30},
	}
}

func (t Table) Lookup(providerID string) (Entry, bool) {
	e, ok := t[providerID]
	return e, ok
}

// Cost computes the USD cost of one invocation. Cached input tokens are
// billed at the cached rate when the entry defines one, otherwise at the
// full input rate.
func (e Entry) Cost(u provider.Usage) float64 {
	input := u.InputTokens
	var cached int
	if e.CachedInput > 0 && u.CachedInputTokens > 0 && u.CachedInputTokens <= input {
		cached = u.CachedInputTokens
		input -= cached
	}
	return float64(input)/1e6*e.Input +
		float64(cached)/1e6*e.CachedInput +
		float64(u.OutputTokens)/1e6*e.Output
}
