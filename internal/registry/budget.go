package registry

import (
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// TokenBudget caps tool results at a share of a model's context window.
// The zero value is disabled.
type TokenBudget struct {
	model  string
	tokens int
	count  func(model, text string) int
}

// NewTokenBudget sizes the budget from the model's context window as known
// to langchaingo. An empty model or a non-positive share disables it.
func NewTokenBudget(model string, share float64) TokenBudget {
	model = strings.TrimSpace(model)
	if model == "" || share <= 0 {
		return TokenBudget{}
	}
	return TokenBudget{
		model:  model,
		tokens: int(float64(llms.GetModelContextSize(model)) * min(share, 1)),
		count:  llms.CountTokens,
	}
}

func (b TokenBudget) Enabled() bool { return b.model != "" && b.tokens > 0 }

func (b TokenBudget) Model() string { return b.model }

// Tokens is the largest result, in tokens, the budget admits.
func (b TokenBudget) Tokens() int { return b.tokens }

// Fits counts payload's tokens and reports whether they stay within budget.
func (b TokenBudget) Fits(payload []byte) (int, bool) {
	if !b.Enabled() {
		return 0, true
	}
	n := b.count(b.model, string(payload))
	return n, n <= b.tokens
}
