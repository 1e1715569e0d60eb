// Package thinking derives a reasoning budget from the user's own words.
// Phrases like "think hard" or "ultrathink" in the latest user message map
// to a discrete thinking level, which a second step translates into
// provider-specific request knobs.
package thinking

import (
	"regexp"
	"strings"
)

// Level is the discrete thinking intensity derived from user text.
type Level string

const (
	LevelNone   Level = "none"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Token budgets per level. The high budget sits just under the Anthropic
// interleaved-thinking ceiling.
const (
	budgetLow    = 4000
	budgetMedium = 10000
	budgetHigh   = 31999
)

// Decision is the result of analyzing one user message. Stateless and never
// persisted; recomputed per turn.
type Decision struct {
	Level        Level
	BudgetTokens int
	Interleaved  bool
}

var highPatterns = []string{
	"ultrathink",
	"think harder",
	"think really hard",
	"think very hard",
	"think super hard",
	"think intensely",
	"think longer",
}

var mediumPatterns = []string{
	"megathink",
	"think a lot",
	"think about it",
	"think deeply",
	"think hard",
	"think more",
}

// Matches "think" as its own word, so "rethinking" does not trigger.
var bareThink = regexp.MustCompile(`\bthink\b`)

// Analyze classifies the latest user message into a thinking decision.
// High-level patterns are checked first so the highest co-occurring level
// wins. The "step by step" signal is independent of the level.
func Analyze(text string) Decision {
	lower := strings.ToLower(text)

	d := Decision{Level: LevelNone}
	switch {
	case containsAny(lower, highPatterns):
		d.Level = LevelHigh
		d.BudgetTokens = budgetHigh
	case containsAny(lower, mediumPatterns):
		d.Level = LevelMedium
		d.BudgetTokens = budgetMedium
	case bareThink.MatchString(lower):
		d.Level = LevelLow
		d.BudgetTokens = budgetLow
	}

	if strings.Contains(lower, "step by step") {
		d.Interleaved = true
	}
	return d
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Effort is the tri-level reasoning effort used by providers that take an
// effort enum instead of a token budget.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// InterleavedBetaHeader is sent to thinking-capable providers when the user
// asked for step-by-step output.
const InterleavedBetaHeader = "interleaved-thinking-2025-05-14"

// Knobs carries the provider-specific request parameters produced from a
// Decision. Zero value means "send nothing".
type Knobs struct {
	// Enabled requests extended thinking with BudgetTokens (thinking-capable
	// family: anthropic, bedrock).
	Enabled      bool
	BudgetTokens int
	// BetaHeader is set when interleaved thinking was requested, only for
	// the thinking-capable family.
	BetaHeader string
	// Effort is set instead of a budget for the reasoning-effort family
	// (openai).
	Effort Effort
}

// MapToProvider translates a decision into request knobs for the named
// provider family. Unknown providers default to the thinking-capable
// mapping. maxBudget caps the token budget; zero means no cap.
func MapToProvider(d Decision, provider string, maxBudget int) Knobs {
	switch provider {
	case "anthropic", "bedrock", "":
		return thinkingKnobs(d, maxBudget)
	case "openai":
		return effortKnobs(d)
	case "gemini":
		// Known provider outside both knob families.
		return Knobs{}
	default:
		return thinkingKnobs(d, maxBudget)
	}
}

func thinkingKnobs(d Decision, maxBudget int) Knobs {
	if d.Level == LevelNone {
		return Knobs{}
	}
	budget := d.BudgetTokens
	if maxBudget > 0 && budget > maxBudget {
		budget = maxBudget
	}
	k := Knobs{Enabled: true, BudgetTokens: budget}
	if d.Interleaved {
		k.BetaHeader = InterleavedBetaHeader
	}
	return k
}

func effortKnobs(d Decision) Knobs {
	switch d.Level {
	case LevelLow:
		return Knobs{Effort: EffortLow}
	case LevelMedium:
		return Knobs{Effort: EffortMedium}
	case LevelHigh:
		return Knobs{Effort: EffortHigh}
	default:
		return Knobs{}
	}
}
