// Package cost is the Cost Aggregator: an offline reducer over a trace
// file's llm_call events that turns recorded (or estimated) token usage
// into a dollar figure per model, per step, and per run, using whichever
// billing formula the pricing book configures (spec.md §4.9). It reads
// nothing the scheduler wrote beyond the trace, and writes nothing back
// into the run; it's a report generator, not a pipeline stage. Grounded
// on original_source's scripts/metrics_aggregator.py.
package cost

import (
	"sort"
	"strings"
	"time"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/llmtransport"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/pricing"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/trace"
)

// unknownLabel is substituted for an empty model or step, mirroring
// metrics_aggregator.py's `(e.get("model") or "unknown").strip()`.
const unknownLabel = "unknown"

// Breakdown is one (model, step) aggregate row.
type Breakdown struct {
	Model             string  `json:"model"`
	Step              string  `json:"step"`
	Calls             int     `json:"calls"`
	PromptTokens      int     `json:"prompt_tokens"`
	CompletionTokens  int     `json:"completion_tokens"`
	TotalTokens       int     `json:"total_tokens"`
	Cost              float64 `json:"cost"`
	UsagePresentCalls int     `json:"usage_present_calls"`
	EstimatedCalls    int     `json:"estimated_calls"`
	AvgLatencyMS      float64 `json:"avg_latency_ms"`
	latencyMSSum      float64
}

// Totals is the run-wide aggregate across every llm_call event.
type Totals struct {
	Calls                     int
	UsagePresentCalls         int
	EstimatedCalls            int
	UnknownStepCalls          int
	PromptTokens              int
	CompletionTokens          int
	TotalTokens               int
	EstimatedPromptTokens     int
	EstimatedCompletionTokens int
	Cost                      float64
	CostEstimatedPortion      float64
	latencyMSSum              float64
}

// Report is the Cost Aggregator's full output, mirroring
// metrics_aggregator.py's summary dict.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	TraceFile   string    `json:"trace_file"`

	MissingPricingModels []string `json:"missing_pricing_models"`

	TotalCalls        int     `json:"total_calls"`
	UsagePresentCalls int     `json:"usage_present_calls"`
	UsagePresenceRate float64 `json:"usage_presence_rate"`
	EstimatedCalls    int     `json:"estimated_calls"`
	UnknownStepCalls  int     `json:"unknown_step_calls"`
	UnknownStepRatio  float64 `json:"unknown_step_ratio"`
	AvgLatencyMS      float64 `json:"avg_latency_ms"`

	PromptTokens              int `json:"prompt_tokens"`
	CompletionTokens          int `json:"completion_tokens"`
	TotalTokens               int `json:"total_tokens"`
	EstimatedPromptTokens     int `json:"estimated_prompt_tokens"`
	EstimatedCompletionTokens int `json:"estimated_completion_tokens"`

	TotalCost            float64 `json:"total_cost"`
	CostEstimatedPortion float64 `json:"cost_estimated_portion"`
	CostPer1kLines       float64 `json:"cost_per_1k_lines,omitempty"`

	Breakdown []Breakdown `json:"breakdown"`
}

// Aggregate reduces a trace file's llm_call events into a Report, pricing
// each call against book and dividing the run's total cost across
// denomLines (typically the translated-row count) for a cost-per-1k-lines
// figure. denomLines of 0 omits that figure rather than dividing by zero.
func Aggregate(events []trace.Event, book *pricing.Book, traceFile string, denomLines int) Report {
	totals := Totals{}
	byKey := make(map[string]*Breakdown)
	missing := make(map[string]bool)

	billing := book.Billing()
	conversionRate := conversionRate(billing)

	for _, e := range events {
		if e.Type != trace.EventLLMCall {
			continue
		}
		model := normalizeLabel(stringExtra(e.Extra, "model", e.Model))
		step := normalizeLabel(stringExtra(e.Extra, "step", e.Step))
		latencyMS := floatExtra(e.Extra, "latency_ms")

		if step == unknownLabel {
			totals.UnknownStepCalls++
		}

		pt, ct, usagePresent := tokensFor(e)
		tt := pt + ct

		price, hasPrice := book.Price(model)
		if !hasPrice {
			missing[model] = true
		}

		c := callCost(book.Mode(), price, hasPrice, pt, ct, conversionRate, billing)
		c += book.Surcharges().PerRequestUSD
		c *= 1.0 + book.Surcharges().PercentMarkup

		totals.Calls++
		totals.latencyMSSum += latencyMS
		totals.PromptTokens += pt
		totals.CompletionTokens += ct
		totals.TotalTokens += tt
		totals.Cost += c
		if usagePresent {
			totals.UsagePresentCalls++
		} else {
			totals.EstimatedCalls++
			totals.EstimatedPromptTokens += pt
			totals.EstimatedCompletionTokens += ct
			totals.CostEstimatedPortion += c
		}

		key := model + "::" + step
		b, ok := byKey[key]
		if !ok {
			b = &Breakdown{Model: model, Step: step}
			byKey[key] = b
		}
		b.Calls++
		b.PromptTokens += pt
		b.CompletionTokens += ct
		b.TotalTokens += tt
		b.Cost += c
		b.latencyMSSum += latencyMS
		if usagePresent {
			b.UsagePresentCalls++
		} else {
			b.EstimatedCalls++
		}
	}

	breakdown := make([]Breakdown, 0, len(byKey))
	for _, b := range byKey {
		if b.Calls > 0 {
			b.AvgLatencyMS = b.latencyMSSum / float64(b.Calls)
		}
		breakdown = append(breakdown, *b)
	}
	sort.Slice(breakdown, func(i, j int) bool { return breakdown[i].Cost > breakdown[j].Cost })

	r := Report{
		TraceFile:                 traceFile,
		MissingPricingModels:      sortedKeys(missing),
		TotalCalls:                totals.Calls,
		UsagePresentCalls:         totals.UsagePresentCalls,
		EstimatedCalls:            totals.EstimatedCalls,
		UnknownStepCalls:          totals.UnknownStepCalls,
		PromptTokens:              totals.PromptTokens,
		CompletionTokens:          totals.CompletionTokens,
		TotalTokens:               totals.TotalTokens,
		EstimatedPromptTokens:     totals.EstimatedPromptTokens,
		EstimatedCompletionTokens: totals.EstimatedCompletionTokens,
		TotalCost:                 totals.Cost,
		CostEstimatedPortion:      totals.CostEstimatedPortion,
		Breakdown:                 breakdown,
	}
	if totals.Calls > 0 {
		r.UsagePresenceRate = float64(totals.UsagePresentCalls) / float64(totals.Calls)
		r.UnknownStepRatio = float64(totals.UnknownStepCalls) / float64(totals.Calls)
		r.AvgLatencyMS = totals.latencyMSSum / float64(totals.Calls)
	}
	if denomLines > 0 {
		r.CostPer1kLines = totals.Cost / (float64(denomLines) / 1000.0)
	}
	return r
}

// minRateDenominator floors the "old" rate so a denominator can't divide
// by zero, matching metrics_aggregator.py's `max(..., 0.001)` floor; an
// absent "old" rate is first defaulted to 1.0 by rateOrDefault, like an
// absent numerator.
const minRateDenominator = 0.001

// conversionRate reproduces the literal, unnormalized
// (new_recharge/old_recharge) x (new_group/old_group) arithmetic the
// multiplier formula uses, per spec.md §9's Open Question: this formula
// is preserved exactly, not "fixed" to a cleaner normalization. Each
// ratio defaults its numerator to 1.0 and floors its denominator at
// minRateDenominator independently, so a config missing one rate table
// still gets a real contribution from the other rather than the whole
// conversion rate collapsing to a flat 1.0.
func conversionRate(b pricing.Billing) float64 {
	rechargeRatio := rateOrDefault(b.RechargeRate["new"]) / maxFloat(rateOrDefault(b.RechargeRate["old"]), minRateDenominator)
	groupRatio := rateOrDefault(b.GroupRate["new"]) / maxFloat(rateOrDefault(b.GroupRate["old"]), minRateDenominator)
	return rechargeRatio * groupRatio
}

// rateOrDefault returns v, or 1.0 if v is absent (zero).
func rateOrDefault(v float64) float64 {
	if v == 0 {
		return 1.0
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// callCost applies the configured billing formula to one call's token
// counts. A missing price entry costs 0.0 in either mode, matching the
// Python reducer's `if not price: missing_pricing_models.add(model)`
// followed by a cost left at 0.0 for that call.
func callCost(mode pricing.Mode, price pricing.ModelPrice, hasPrice bool, pt, ct int, conversionRate float64, billing pricing.Billing) float64 {
	if !hasPrice {
		return 0.0
	}
	if mode == pricing.ModeMultiplier {
		effectiveTokens := float64(pt) + float64(ct)*price.CompletionMult
		return conversionRate * billing.UserGroupMultiplier * price.PromptMult * effectiveTokens / billing.TokenDivisor
	}
	var c float64
	c += (float64(pt) / 1_000_000.0) * price.InputPer1M
	c += (float64(ct) / 1_000_000.0) * price.OutputPer1M
	return c
}

// tokensFor reads usage straight off the event's Extra payload when the
// scheduler recorded it, falling back to a char-count estimate when the
// upstream response carried no usage block (spec.md §4.9, S6).
func tokensFor(e trace.Event) (promptTokens, completionTokens int, usagePresent bool) {
	usagePresent, _ = boolExtra(e.Extra, "usage_present")
	if usagePresent {
		return intExtra(e.Extra, "prompt_tokens"), intExtra(e.Extra, "completion_tokens"), true
	}
	reqChars := intExtra(e.Extra, "req_chars")
	respChars := intExtra(e.Extra, "resp_chars")
	return llmtransport.EstimateTokens(reqChars), llmtransport.EstimateTokens(respChars), false
}

func normalizeLabel(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return unknownLabel
	}
	return s
}

func stringExtra(extra map[string]any, key, fallback string) string {
	if extra != nil {
		if v, ok := extra[key].(string); ok && v != "" {
			return v
		}
	}
	return fallback
}

func intExtra(extra map[string]any, key string) int {
	if extra == nil {
		return 0
	}
	switch v := extra[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatExtra(extra map[string]any, key string) float64 {
	if extra == nil {
		return 0
	}
	if v, ok := extra[key].(float64); ok {
		return v
	}
	return 0
}

func boolExtra(extra map[string]any, key string) (bool, bool) {
	if extra == nil {
		return false, false
	}
	v, ok := extra[key].(bool)
	return v, ok
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
