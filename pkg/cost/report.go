package cost

import (
	"fmt"
	"strings"
)

// knownSteps lists the pipeline steps every llm_call is expected to carry
// in its metadata; the report's unknown-step warning names them. Only a
// call with no step at all is counted as "unknown"; any other step name
// is reported under its own label (spec.md §4.9).
var knownSteps = []string{"translate", "soft_qa", "repair", "glossary_autopromote"}

// unknownStepWarningThreshold mirrors metrics_aggregator.py's
// `if unknown_step_ratio > 0.01` — more than 1% of calls missing step
// metadata earns a dedicated warning section.
const unknownStepWarningThreshold = 0.01

// maxPricingWarningsShown and maxBreakdownRowsShown cap how much detail
// the Markdown report inlines before summarizing the rest, matching the
// Python report's [:20] / [:30] slices.
const (
	maxPricingWarningsShown = 20
	maxBreakdownRowsShown   = 30
)

// RenderMarkdown renders r as a human-readable report, the Go equivalent
// of metrics_aggregator.py's Markdown section builder.
func RenderMarkdown(r Report, currency string, pricingWarnings []string) string {
	var b strings.Builder

	b.WriteString("# Localization Metrics Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Total LLM Calls | %d |\n", r.TotalCalls)
	fmt.Fprintf(&b, "| Avg Latency | %.1f ms |\n", r.AvgLatencyMS)
	fmt.Fprintf(&b, "| Total Tokens | %s |\n", commaInt(r.TotalTokens))
	fmt.Fprintf(&b, "| Prompt Tokens | %s |\n", commaInt(r.PromptTokens))
	fmt.Fprintf(&b, "| Completion Tokens | %s |\n", commaInt(r.CompletionTokens))
	fmt.Fprintf(&b, "| Total Cost | $%.6f %s |\n", r.TotalCost, currency)
	if r.CostPer1kLines != 0 {
		fmt.Fprintf(&b, "| Cost per 1k Lines | $%.6f %s |\n", r.CostPer1kLines, currency)
	}
	if r.TotalCalls > 0 {
		fmt.Fprintf(&b, "| Usage Data Present | %.1f%% |\n", r.UsagePresenceRate*100)
	}
	if r.EstimatedCalls > 0 {
		fmt.Fprintf(&b, "| Estimated Calls | %d |\n", r.EstimatedCalls)
	}
	b.WriteString("\n")

	if len(r.MissingPricingModels) > 0 {
		b.WriteString("## Missing Pricing\n\n")
		b.WriteString("The following models have no pricing data:\n\n")
		for _, m := range r.MissingPricingModels {
			fmt.Fprintf(&b, "- `%s`\n", m)
		}
		b.WriteString("\n")
	}

	if len(pricingWarnings) > 0 {
		b.WriteString("## Pricing Warnings\n\n")
		shown := pricingWarnings
		if len(shown) > maxPricingWarningsShown {
			shown = shown[:maxPricingWarningsShown]
		}
		for _, w := range shown {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		if len(pricingWarnings) > maxPricingWarningsShown {
			fmt.Fprintf(&b, "- ... (%d more)\n", len(pricingWarnings)-maxPricingWarningsShown)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Cost by Model & Step\n\n")
	b.WriteString("| Model | Step | Calls | Tokens | Cost |\n|-------|------|-------|--------|------|\n")
	rows := r.Breakdown
	if len(rows) > maxBreakdownRowsShown {
		rows = rows[:maxBreakdownRowsShown]
	}
	for _, row := range rows {
		fmt.Fprintf(&b, "| %s | %s | %d | %s | $%.6f |\n", row.Model, row.Step, row.Calls, commaInt(row.TotalTokens), row.Cost)
	}
	b.WriteString("\n")

	if r.UnknownStepRatio > unknownStepWarningThreshold {
		b.WriteString("## Unknown Step Warning\n\n")
		fmt.Fprintf(&b, "> **%d** LLM calls (%.1f%%) have `step=unknown`.\n", r.UnknownStepCalls, r.UnknownStepRatio*100)
		b.WriteString("> Every call should carry step metadata identifying which pipeline stage issued it.\n")
		b.WriteString(">\n")
		fmt.Fprintf(&b, "> Valid steps: %s\n\n", strings.Join(backtickJoin(knownSteps), ", "))
	}

	return b.String()
}

func backtickJoin(steps []string) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = "`" + s + "`"
	}
	return out
}

// commaInt formats n with thousands separators, the Go equivalent of
// Python's f"{n:,}".
func commaInt(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
