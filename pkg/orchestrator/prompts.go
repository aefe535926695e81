package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/csvio"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/glossary"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/llmtransport"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/router"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/scheduler"
)

// promptItem is one row as it appears in the batch's user-turn JSON body,
// the Go equivalent of translate_llm.py's build_user_prompt row dicts.
type promptItem struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	MaxLengthTarget int    `json:"max_length_target,omitempty"`
}

// buildItemsJSON renders rows as the user-turn JSON array every step's
// prompt shares, grounded on translate_llm.py's build_user_prompt (a
// plain json.dumps(rows, ...) of the pending batch).
func buildItemsJSON(rows []csvio.Row) string {
	items := make([]promptItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, promptItem{ID: r.StringID, Text: r.TokenizedText, MaxLengthTarget: r.MaxLengthTarget})
	}
	data, _ := json.MarshalIndent(items, "", "  ")
	return string(data)
}

// glossarySection renders the per-batch glossary constraint summary
// injected into the system prompt, grounded on translate_llm.py's
// build_glossary_summary (a "- term → target" bullet list, capped).
func glossarySection(constraints map[string][]glossary.Entry) string {
	seen := make(map[string]bool)
	var lines []string
outer:
	for _, entries := range constraints {
		for _, e := range entries {
			key := e.TermSource + "\x00" + e.TermTarget
			if seen[key] {
				continue
			}
			seen[key] = true
			lines = append(lines, fmt.Sprintf("- %s -> %s", e.TermSource, e.TermTarget))
			if len(lines) >= 50 {
				break outer
			}
		}
	}
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}

// lengthConstraintsSection renders the mandatory per-row length-limit
// section, grounded on translate_llm.py's build_system_prompt_factory
// constraint block.
func lengthConstraintsSection(rows []csvio.Row) string {
	var b strings.Builder
	for _, r := range rows {
		if r.MaxLengthTarget > 0 {
			fmt.Fprintf(&b, "- %s: max %d characters\n", r.StringID, r.MaxLengthTarget)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "\nLength constraints (mandatory):\nEach translation MUST NOT exceed its row's limit:\n" + b.String() +
		"If a translation is too long, prefer concise phrasing over dropping meaning.\n"
}

// translateSystemPrompt renders the translate step's system turn, the Go
// analogue of translate_llm.py's build_system_prompt_factory output.
func translateSystemPrompt(sourceLang string, rows []csvio.Row, constraints map[string][]glossary.Entry) string {
	return fmt.Sprintf(
		"You are a precise localization translator (source language: %s).\n\n"+
			"Output contract:\n"+
			"1. Output MUST be valid JSON: {\"items\": [{\"id\": \"...\", \"text\": \"...\"}]}.\n"+
			"2. Every input id MUST appear exactly once in the output.\n"+
			"3. Placeholder and tag tokens of the form ⟦PH_n⟧ / ⟦TAG_n⟧ MUST be preserved verbatim.\n"+
			"4. Glossary terms below MUST be used consistently wherever they appear.\n"+
			"%s\nGlossary:\n%s\n",
		sourceLang, lengthConstraintsSection(rows), glossarySection(constraints))
}

// repairSystemPrompt renders the repair loop's system turn. variant widens
// from a brief reminder to a fully explicit rule list as rounds escalate,
// grounded on repair_loop.py's standard/detailed/expert system prompts
// (spec.md §9 SUPPLEMENT).
func repairSystemPrompt(variant string, rows []csvio.Row, constraints map[string][]glossary.Entry) string {
	base := translateSystemPrompt("", rows, constraints)
	switch variant {
	case "detailed":
		return base + "\nThe previous attempt failed Hard QA. Re-examine token preservation and length limits carefully before answering.\n"
	case "expert":
		return base + "\nThis is the final repair round. If you cannot produce a translation that preserves every token and respects every length limit, prefix your item's text with \"[NEEDS_HUMAN]\" and explain why in one short sentence after the marker.\n"
	default:
		return base + "\nThe previous attempt failed Hard QA. Fix the listed issues without changing anything else.\n"
	}
}

// NewTranslatePromptBuilder returns a scheduler.PromptBuilder for the
// "translate" step.
func NewTranslatePromptBuilder(sourceLang string, rtr *router.Router) scheduler.PromptBuilder {
	return func(step, model string, rows []csvio.Row, constraints map[string][]glossary.Entry) llmtransport.Request {
		return buildRequest(rtr, step, model, rows, translateSystemPrompt(sourceLang, rows, constraints))
	}
}

// NewRepairPromptBuilder returns a scheduler.PromptBuilder for a repair
// round using the given prompt variant.
func NewRepairPromptBuilder(variant string, rtr *router.Router) scheduler.PromptBuilder {
	return func(step, model string, rows []csvio.Row, constraints map[string][]glossary.Entry) llmtransport.Request {
		return buildRequest(rtr, step, model, rows, repairSystemPrompt(variant, rows, constraints))
	}
}

func buildRequest(rtr *router.Router, step, model string, rows []csvio.Row, systemPrompt string) llmtransport.Request {
	cfg := rtr.GenerationParams(step)
	req := llmtransport.Request{
		Model: model,
		Messages: []llmtransport.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildItemsJSON(rows)},
		},
		Temperature:      cfg.Temperature,
		MaxTokens:        cfg.MaxTokens,
		GenerationParams: cfg.GenerationParams,
	}
	if cfg.ResponseFormat != "" {
		req.ResponseFormat = map[string]any{"type": cfg.ResponseFormat}
	}
	return req
}
