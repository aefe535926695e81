package repair

import (
	"strconv"
	"strings"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/csvio"
)

// EscalationRows renders escalated tasks into reviewer CSV rows, the Go
// equivalent of repair_loop.py's generate_escalation_report: one row per
// task, a flattened issue summary, repair-attempt count, and the last
// attempted fix before escalation (spec.md §4.8, S8).
func EscalationRows(tasks []*Task) []csvio.Row {
	rows := make([]csvio.Row, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, csvio.Row{
			StringID:        t.StringID,
			SourceText:      t.SourceText,
			TargetText:      t.CurrentTranslation,
			MaxLengthTarget: t.MaxLengthTarget,
			Extra: map[string]string{
				"severity":          t.Severity,
				"issues_summary":    issuesSummary(t.Issues),
				"repair_attempts":   repairAttemptCount(t),
				"last_attempted_fix": lastAttemptedFix(t),
				"suggested_action":  suggestAction(t.Issues),
			},
		})
	}
	return rows
}

func issuesSummary(issues []Issue) string {
	parts := make([]string, 0, len(issues))
	for _, i := range issues {
		parts = append(parts, i.Type+": "+i.Detail)
	}
	return strings.Join(parts, "; ")
}

func repairAttemptCount(t *Task) string {
	n := 0
	for _, a := range t.History {
		if a.Round > 0 {
			n++
		}
	}
	return strconv.Itoa(n)
}

func lastAttemptedFix(t *Task) string {
	// The escalation attempt itself (Round == -1) is always last; the
	// most recent real repair attempt is the one before it.
	for i := len(t.History) - 2; i >= 0; i-- {
		if t.History[i].Round > 0 {
			return t.History[i].AttemptedFix
		}
	}
	return ""
}

// suggestAction mirrors repair_loop.py's _suggest_action: a canned
// remediation hint keyed off the first recognized issue type.
func suggestAction(issues []Issue) string {
	types := make(map[string]bool, len(issues))
	for _, i := range issues {
		types[i.Type] = true
	}
	switch {
	case types["placeholder_mismatch"] || types["token_mismatch"]:
		return "check placeholders — source and target token counts must match"
	case types["length_overflow"]:
		return "shorten the translation, prefer more concise phrasing"
	case types["glossary_violation"]:
		return "check terminology against the glossary"
	case types["meaning_reversal"]:
		return "retranslate — current translation contradicts or diverges from source"
	default:
		return "manual review required"
	}
}
