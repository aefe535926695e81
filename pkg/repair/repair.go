// Package repair is the Repair Loop: rows that fail Hard QA get
// re-routed through escalating models and prompt strategies for a
// bounded number of rounds before being handed to a human reviewer
// (spec.md §1, §4.8). Round structure, prompt variants, the
// "[NEEDS_HUMAN]" sentinel, and the escalation-record shape are grounded
// on original_source's skill/v1.2.0/scripts/repair_loop.py.
package repair

import (
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/codec"
)

// Status is a repair task's lifecycle state.
type Status string

// Recognized statuses.
const (
	StatusPending   Status = "pending"
	StatusRepaired  Status = "repaired"
	StatusEscalated Status = "escalated"
)

// PromptVariant selects how much context and strictness the repair
// prompt carries; later rounds use progressively more detailed variants
// (spec.md §9 SUPPLEMENT, grounded on repair_loop.py's
// standard/detailed/expert system prompts).
type PromptVariant string

// Recognized prompt variants.
const (
	VariantStandard PromptVariant = "standard"
	VariantDetailed PromptVariant = "detailed"
	VariantExpert   PromptVariant = "expert"
)

// needsHumanSentinel is the literal marker a repair response can lead
// with to mark itself unfixable: Run records that round as failed, and
// the task is retried in later rounds and escalated once the round
// budget is exhausted (spec.md §9 SUPPLEMENT; repair_loop.py's
// "[NEEDS_HUMAN]" prefix).
const needsHumanSentinel = "[NEEDS_HUMAN]"

// Issue is one QA failure the task must resolve.
type Issue struct {
	Type   string
	Detail string
}

// Attempt records one round's repair try.
type Attempt struct {
	Round        int
	Model        string
	Timestamp    time.Time
	AttemptedFix string
	Passed       bool
	FailReason   string
}

// Task is a single row under repair.
type Task struct {
	StringID            string
	SourceText          string
	CurrentTranslation  string
	Issues              []Issue
	Severity            string
	MaxLengthTarget     int

	History []Attempt
	Status  Status

	FinalTranslation string
}

// NewTask constructs a pending repair Task for one failed row.
func NewTask(stringID, sourceText, currentTranslation string, issues []Issue, severity string, maxLengthTarget int) *Task {
	return &Task{
		StringID:           stringID,
		SourceText:         sourceText,
		CurrentTranslation: currentTranslation,
		Issues:             issues,
		Severity:           severity,
		MaxLengthTarget:    maxLengthTarget,
		Status:             StatusPending,
	}
}

// recordAttempt appends attempt to the task's history and, if it passed,
// marks the task repaired.
func (t *Task) recordAttempt(a Attempt) {
	t.History = append(t.History, a)
	if a.Passed {
		t.Status = StatusRepaired
		t.FinalTranslation = a.AttemptedFix
	}
}

// escalate marks t as needing human review, recording why.
func (t *Task) escalate(reason string) {
	t.Status = StatusEscalated
	t.History = append(t.History, Attempt{Round: -1, FailReason: reason, Timestamp: time.Now()})
}

// RoundConfig names the model and prompt strategy for one repair round.
type RoundConfig struct {
	Model         string
	PromptVariant PromptVariant
}

// Config is the repair loop's tunable configuration.
type Config struct {
	MaxRounds int
	Rounds    map[int]RoundConfig
}

// DefaultConfig mirrors repair_loop.py's built-in fallback configuration:
// three rounds, escalating from a cheap model/standard prompt to a
// stronger model/expert prompt.
func DefaultConfig(cheapModel, strongModel string) Config {
	return Config{
		MaxRounds: 3,
		Rounds: map[int]RoundConfig{
			1: {Model: cheapModel, PromptVariant: VariantStandard},
			2: {Model: cheapModel, PromptVariant: VariantDetailed},
			3: {Model: strongModel, PromptVariant: VariantExpert},
		},
	}
}

// Repairer is a function that performs one repair attempt against the
// round's model with a step-specific prompt; repair just drives it round
// by round. The orchestrator's Repairer makes one direct transport call
// per task and does not go through the Batch Scheduler's worker pool.
type Repairer func(task *Task, round int, cfg RoundConfig) (translation string, needsHuman bool, humanReason string)

// Stats summarizes one Run.
type Stats struct {
	TotalTasks int
	Repaired   int
	Escalated  int
	ByRound    map[int]int
}

// Run drives tasks through up to cfg.MaxRounds repair rounds, calling
// repairFn for every still-pending task each round, validating its
// result locally, and escalating whatever remains pending after the
// final round (spec.md §4.8, S8).
func Run(tasks []*Task, cfg Config, repairFn Repairer) ([]*Task, []*Task, Stats) {
	stats := Stats{TotalTasks: len(tasks), ByRound: make(map[int]int)}

	for round := 1; round <= cfg.MaxRounds; round++ {
		pending := pendingTasks(tasks)
		if len(pending) == 0 {
			break
		}

		roundCfg, ok := cfg.Rounds[round]
		if !ok {
			roundCfg = cfg.Rounds[1]
		}

		for _, task := range pending {
			translation, needsHuman, reason := repairFn(task, round, roundCfg)

			if needsHuman || strings.HasPrefix(strings.TrimSpace(translation), needsHumanSentinel) {
				task.recordAttempt(Attempt{Round: round, Model: roundCfg.Model, Timestamp: time.Now(),
					AttemptedFix: task.CurrentTranslation, Passed: false, FailReason: "marked for human review: " + reason})
				continue
			}

			passed, failReason := validateFix(translation, task)
			task.recordAttempt(Attempt{
				Round:        round,
				Model:        roundCfg.Model,
				Timestamp:    time.Now(),
				AttemptedFix: translation,
				Passed:       passed,
				FailReason:   failReason,
			})
			if passed {
				stats.Repaired++
				stats.ByRound[round]++
			}
		}
	}

	var escalated []*Task
	for _, task := range tasks {
		if task.Status == StatusPending {
			task.escalate("failed after " + strconv.Itoa(cfg.MaxRounds) + " repair rounds")
			escalated = append(escalated, task)
			stats.Escalated++
		}
	}

	return tasks, escalated, stats
}

func pendingTasks(tasks []*Task) []*Task {
	var out []*Task
	for _, t := range tasks {
		if t.Status == StatusPending {
			out = append(out, t)
		}
	}
	return out
}

// validateFix runs the repair loop's own, local pass/fail check —
// independent of the Hard QA Validator, and intentionally narrower: it
// only checks length, token-set equality, and non-emptiness, mirroring
// repair_loop.py's _validate_repair (spec.md §4.8).
func validateFix(translation string, task *Task) (passed bool, failReason string) {
	if strings.TrimSpace(translation) == "" {
		return false, "translation is empty"
	}
	if task.MaxLengthTarget > 0 && len([]rune(translation)) > task.MaxLengthTarget {
		return false, "length exceeds max_length_target"
	}

	sourceTokens := codec.TokenMultiset(task.SourceText)
	targetTokens := codec.TokenMultiset(translation)
	if len(sourceTokens) != len(targetTokens) {
		return false, "token set mismatch"
	}
	for name, count := range sourceTokens {
		if targetTokens[name] != count {
			return false, "token set mismatch"
		}
	}

	return true, ""
}
