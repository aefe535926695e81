// Package orchestrator wires every other package into one end-to-end run:
// load configuration and inputs, freeze placeholders, translate, validate,
// repair, rehydrate, and emit the final artifacts. It owns no algorithm of
// its own — it is exactly the composition root spec.md §9's DESIGN NOTES
// describe, grounded on the teacher's cmd/tarsy/main.go + pkg/config
// Initialize pairing: parse configuration, build every collaborator once,
// then drive the run to completion or a clean, categorized failure.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/cachestore"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/codec"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/cost"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/csvio"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/glossary"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/llmtransport"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/pricing"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/qa"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/repair"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/router"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/scheduler"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/schema"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/trace"
)

// Output artifact file names, all relative to RunConfig.OutputDir.
const (
	mapFileName      = "map.json"
	draftFileName    = "draft.csv"
	finalFileName    = "final.csv"
	reviewerFileName = "reviewer.csv"
	qaReportFileName = "qa_report.json"
)

// Exit codes, per spec.md §6.
const (
	ExitSuccess     = 0
	ExitQAFailure   = 1
	ExitConfigError = 2
)

// Orchestrator holds every collaborator built once at New and reused
// across the whole run.
type Orchestrator struct {
	cfg RunConfig

	schema     *schema.Schema
	glossaryIx *glossary.Index
	pricingBk  *pricing.Book
	rtr        *router.Router
	cache      *cachestore.Store
	tracer     *trace.Sink
	client     *llmtransport.Client

	logger *slog.Logger
}

// New builds every collaborator RunConfig describes. Any failure here is a
// configuration error (exit code 2).
func New(cfg RunConfig, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	s, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	envDefaultModel := os.Getenv("LLM_MODEL")
	rtr, err := router.Load(cfg.RoutingPath, envDefaultModel)
	if err != nil {
		return nil, fmt.Errorf("loading routing config: %w", err)
	}

	var glossaryIx *glossary.Index
	if cfg.GlossaryPath != "" {
		glossaryIx, err = glossary.Load(cfg.GlossaryPath)
		if err != nil {
			return nil, fmt.Errorf("loading glossary: %w", err)
		}
	}

	var pricingBk *pricing.Book
	if cfg.PricingPath != "" {
		pricingBk, err = pricing.Load(cfg.PricingPath)
		if err != nil {
			return nil, fmt.Errorf("loading pricing book: %w", err)
		}
	}

	var cache *cachestore.Store
	if cfg.CacheDBPath != "" {
		cache, err = cachestore.Open(cfg.CacheDBPath, time.Duration(cfg.CacheTTLSeconds)*time.Second, cfg.CacheMaxSizeBytes)
		if err != nil {
			return nil, fmt.Errorf("opening cache store: %w", err)
		}
	}

	tracer, err := trace.Open(cfg.TracePath, 256, logger)
	if err != nil {
		return nil, fmt.Errorf("opening trace sink: %w", err)
	}

	transportCfg, err := llmtransport.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("llm transport configuration: %w", err)
	}
	client := llmtransport.NewClient(transportCfg, &http.Client{Timeout: transportCfg.Timeout})

	return &Orchestrator{
		cfg:        cfg,
		schema:     s,
		glossaryIx: glossaryIx,
		pricingBk:  pricingBk,
		rtr:        rtr,
		cache:      cache,
		tracer:     tracer,
		client:     client,
		logger:     logger,
	}, nil
}

// Close releases every collaborator holding an OS resource.
func (o *Orchestrator) Close() {
	if o.cache != nil {
		o.cache.Close()
	}
	if o.tracer != nil {
		o.tracer.Close()
	}
}

type forbiddenDocument struct {
	Patterns []string `yaml:"patterns"`
}

func loadForbiddenPatterns(path string) ([]*regexp.Regexp, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading forbidden patterns %s: %w", path, err)
	}
	var doc forbiddenDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing forbidden patterns %s: %w", path, err)
	}
	return qa.CompileForbidden(doc.Patterns), nil
}

// Run executes one full pipeline pass and returns the process exit code
// spec.md §6 defines, alongside the error (if any) that produced it.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	rows, _, err := csvio.ReadRows(o.cfg.InputCSV)
	if err != nil {
		return ExitConfigError, fmt.Errorf("reading input csv: %w", err)
	}

	generatedAt := time.Now().UTC().Format(time.RFC3339)
	pass := codec.NewPass(o.schema)
	segment := codec.UseSegmenter(o.cfg.SourceLang, codec.IdentitySegmenter)

	byID := make(map[string]int, len(rows))
	for i := range rows {
		if rows[i].TokenizedText == "" {
			rows[i].TokenizedText = pass.Freeze(rows[i].StringID, segment(rows[i].SourceText))
		}
		byID[rows[i].StringID] = i
	}
	if warnings := pass.Warnings(); len(warnings) > 0 {
		for _, w := range warnings {
			o.logger.Warn("codec: unbalanced bracket after freeze", "string_id", w.StringID, "detail", w.Detail)
		}
	}

	placeholderMap := pass.Map(filepath.Base(o.cfg.InputCSV), generatedAt)
	if err := writeJSON(filepath.Join(o.cfg.OutputDir, mapFileName), placeholderMap); err != nil {
		return ExitConfigError, fmt.Errorf("writing placeholder map: %w", err)
	}
	if err := csvio.WriteRows(filepath.Join(o.cfg.OutputDir, draftFileName), rows,
		[]string{"string_id", "source_text", "max_length_target", "is_long_text", "tokenized_text"}); err != nil {
		return ExitConfigError, fmt.Errorf("writing draft csv: %w", err)
	}

	chain, err := o.rtr.Chain("translate", "")
	if err != nil {
		return ExitConfigError, fmt.Errorf("resolving translate chain: %w", err)
	}
	defaultModel := chain[0]

	checkpoint, err := scheduler.LoadCheckpoint(o.cfg.CheckpointPath)
	if err != nil {
		return ExitConfigError, fmt.Errorf("loading checkpoint: %w", err)
	}
	var doneIDs []string
	if checkpoint != nil && checkpoint.Step == "translate" {
		doneIDs = checkpoint.DoneIDs
	}
	doneSet := make(map[string]bool, len(doneIDs))
	for _, id := range doneIDs {
		doneSet[id] = true
	}

	var pending []csvio.Row
	for _, r := range rows {
		if !doneSet[r.StringID] {
			pending = append(pending, r)
		}
	}

	runtimeCfg := o.cfg.Scheduler.toRuntimeConfig()
	translatePool := scheduler.NewPool(runtimeCfg, o.rtr, o.client, o.cache, o.glossaryIx, o.tracer,
		NewTranslatePromptBuilder(o.cfg.SourceLang, o.rtr), o.logger)
	defer translatePool.Stop()

	translationErrs := make(map[string]error)
	if len(pending) > 0 {
		batches := scheduler.MakeBatches("translate", defaultModel, pending, runtimeCfg)
		results, runErr := translatePool.Run(ctx, batches)
		if runErr != nil && len(results) == 0 {
			return ExitConfigError, fmt.Errorf("running translate batches: %w", runErr)
		}
		for _, res := range results {
			idx, ok := byID[res.StringID]
			if !ok {
				continue
			}
			if res.Err != nil {
				translationErrs[res.StringID] = res.Err
				continue
			}
			rows[idx].TargetText = res.Translation
			doneSet[res.StringID] = true
		}
	}

	newDoneIDs := make([]string, 0, len(doneSet))
	for id := range doneSet {
		newDoneIDs = append(newDoneIDs, id)
	}
	if err := scheduler.SaveCheckpoint(o.cfg.CheckpointPath, scheduler.Checkpoint{
		Step: "translate", DoneIDs: newDoneIDs, SavedAt: time.Now(),
	}); err != nil {
		o.logger.Warn("failed to save checkpoint", "error", err)
	}

	forbidden, err := loadForbiddenPatterns(o.cfg.ForbiddenPatternsPath)
	if err != nil {
		return ExitConfigError, err
	}

	validator := qa.New(o.schema, forbidden, placeholderMap)
	for i, r := range rows {
		if translationErrs[r.StringID] != nil {
			continue
		}
		validator.Validate(qa.Row{
			Row: i, StringID: r.StringID, Source: r.TokenizedText,
			Target: r.TargetText, MaxLengthTarget: r.MaxLengthTarget,
		})
	}

	issuesByID := make(map[string][]repair.Issue)
	severityByID := make(map[string]string)
	for _, e := range validator.Errors() {
		issuesByID[e.StringID] = append(issuesByID[e.StringID], repair.Issue{Type: string(e.Type), Detail: e.Detail})
		if e.Severity == qa.SeverityCritical {
			severityByID[e.StringID] = "critical"
		} else if severityByID[e.StringID] == "" {
			severityByID[e.StringID] = "major"
		}
	}
	for id, err := range translationErrs {
		issuesByID[id] = append(issuesByID[id], repair.Issue{Type: "translation_failed", Detail: err.Error()})
		severityByID[id] = "critical"
	}

	var tasks []*repair.Task
	for id, issues := range issuesByID {
		idx := byID[id]
		r := rows[idx]
		tasks = append(tasks, repair.NewTask(r.StringID, r.TokenizedText, r.TargetText, issues, severityByID[id], r.MaxLengthTarget))
	}

	repairCfg := o.cfg.Repair.toRepairConfig()
	_, escalated, repairStats := repair.Run(tasks, repairCfg, o.repairOnce(ctx))
	o.logger.Info("repair loop complete", "repaired", repairStats.Repaired, "escalated", repairStats.Escalated)

	escalatedSet := make(map[string]bool, len(escalated))
	for _, t := range escalated {
		escalatedSet[t.StringID] = true
	}
	for _, t := range tasks {
		if t.Status == repair.StatusRepaired {
			rows[byID[t.StringID]].TargetText = t.FinalTranslation
		}
	}

	var finalRows []csvio.Row
	for _, r := range rows {
		if escalatedSet[r.StringID] {
			continue
		}
		rehydrated, err := codec.Rehydrate(r.TargetText, placeholderMap, r.StringID)
		if err != nil {
			return ExitQAFailure, fmt.Errorf("rehydrating %s: %w", r.StringID, err)
		}
		r.TargetText = rehydrated
		finalRows = append(finalRows, r)
	}

	if err := csvio.WriteRows(filepath.Join(o.cfg.OutputDir, finalFileName), finalRows,
		[]string{"string_id", "source_text", "max_length_target", "target_text"}); err != nil {
		return ExitConfigError, fmt.Errorf("writing final csv: %w", err)
	}

	if len(escalated) > 0 {
		reviewerRows := repair.EscalationRows(escalated)
		if err := csvio.WriteRows(filepath.Join(o.cfg.OutputDir, reviewerFileName), reviewerRows,
			[]string{"string_id", "source_text", "target_text", "max_length_target"}); err != nil {
			return ExitConfigError, fmt.Errorf("writing reviewer csv: %w", err)
		}
	}

	qaReport := validator.Report(len(rows), filepath.Base(o.cfg.InputCSV), generatedAt)
	if err := writeJSON(filepath.Join(o.cfg.OutputDir, qaReportFileName), qaReport); err != nil {
		return ExitConfigError, fmt.Errorf("writing qa report: %w", err)
	}

	translatePool.Stop()
	o.tracer.Close()
	if err := o.writeCostReport(len(finalRows)); err != nil {
		o.logger.Warn("failed to write cost report", "error", err)
	}

	// qaReport reflects the pre-repair Hard QA pass; a row only fails the
	// run if it is still unresolved after the repair loop, i.e. escalated.
	if len(escalated) > 0 {
		return ExitQAFailure, &QAFailureError{EscalatedRows: len(escalated), QAErrors: len(validator.Errors())}
	}
	return ExitSuccess, nil
}

// repairOnce returns a repair.Repairer that performs one synchronous LLM
// call per task, reusing the worker pool's request-building and
// response-parsing logic (pkg/scheduler/worker.go's callModel) at the
// granularity a repair round actually needs: one row at a time.
func (o *Orchestrator) repairOnce(ctx context.Context) repair.Repairer {
	return func(task *repair.Task, round int, cfg repair.RoundConfig) (string, bool, string) {
		row := csvio.Row{StringID: task.StringID, TokenizedText: task.SourceText, MaxLengthTarget: task.MaxLengthTarget}
		var constraints map[string][]glossary.Entry
		if o.glossaryIx != nil {
			constraints = map[string][]glossary.Entry{task.StringID: o.glossaryIx.ConstraintsFor(task.SourceText)}
		}

		variant := string(cfg.PromptVariant)
		req := NewRepairPromptBuilder(variant, o.rtr)("repair", cfg.Model, []csvio.Row{row}, constraints)
		req.Model = cfg.Model

		res, err := o.client.Call(ctx, req)
		if err != nil {
			return "", true, fmt.Sprintf("llm call failed: %v", err)
		}
		o.tracer.Record(trace.Event{
			Type: trace.EventLLMCall, StringID: task.StringID, Step: "repair", Model: cfg.Model,
			Extra: map[string]any{
				"round": round, "usage_present": res.UsagePresent,
				"prompt_tokens": res.PromptTokens, "completion_tokens": res.CompletionTokens,
				"req_chars": res.PromptChars, "resp_chars": res.CompletionChars, "latency_ms": res.LatencyMS,
			},
		})

		parsed, perr := scheduler.ParseBatchResponse(res.Content)
		if perr != nil {
			return "", false, fmt.Sprintf("unparseable repair response: %v", perr)
		}
		translation, ok := parsed[task.StringID]
		if !ok {
			return "", false, "repair response missing requested id"
		}
		return translation, false, ""
	}
}

func (o *Orchestrator) writeCostReport(denomLines int) error {
	events, err := trace.ReadEvents(o.cfg.TracePath)
	if err != nil {
		return fmt.Errorf("reading trace for cost report: %w", err)
	}
	if o.pricingBk == nil {
		return nil
	}
	report := cost.Aggregate(events, o.pricingBk, o.cfg.TracePath, denomLines)
	report.GeneratedAt = time.Now()
	markdown := cost.RenderMarkdown(report, o.cfg.Currency, nil)
	return os.WriteFile(o.cfg.CostReportPath, []byte(markdown), 0o644)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
