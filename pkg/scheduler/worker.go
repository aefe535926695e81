package scheduler

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/cachestore"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/csvio"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/glossary"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/llmtransport"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/trace"
)

// worker pulls batches off its pool's queue and drives them to
// completion, grounded on the teacher's Worker.run/pollAndProcess loop
// (pkg/queue/worker.go): a for-select over stop/ctx/work, generalized
// from one alert session at a time to one translation batch at a time.
type worker struct {
	id   string
	pool *Pool
}

func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.pool.stopCh:
			return
		case batch, ok := <-w.pool.queue:
			if !ok {
				return
			}
			results := w.processBatch(ctx, batch)
			select {
			case w.pool.resultCh <- results:
			case <-ctx.Done():
				return
			}
		}
	}
}

// processBatch resolves every row in batch: cache hits are answered
// immediately, cache misses go through the router's chain with
// fallback-on-error and batch-level retry with exponential backoff
// (spec.md §4.5).
func (w *worker) processBatch(ctx context.Context, batch *Batch) []RowResult {
	p := w.pool
	results := make([]RowResult, 0, len(batch.Rows))

	var uncached []csvio.Row
	for _, row := range batch.Rows {
		if p.cache == nil {
			uncached = append(uncached, row)
			continue
		}
		key := cachestore.Key(row.TokenizedText, p.glossaryDigest(), batch.Model)
		if entry, hit := p.cache.Get(key); hit {
			results = append(results, RowResult{StringID: row.StringID, Translation: entry.Translation, CacheHit: true, Model: batch.Model})
			p.emitTrace(trace.EventCacheHit, row.StringID, batch.Step, batch.Model, batch.ID, nil)
			continue
		}
		p.emitTrace(trace.EventCacheMiss, row.StringID, batch.Step, batch.Model, batch.ID, nil)
		uncached = append(uncached, row)
	}

	if len(uncached) == 0 {
		return results
	}

	chain, err := p.router.Chain(batch.Step, "")
	if err != nil {
		return appendErrors(results, uncached, err, batch.Model)
	}

	resolved := w.attemptChain(ctx, batch, uncached, chain)
	return append(results, resolved...)
}

// attemptChain drives uncached rows through chain, advancing to the next
// model on a fallback-eligible error and retrying the current model up
// to MaxRetries times with exponential backoff otherwise (spec.md §4.4,
// §4.5, §7).
func (w *worker) attemptChain(ctx context.Context, batch *Batch, rows []csvio.Row, chain []string) []RowResult {
	p := w.pool
	fallbackUsed := false

	for modelIdx := 0; modelIdx < len(chain); modelIdx++ {
		model := chain[modelIdx]

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 1 * time.Second
		b.Multiplier = 2
		b.RandomizationFactor = 0

		var lastErr error
		for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
			if attempt > 0 {
				wait := b.NextBackOff()
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return appendErrors(nil, rows, ctx.Err(), model)
				}
			}

			results, err := w.callModel(ctx, batch.Step, model, rows, fallbackUsed, batch.ID)
			if err == nil {
				return results
			}
			lastErr = err

			kind, status := classify(err)
			if p.router.ShouldFallback(kind, status) && modelIdx+1 < len(chain) {
				p.emitTrace(trace.EventLLMError, "", batch.Step, model, batch.ID, map[string]any{
					"kind": kind, "http_status": status, "fallback_to": chain[modelIdx+1],
				})
				fallbackUsed = true
				break // advance outer loop to next model in chain
			}
			if !retryable(err) {
				return appendErrors(nil, rows, err, model)
			}
		}
		if lastErr != nil && modelIdx == len(chain)-1 {
			return appendErrors(nil, rows, lastErr, model)
		}
	}
	return appendErrors(nil, rows, errExhaustedChain, chain[len(chain)-1])
}

var errExhaustedChain = &llmtransport.LLMError{Kind: llmtransport.KindUpstream, Retryable: false, Message: "exhausted every model in the chain"}

// callModel builds and sends one request covering every row, parses the
// tolerant-JSON response, and checks ID coverage (spec.md §4.5).
func (w *worker) callModel(ctx context.Context, step, model string, rows []csvio.Row, fallbackUsed bool, batchID string) ([]RowResult, error) {
	p := w.pool
	constraints := p.constraintsFor(rows)
	req := p.buildPrompt(step, model, rows, constraints)
	req.Model = model

	res, err := p.caller.Call(ctx, req)
	if err != nil {
		return nil, err
	}

	parsed, perr := ParseBatchResponse(res.Content)
	if perr != nil {
		return nil, perr
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.StringID
	}
	if missing, partial := CheckIDCoverage(parsed, ids); partial {
		return nil, &ErrParse{Reason: DescribeMissing(missing)}
	}

	out := make([]RowResult, 0, len(rows))
	perRowChars := splitUsage(res, len(rows))
	for _, row := range rows {
		translation := parsed[row.StringID]
		out = append(out, RowResult{
			StringID:         row.StringID,
			Translation:      translation,
			Model:            model,
			FallbackUsed:     fallbackUsed,
			PromptTokens:     perRowChars.promptTokens,
			CompletionTokens: perRowChars.completionTokens,
			UsagePresent:     res.UsagePresent,
			PromptChars:      perRowChars.promptChars,
			CompletionChars:  perRowChars.completionChars,
		})

		if p.cache != nil {
			key := cachestore.Key(row.TokenizedText, p.glossaryDigest(), model)
			p.cache.Put(key, translation)
		}
	}

	p.emitTrace(trace.EventLLMCall, "", step, model, batchID, map[string]any{
		"row_count":         len(rows),
		"fallback_used":     fallbackUsed,
		"usage_present":     res.UsagePresent,
		"prompt_tokens":     res.PromptTokens,
		"completion_tokens": res.CompletionTokens,
		"req_chars":         res.PromptChars,
		"resp_chars":        res.CompletionChars,
		"latency_ms":        res.LatencyMS,
	})

	return out, nil
}

type usageSplit struct {
	promptTokens, completionTokens int
	promptChars, completionChars   int
}

// splitUsage divides a batch-level usage report evenly across its rows —
// providers report usage per request, not per row, so an even split is
// the least-biased per-row estimate a RowResult can carry.
func splitUsage(res *llmtransport.LLMResult, rowCount int) usageSplit {
	if rowCount == 0 {
		return usageSplit{}
	}
	return usageSplit{
		promptTokens:     res.PromptTokens / rowCount,
		completionTokens: res.CompletionTokens / rowCount,
		promptChars:      res.PromptChars / rowCount,
		completionChars:  res.CompletionChars / rowCount,
	}
}

func (p *Pool) constraintsFor(rows []csvio.Row) map[string][]glossary.Entry {
	if p.glossaryIdx == nil {
		return nil
	}
	out := make(map[string][]glossary.Entry, len(rows))
	for _, r := range rows {
		out[r.StringID] = p.glossaryIdx.ConstraintsFor(r.SourceText)
	}
	return out
}

func (p *Pool) glossaryDigest() string {
	if p.glossaryIdx == nil {
		return ""
	}
	return p.glossaryIdx.Digest()
}

func (p *Pool) emitTrace(eventType trace.EventType, stringID, step, model, batchID string, extra map[string]any) {
	if p.tracer == nil {
		return
	}
	p.tracer.Record(trace.Event{
		Type:     eventType,
		StringID: stringID,
		Step:     step,
		Model:    model,
		BatchID:  batchID,
		Extra:    extra,
	})
}

func appendErrors(results []RowResult, rows []csvio.Row, err error, model string) []RowResult {
	for _, row := range rows {
		results = append(results, RowResult{StringID: row.StringID, Err: err, Model: model})
	}
	return results
}

func classify(err error) (kind string, httpStatus int) {
	if le, ok := err.(*llmtransport.LLMError); ok {
		return string(le.Kind), le.HTTPStatus
	}
	if _, ok := err.(*ErrParse); ok {
		return string(llmtransport.KindParse), 0
	}
	return "unknown", 0
}

func retryable(err error) bool {
	if le, ok := err.(*llmtransport.LLMError); ok {
		return le.Retryable
	}
	if _, ok := err.(*ErrParse); ok {
		return true
	}
	return false
}
