package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/cachestore"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/csvio"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/glossary"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/llmtransport"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/router"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/trace"
)

// Caller is the subset of llmtransport.Client the scheduler depends on,
// narrowed to an interface so tests can substitute a fake (spec.md §9,
// DESIGN NOTES: dispatch through small interfaces, not concrete types).
type Caller interface {
	Call(ctx context.Context, req llmtransport.Request) (*llmtransport.LLMResult, error)
}

// PromptBuilder renders one batch into a transport request. It is a
// first-class function value, not a hardcoded template method, so the
// same scheduler serves every step (translation, soft QA, repair) with a
// step-specific prompt (spec.md §9, DESIGN NOTES).
type PromptBuilder func(step, model string, rows []csvio.Row, constraints map[string][]glossary.Entry) llmtransport.Request

// Pool is the fixed-size worker pool that drains a batch queue, grounded
// on the teacher's WorkerPool (pkg/queue/pool.go): same started/stopCh/
// stopOnce/wg shutdown discipline, generalized from DB-polled sessions to
// an in-memory batch channel.
type Pool struct {
	cfg         RuntimeConfig
	router      *router.Router
	caller      Caller
	cache       *cachestore.Store
	glossaryIdx *glossary.Index
	tracer      *trace.Sink
	buildPrompt PromptBuilder
	logger      *slog.Logger

	queue    chan *Batch
	resultCh chan []RowResult

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
}

// NewPool constructs a Pool. cache and glossaryIdx may be nil, in which
// case every row is treated as a cache miss with no glossary constraints
// — useful for steps like soft QA that don't participate in the cache.
func NewPool(cfg RuntimeConfig, rtr *router.Router, caller Caller, cache *cachestore.Store, glossaryIdx *glossary.Index, tracer *trace.Sink, buildPrompt PromptBuilder, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	depth := cfg.WorkerCount * cfg.QueueDepthFactor
	if depth < cfg.WorkerCount {
		depth = cfg.WorkerCount
	}
	return &Pool{
		cfg:         cfg,
		router:      rtr,
		caller:      caller,
		cache:       cache,
		glossaryIdx: glossaryIdx,
		tracer:      tracer,
		buildPrompt: buildPrompt,
		logger:      logger,
		queue:       make(chan *Batch, depth),
		resultCh:    make(chan []RowResult, depth),
		stopCh:      make(chan struct{}),
	}
}

// Start spawns the worker goroutines. It is idempotent.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.WorkerCount; i++ {
		w := &worker{id: fmt.Sprintf("worker-%d", i), pool: p}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}
}

// Stop signals every worker to exit once its current batch finishes, then
// waits for them to drain.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// Run submits every batch, collects results as they complete, and
// returns once all batches have been processed or ctx is cancelled.
// Cancellation aborts within one HTTP round-trip per worker (spec.md
// §5) rather than mid-batch-list.
func (p *Pool) Run(ctx context.Context, batches []*Batch) ([]RowResult, error) {
	p.Start(ctx)

	go func() {
		for _, b := range batches {
			select {
			case p.queue <- b:
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			}
		}
	}()

	var all []RowResult
	remaining := len(batches)
	for remaining > 0 {
		select {
		case res := <-p.resultCh:
			all = append(all, res...)
			remaining--
		case <-ctx.Done():
			return all, ctx.Err()
		}
	}
	if p.cfg.PreserveOrder {
		pos := make(map[string]int)
		for _, b := range batches {
			for _, r := range b.Rows {
				if _, ok := pos[r.StringID]; !ok {
					pos[r.StringID] = len(pos)
				}
			}
		}
		sort.SliceStable(all, func(i, j int) bool { return pos[all[i].StringID] < pos[all[j].StringID] })
	}
	return all, nil
}
