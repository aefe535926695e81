// Package scheduler is the Batch Scheduler: it groups rows into batches,
// runs them through a fixed worker pool against the Model Router's
// chains, retries with exponential backoff, checkpoints progress, and
// reassembles output in input order when requested (spec.md §4.5 — the
// largest single component by design). The pool/worker split and its
// graceful-shutdown discipline are grounded on the teacher's queue
// package (pkg/queue/pool.go, pkg/queue/worker.go), generalized from
// polling a database for alert sessions to draining an in-memory batch
// queue of translation rows.
package scheduler

import (
	"time"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/csvio"
)

// BatchState is a batch's lifecycle state (spec.md §3).
type BatchState string

// Recognized batch states.
const (
	BatchPending         BatchState = "pending"
	BatchInFlight        BatchState = "in_flight"
	BatchOK              BatchState = "ok"
	BatchFailedRetryable BatchState = "failed_retryable"
	BatchFailedFatal     BatchState = "failed_fatal"
)

// ContentType distinguishes normal rows from long-text rows, which the
// dynamic batch sizer groups and sizes separately (spec.md §4.5).
type ContentType string

// Recognized content types.
const (
	ContentNormal   ContentType = "normal"
	ContentLongText ContentType = "long_text"
)

// Batch is a group of rows sent through the same step/model attempt
// together.
type Batch struct {
	ID      string
	Step    string
	Model   string
	Rows    []csvio.Row
	Attempt int
	State   BatchState
}

// RowResult is one row's outcome from a single model attempt.
type RowResult struct {
	StringID     string
	Translation  string
	Err          error
	Model        string
	FallbackUsed bool
	CacheHit     bool

	PromptTokens     int
	CompletionTokens int
	UsagePresent     bool
	PromptChars      int
	CompletionChars  int
}

// Checkpoint is the durable, atomically-written progress record a run can
// resume from (spec.md §3, §4.5, §5: "atomic write-temp-fsync-rename").
type Checkpoint struct {
	Step     string         `json:"step"`
	DoneIDs  []string       `json:"done_ids"`
	BatchIdx int            `json:"batch_idx"`
	Stats    map[string]int `json:"stats"`
	SavedAt  time.Time      `json:"saved_at"`
}

// RuntimeConfig carries the per-run tunables spec.md §5 assigns to the
// scheduler: worker count, batch sizing, retry budget, result ordering,
// and backpressure queue depth.
type RuntimeConfig struct {
	WorkerCount      int
	MaxBatchSize     int
	MaxLongTextBatch int
	MaxRetries       int
	PreserveOrder    bool
	QueueDepthFactor int // work queue capacity = QueueDepthFactor * WorkerCount
}

// DefaultRuntimeConfig mirrors spec.md §4.5's stated defaults: a worker
// pool of 4, order preservation on.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		WorkerCount:      4,
		MaxBatchSize:     20,
		MaxLongTextBatch: 5,
		MaxRetries:       3,
		PreserveOrder:    true,
		QueueDepthFactor: 2,
	}
}
