package scheduler

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/csvio"
)

// MakeBatches groups rows into Batches for step using cfg's sizing
// limits. Rows are first split by content type (normal vs long_text, each
// sized independently), then sorted by source-text length so a batch's
// members are similar in length — padding waste and truncation risk both
// grow with the spread inside a batch (spec.md §4.5).
func MakeBatches(step, model string, rows []csvio.Row, cfg RuntimeConfig) []*Batch {
	normal, long := splitByContentType(rows)

	var batches []*Batch
	batches = append(batches, sizeAndGroup(step, model, normal, cfg.MaxBatchSize)...)
	batches = append(batches, sizeAndGroup(step, model, long, cfg.MaxLongTextBatch)...)

	// A UUID suffix keeps batch IDs unique across a resumed run, where a
	// sequential counter would otherwise collide with a prior attempt's IDs
	// in the trace file.
	for i, b := range batches {
		b.ID = fmt.Sprintf("%s-%04d-%s", step, i, uuid.NewString()[:8])
	}
	return batches
}

func splitByContentType(rows []csvio.Row) (normal, long []csvio.Row) {
	for _, r := range rows {
		if r.IsLongText {
			long = append(long, r)
		} else {
			normal = append(normal, r)
		}
	}
	return normal, long
}

func sizeAndGroup(step, model string, rows []csvio.Row, maxSize int) []*Batch {
	if len(rows) == 0 {
		return nil
	}
	if maxSize <= 0 {
		maxSize = len(rows)
	}

	sorted := make([]csvio.Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len([]rune(sorted[i].TokenizedText)) < len([]rune(sorted[j].TokenizedText))
	})

	var batches []*Batch
	for start := 0; start < len(sorted); start += maxSize {
		end := start + maxSize
		if end > len(sorted) {
			end = len(sorted)
		}
		batches = append(batches, &Batch{
			Step:  step,
			Model: model,
			Rows:  append([]csvio.Row{}, sorted[start:end]...),
			State: BatchPending,
		})
	}
	return batches
}
