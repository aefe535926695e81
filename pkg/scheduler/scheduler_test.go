package scheduler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/csvio"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/glossary"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/llmtransport"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/router"
)

func TestMakeBatches_SplitsByContentTypeAndSizesIndependently(t *testing.T) {
	rows := []csvio.Row{
		{StringID: "s1", TokenizedText: "a"},
		{StringID: "s2", TokenizedText: "bb"},
		{StringID: "s3", TokenizedText: "ccc", IsLongText: true},
	}
	batches := MakeBatches("translate", "m", rows, RuntimeConfig{MaxBatchSize: 1, MaxLongTextBatch: 5})
	require.Len(t, batches, 3) // two normal rows each in their own batch, one long-text batch
	for _, b := range batches {
		assert.Equal(t, "translate", b.Step)
		assert.Equal(t, BatchPending, b.State)
	}
}

func TestMakeBatches_SortsWithinBatchByLength(t *testing.T) {
	rows := []csvio.Row{
		{StringID: "s1", TokenizedText: "ccc"},
		{StringID: "s2", TokenizedText: "a"},
		{StringID: "s3", TokenizedText: "bb"},
	}
	batches := MakeBatches("translate", "m", rows, RuntimeConfig{MaxBatchSize: 10})
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"s2", "s3", "s1"}, []string{
		batches[0].Rows[0].StringID, batches[0].Rows[1].StringID, batches[0].Rows[2].StringID,
	})
}

func TestSaveLoadCheckpoint_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cp := Checkpoint{Step: "translate", DoneIDs: []string{"s1", "s2"}, BatchIdx: 3, Stats: map[string]int{"ok": 2}}
	require.NoError(t, SaveCheckpoint(path, cp))

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, []string{"s1", "s2"}, loaded.DoneIDs)
	assert.Equal(t, 3, loaded.BatchIdx)
}

func TestLoadCheckpoint_MissingFileIsNotError(t *testing.T) {
	cp, err := LoadCheckpoint(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestFilterDone_RemovesCompletedIDs(t *testing.T) {
	out := FilterDone([]string{"s1", "s2", "s3"}, []string{"s2"})
	assert.Equal(t, []string{"s1", "s3"}, out)
}

func TestParseBatchResponse_ItemsShape(t *testing.T) {
	resp, err := ParseBatchResponse(`{"items": [{"id": "s1", "text": "bonjour"}, {"id": "s2", "text": "salut"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "bonjour", resp["s1"])
	assert.Equal(t, "salut", resp["s2"])
}

func TestParseBatchResponse_FlatMapShape(t *testing.T) {
	resp, err := ParseBatchResponse(`{"s1": "bonjour", "s2": "salut"}`)
	require.NoError(t, err)
	assert.Equal(t, "bonjour", resp["s1"])
}

func TestParseBatchResponse_StripsCodeFence(t *testing.T) {
	resp, err := ParseBatchResponse("```json\n{\"s1\": \"bonjour\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "bonjour", resp["s1"])
}

func TestParseBatchResponse_UnrecognizedShapeErrors(t *testing.T) {
	_, err := ParseBatchResponse("not json at all")
	assert.Error(t, err)
}

func TestCheckIDCoverage_DetectsMissing(t *testing.T) {
	missing, partial := CheckIDCoverage(ParsedResponse{"s1": "x"}, []string{"s1", "s2"})
	assert.True(t, partial)
	assert.Equal(t, []string{"s2"}, missing)
}

func TestCheckIDCoverage_CompleteIsNotPartial(t *testing.T) {
	_, partial := CheckIDCoverage(ParsedResponse{"s1": "x", "s2": "y"}, []string{"s1", "s2"})
	assert.False(t, partial)
}

type fakeCaller struct {
	content string
	err     error
}

func (f *fakeCaller) Call(ctx context.Context, req llmtransport.Request) (*llmtransport.LLMResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llmtransport.LLMResult{Content: f.content}, nil
}

func testPromptBuilder(step, model string, rows []csvio.Row, constraints map[string][]glossary.Entry) llmtransport.Request {
	return llmtransport.Request{Model: model}
}

func TestPool_Run_SuccessfulBatch(t *testing.T) {
	rtr, err := router.Parse([]byte("routing:\n  translate:\n    default: m\n"), "")
	require.NoError(t, err)

	caller := &fakeCaller{content: `{"items": [{"id": "s1", "text": "bonjour"}]}`}
	pool := NewPool(DefaultRuntimeConfig(), rtr, caller, nil, nil, nil, testPromptBuilder, nil)
	defer pool.Stop()

	batch := &Batch{Step: "translate", Model: "m", Rows: []csvio.Row{{StringID: "s1", TokenizedText: "hi"}}}
	results, err := pool.Run(context.Background(), []*Batch{batch})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bonjour", results[0].Translation)
	assert.NoError(t, results[0].Err)
}

func TestPool_Run_ParseErrorSurfacesOnRow(t *testing.T) {
	rtr, err := router.Parse([]byte("routing:\n  translate:\n    default: m\n"), "")
	require.NoError(t, err)

	caller := &fakeCaller{content: "not valid json"}
	cfg := DefaultRuntimeConfig()
	cfg.MaxRetries = 0
	pool := NewPool(cfg, rtr, caller, nil, nil, nil, testPromptBuilder, nil)
	defer pool.Stop()

	batch := &Batch{Step: "translate", Model: "m", Rows: []csvio.Row{{StringID: "s1", TokenizedText: "hi"}}}
	results, err := pool.Run(context.Background(), []*Batch{batch})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}
