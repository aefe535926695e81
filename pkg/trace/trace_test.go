package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_RecordAndClose_WritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	sink, err := Open(path, 8, nil)
	require.NoError(t, err)

	sink.Record(Event{Type: EventLLMCall, Step: "translate", Model: "gpt-4o-mini"})
	sink.Record(Event{Type: EventCacheHit, StringID: "s1"})
	sink.Close()

	events, err := ReadEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventLLMCall, events[0].Type)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestReadEvents_TolerantOfTruncatedFinalLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	content := `{"type":"llm_call","step":"translate"}` + "\n" + `{"type":"cache_hit","strin`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	events, err := ReadEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventLLMCall, events[0].Type)
}

func TestReadEvents_MissingFile(t *testing.T) {
	_, err := ReadEvents(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Error(t, err)
}
