package orchestrator

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/csvio"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/glossary"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/router"
)

func TestBuildItemsJSON_IncludesEveryRow(t *testing.T) {
	rows := []csvio.Row{
		{StringID: "s1", TokenizedText: "hi ⟦PH_1⟧", MaxLengthTarget: 20},
		{StringID: "s2", TokenizedText: "bye"},
	}
	out := buildItemsJSON(rows)
	assert.Contains(t, out, `"id": "s1"`)
	assert.Contains(t, out, `"id": "s2"`)
	assert.Contains(t, out, `"max_length_target": 20`)
}

func TestGlossarySection_DedupsAndCapsAtFifty(t *testing.T) {
	constraints := map[string][]glossary.Entry{
		"s1": {{TermSource: "foo", TermTarget: "bar"}},
		"s2": {{TermSource: "foo", TermTarget: "bar"}},
	}
	section := glossarySection(constraints)
	assert.Equal(t, "- foo -> bar", section)

	many := map[string][]glossary.Entry{}
	for i, row := range []string{"a", "b", "c"} {
		for j := 0; j < 30; j++ {
			many[row] = append(many[row], glossary.Entry{TermSource: fmt.Sprintf("t%d_%d", i, j), TermTarget: "x"})
		}
	}
	assert.Len(t, strings.Split(glossarySection(many), "\n"), 50)
}

func TestGlossarySection_EmptyWhenNoConstraints(t *testing.T) {
	assert.Equal(t, "(none)", glossarySection(nil))
}

func TestLengthConstraintsSection_OmitsRowsWithoutLimit(t *testing.T) {
	rows := []csvio.Row{
		{StringID: "s1", MaxLengthTarget: 10},
		{StringID: "s2"},
	}
	section := lengthConstraintsSection(rows)
	assert.Contains(t, section, "s1: max 10 characters")
	assert.NotContains(t, section, "s2:")
}

func TestLengthConstraintsSection_EmptyWhenNoRowHasLimit(t *testing.T) {
	assert.Equal(t, "", lengthConstraintsSection([]csvio.Row{{StringID: "s1"}}))
}

func TestRepairSystemPrompt_ExpertVariantMentionsNeedsHuman(t *testing.T) {
	prompt := repairSystemPrompt("expert", nil, nil)
	assert.Contains(t, prompt, "[NEEDS_HUMAN]")
}

func TestRepairSystemPrompt_StandardVariantDoesNotMentionNeedsHuman(t *testing.T) {
	prompt := repairSystemPrompt("standard", nil, nil)
	assert.NotContains(t, prompt, "[NEEDS_HUMAN]")
}

func TestNewTranslatePromptBuilder_SetsSystemAndUserTurns(t *testing.T) {
	rtr, err := router.Parse([]byte("routing:\n  translate:\n    default: m\n    temperature: 0.3\n"), "")
	require.NoError(t, err)

	builder := NewTranslatePromptBuilder("zh", rtr)
	rows := []csvio.Row{{StringID: "s1", TokenizedText: "hi"}}
	req := builder("translate", "m", rows, nil)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "source language: zh")
	assert.Equal(t, "user", req.Messages[1].Role)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.3, *req.Temperature, 1e-9)
}
