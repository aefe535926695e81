package glossary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIndex_OnlyApprovedAndVerifiedAreEligible(t *testing.T) {
	idx := NewIndex([]Entry{
		{TermSource: "foo", TermTarget: "bar", Status: StatusApproved},
		{TermSource: "baz", TermTarget: "qux", Status: StatusPending},
		{TermSource: "zap", TermTarget: "zip", Status: StatusVerified},
	})
	assert.Equal(t, 2, idx.Len())
	assert.Len(t, idx.All(), 3)
}

func TestConstraintsFor_SortedByDescendingPriority(t *testing.T) {
	idx := NewIndex([]Entry{
		{TermSource: "widget", TermTarget: "gadget", Status: StatusApproved, Priority: 1},
		{TermSource: "widget factory", TermTarget: "gadget works", Status: StatusApproved, Priority: 5},
	})
	matches := idx.ConstraintsFor("the widget factory produces widgets")
	require.Len(t, matches, 2)
	assert.Equal(t, "widget factory", matches[0].TermSource)
}

func TestConstraintsFor_NoMatch(t *testing.T) {
	idx := NewIndex([]Entry{{TermSource: "foo", TermTarget: "bar", Status: StatusApproved}})
	assert.Empty(t, idx.ConstraintsFor("unrelated text"))
}

func TestDigest_StableAcrossEquivalentEntryOrder(t *testing.T) {
	idx1 := NewIndex([]Entry{
		{TermSource: "a", TermTarget: "1", Status: StatusApproved},
		{TermSource: "b", TermTarget: "2", Status: StatusApproved},
	})
	idx2 := NewIndex([]Entry{
		{TermSource: "b", TermTarget: "2", Status: StatusApproved},
		{TermSource: "a", TermTarget: "1", Status: StatusApproved},
	})
	assert.Equal(t, idx1.Digest(), idx2.Digest())
}

func TestDigest_ChangesWhenEligibleSetChanges(t *testing.T) {
	idx1 := NewIndex([]Entry{{TermSource: "a", TermTarget: "1", Status: StatusApproved}})
	idx2 := NewIndex([]Entry{{TermSource: "a", TermTarget: "1", Status: StatusPending}})
	assert.NotEqual(t, idx1.Digest(), idx2.Digest())
}

func TestParse_ValidYAML(t *testing.T) {
	idx, err := Parse([]byte(`
entries:
  - term_source: widget
    term_target: gadget
    status: approved
    priority: 1
`))
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
}
