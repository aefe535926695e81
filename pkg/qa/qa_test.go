package qa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/codec"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(`
version: 1
token_format:
  placeholder: "PH_%d"
  tag: "TAG_%d"
paired_tags:
  - open: "<b>"
    close: "</b>"
patterns:
  - name: brace
    regex: '\{[a-zA-Z0-9_]+\}'
    type: placeholder
`))
	require.NoError(t, err)
	return s
}

// testBoldMap returns the placeholder map a freeze pass over "<b>...</b>"
// would have produced, the way Validate actually receives target text in
// orchestrator.go: still-tokenized, never the literal glyphs.
func testBoldMap() *codec.Map {
	return &codec.Map{Mappings: map[string]string{
		"TAG_1": "<b>",
		"TAG_2": "</b>",
	}}
}

func TestValidate_TokenMismatch(t *testing.T) {
	v := New(testSchema(t), nil, nil)
	v.Validate(Row{Row: 1, StringID: "s1", Source: "hi ⟦PH_1⟧", Target: "bonjour"})
	require.Len(t, v.Errors(), 1)
	assert.Equal(t, ErrorTokenMismatch, v.Errors()[0].Type)
}

func TestValidate_TokenMatch_NoError(t *testing.T) {
	v := New(testSchema(t), nil, nil)
	v.Validate(Row{Row: 1, StringID: "s1", Source: "hi ⟦PH_1⟧", Target: "bonjour ⟦PH_1⟧"})
	assert.Empty(t, v.Errors())
}

func TestValidate_TagUnbalanced_PairedTags_Tokenized(t *testing.T) {
	v := New(testSchema(t), nil, testBoldMap())
	v.Validate(Row{Row: 1, StringID: "s1", Source: "⟦TAG_1⟧bold text", Target: "⟦TAG_1⟧bold text"})
	require.Len(t, v.Errors(), 1)
	assert.Equal(t, ErrorTagUnbalanced, v.Errors()[0].Type)
}

func TestValidate_TagBalanced_PairedTags_Tokenized_NoError(t *testing.T) {
	v := New(testSchema(t), nil, testBoldMap())
	v.Validate(Row{Row: 1, StringID: "s1", Source: "⟦TAG_1⟧bold text⟦TAG_2⟧", Target: "⟦TAG_1⟧bold text⟦TAG_2⟧"})
	assert.Empty(t, v.Errors())
}

func TestValidate_ForbiddenHit(t *testing.T) {
	forbidden := CompileForbidden([]string{`badword`})
	v := New(testSchema(t), forbidden, nil)
	v.Validate(Row{Row: 1, StringID: "s1", Target: "this contains badword here"})
	require.Len(t, v.Errors(), 1)
	assert.Equal(t, ErrorForbiddenHit, v.Errors()[0].Type)
}

func TestValidate_ForbiddenHit_OnlyFirstReported(t *testing.T) {
	forbidden := CompileForbidden([]string{`bad1`, `bad2`})
	v := New(testSchema(t), forbidden, nil)
	v.Validate(Row{Row: 1, StringID: "s1", Target: "bad1 and bad2 both present"})
	assert.Len(t, v.Errors(), 1)
}

func TestCompileForbidden_SkipsMalformed(t *testing.T) {
	out := CompileForbidden([]string{`(unclosed`, `valid`})
	assert.Len(t, out, 1)
}

func TestValidate_NewPlaceholderFound(t *testing.T) {
	v := New(testSchema(t), nil, nil)
	v.Validate(Row{Row: 1, StringID: "s1", Target: "untokenized {literal} placeholder"})
	require.Len(t, v.Errors(), 1)
	assert.Equal(t, ErrorNewPlaceholder, v.Errors()[0].Type)
}

func TestValidate_LengthOverflow_Major(t *testing.T) {
	v := New(testSchema(t), nil, nil)
	v.Validate(Row{Row: 1, StringID: "s1", Target: "1234567", MaxLengthTarget: 5})
	require.Len(t, v.Errors(), 1)
	assert.Equal(t, SeverityMajor, v.Errors()[0].Severity)
}

func TestValidate_LengthOverflow_Critical(t *testing.T) {
	v := New(testSchema(t), nil, nil)
	v.Validate(Row{Row: 1, StringID: "s1", Target: "1234567890", MaxLengthTarget: 5})
	require.Len(t, v.Errors(), 1)
	assert.Equal(t, SeverityCritical, v.Errors()[0].Severity)
}

func TestValidate_LengthWithinLimit_NoError(t *testing.T) {
	v := New(testSchema(t), nil, nil)
	v.Validate(Row{Row: 1, StringID: "s1", Target: "short", MaxLengthTarget: 20})
	assert.Empty(t, v.Errors())
}

func TestReport_FlagsErrorsWithoutTruncatingBelowCap(t *testing.T) {
	v := New(nil, nil, nil)
	for i := 0; i < 3; i++ {
		v.Validate(Row{Row: i, StringID: "s", Source: "⟦PH_1⟧", Target: ""})
	}
	report := v.Report(3, "in.csv", "2026-08-01T00:00:00Z")
	assert.True(t, report.HasErrors)
	assert.Equal(t, 3, report.TotalRows)
	assert.False(t, report.ErrorsTruncated)
}

func TestCheckTagBalance_FallsBackToCountWhenNoPairedTags(t *testing.T) {
	s, err := schema.Parse([]byte(`
version: 1
token_format:
  placeholder: "PH_%d"
  tag: "TAG_%d"
patterns:
  - name: brace
    regex: '\{[a-zA-Z0-9_]+\}'
    type: placeholder
`))
	require.NoError(t, err)
	v := New(s, nil, nil)
	v.Validate(Row{Row: 1, StringID: "s1", Source: "⟦TAG_1⟧ unmatched", Target: "⟦TAG_1⟧ unmatched"})
	require.Len(t, v.Errors(), 1)
	assert.Equal(t, ErrorTagUnbalanced, v.Errors()[0].Type)
}

func TestCheckTagBalance_FallsBackWhenMapMissing(t *testing.T) {
	// paired_tags are declared, but no placeholder map is available to
	// resolve them (e.g. a caller validating pre-freeze text) — falls
	// back to the coarse TAG_* occurrence count rather than silently
	// reporting balanced.
	v := New(testSchema(t), nil, nil)
	v.Validate(Row{Row: 1, StringID: "s1", Source: "⟦TAG_1⟧ unmatched", Target: "⟦TAG_1⟧ unmatched"})
	require.Len(t, v.Errors(), 1)
	assert.Equal(t, ErrorTagUnbalanced, v.Errors()[0].Type)
}
