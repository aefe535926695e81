package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSchemaYAML = `
version: 1
token_format:
  placeholder: "PH_%d"
  tag: "TAG_%d"
paired_tags:
  - open: "<b>"
    close: "</b>"
patterns:
  - name: brace_placeholder
    regex: '\{[0-9]+\}'
    type: placeholder
  - name: percent_s
    regex: '%s'
    type: placeholder
  - name: bold_tag
    regex: '</?b>'
    type: tag
`

func TestParse_ValidSchema(t *testing.T) {
	s, err := Parse([]byte(validSchemaYAML))
	require.NoError(t, err)
	assert.Len(t, s.Patterns, 3)
	assert.Equal(t, "PH_%d", s.TokenFormat.Placeholder)
	assert.Len(t, s.PairedTags, 1)
}

func TestParse_NoPatterns(t *testing.T) {
	_, err := Parse([]byte(`
version: 1
token_format:
  placeholder: "PH_%d"
  tag: "TAG_%d"
patterns: []
`))
	assert.Error(t, err)
}

func TestParse_MissingTokenFormat(t *testing.T) {
	_, err := Parse([]byte(`
version: 1
token_format:
  placeholder: "PH_%d"
patterns:
  - name: a
    regex: '%s'
    type: placeholder
`))
	assert.Error(t, err)
}

func TestParse_SkipsMalformedRegex(t *testing.T) {
	s, err := Parse([]byte(`
version: 1
token_format:
  placeholder: "PH_%d"
  tag: "TAG_%d"
patterns:
  - name: broken
    regex: '(unclosed'
    type: placeholder
  - name: good
    regex: '%s'
    type: placeholder
`))
	require.NoError(t, err)
	assert.Len(t, s.Patterns, 1)
	assert.Equal(t, "good", s.Patterns[0].Name)
	_, skipped := s.Skipped()["broken"]
	assert.True(t, skipped)
}

func TestParse_AllPatternsMalformed(t *testing.T) {
	_, err := Parse([]byte(`
version: 1
token_format:
  placeholder: "PH_%d"
  tag: "TAG_%d"
patterns:
  - name: broken
    regex: '(unclosed'
    type: placeholder
`))
	assert.Error(t, err)
}

func TestParse_UnknownPatternType(t *testing.T) {
	s, err := Parse([]byte(`
version: 1
token_format:
  placeholder: "PH_%d"
  tag: "TAG_%d"
patterns:
  - name: weird
    regex: '%s'
    type: nonsense
  - name: good
    regex: '%d'
    type: placeholder
`))
	require.NoError(t, err)
	assert.Len(t, s.Patterns, 1)
}
