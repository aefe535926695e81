package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const routingYAML = `
routing:
  translate:
    default: gpt-4o-mini
    fallback:
      - gpt-4o
    temperature: 0.2
  repair:
    default: gpt-4o
capabilities:
  gpt-4o-mini:
    batch: true
  legacy-model:
    batch: false
fallback_triggers:
  on_timeout: true
  on_network_error: true
  on_parse_error: false
  http_codes: [429, 503]
`

func TestChain_MetadataOverrideWinsOutright(t *testing.T) {
	r, err := Parse([]byte(routingYAML), "")
	require.NoError(t, err)
	chain, err := r.Chain("translate", "claude-override")
	require.NoError(t, err)
	assert.Equal(t, []string{"claude-override"}, chain)
}

func TestChain_DefaultPlusFallback(t *testing.T) {
	r, err := Parse([]byte(routingYAML), "")
	require.NoError(t, err)
	chain, err := r.Chain("translate", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o-mini", "gpt-4o"}, chain)
}

func TestChain_UnconfiguredStepUsesEnvDefault(t *testing.T) {
	r, err := Parse([]byte(routingYAML), "env-default-model")
	require.NoError(t, err)
	chain, err := r.Chain("unknown-step", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"env-default-model"}, chain)
}

func TestChain_UnconfiguredStepNoEnvDefault_ErrNoChain(t *testing.T) {
	r, err := Parse([]byte(routingYAML), "")
	require.NoError(t, err)
	_, err = r.Chain("unknown-step", "")
	require.Error(t, err)
	var noChain *ErrNoChain
	assert.ErrorAs(t, err, &noChain)
}

func TestBatchCapable_UnknownModelDefaultsTrue(t *testing.T) {
	r, err := Parse([]byte(routingYAML), "")
	require.NoError(t, err)
	assert.True(t, r.BatchCapable("some-brand-new-model"))
}

func TestBatchCapable_ConfiguredFalse(t *testing.T) {
	r, err := Parse([]byte(routingYAML), "")
	require.NoError(t, err)
	assert.False(t, r.BatchCapable("legacy-model"))
}

func TestBatchCapable_ConfiguredTrue(t *testing.T) {
	r, err := Parse([]byte(routingYAML), "")
	require.NoError(t, err)
	assert.True(t, r.BatchCapable("gpt-4o-mini"))
}

func TestShouldFallback_HTTPCodes(t *testing.T) {
	r, err := Parse([]byte(routingYAML), "")
	require.NoError(t, err)
	assert.True(t, r.ShouldFallback("upstream", 429))
	assert.False(t, r.ShouldFallback("upstream", 418))
	assert.True(t, r.ShouldFallback("timeout", 0))
	assert.False(t, r.ShouldFallback("parse", 0))
}

func TestConfigHash_StableForSameInput(t *testing.T) {
	r1, err := Parse([]byte(routingYAML), "")
	require.NoError(t, err)
	r2, err := Parse([]byte(routingYAML), "")
	require.NoError(t, err)
	assert.Equal(t, r1.ConfigHash(), r2.ConfigHash())
}

func TestSteps_SortedNames(t *testing.T) {
	r, err := Parse([]byte(routingYAML), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"repair", "translate"}, r.Steps())
}
