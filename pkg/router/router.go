// Package router resolves which model handles a given pipeline step,
// following the YAML routing table and capability-based fallback chain
// described in spec.md §4.4. It is grounded on the teacher's chain and
// LLM-provider registries (pkg/config/chain.go, pkg/config/llm.go):
// load-once, read-only lookup by name.
package router

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// QualityTier names a model's coarse quality class. No routing or repair
// decision in this module reads it.
type QualityTier string

// StepConfig is one step's routing.<step> entry.
type StepConfig struct {
	Default          string         `yaml:"default"`
	Fallback         []string       `yaml:"fallback"`
	Temperature      *float64       `yaml:"temperature,omitempty"`
	MaxTokens        *int           `yaml:"max_tokens,omitempty"`
	ResponseFormat   string         `yaml:"response_format,omitempty"`
	GenerationParams map[string]any `yaml:"generation_params,omitempty"`
}

// Capability describes what a model can do, independent of any step.
type Capability struct {
	Batch bool `yaml:"batch"`
}

// FallbackTriggers configures which transport error kinds make the
// Batch Scheduler advance to the next model in a step's fallback chain
// (spec.md §4.4, §7).
type FallbackTriggers struct {
	OnTimeout      bool  `yaml:"on_timeout"`
	OnNetworkError bool  `yaml:"on_network_error"`
	OnParseError   bool  `yaml:"on_parse_error"`
	HTTPCodes      []int `yaml:"http_codes"`
}

type document struct {
	Routing          map[string]StepConfig `yaml:"routing"`
	Capabilities     map[string]Capability `yaml:"capabilities"`
	FallbackTriggers FallbackTriggers      `yaml:"fallback_triggers"`
}

// ErrNoChain is returned when a step has neither a configured chain nor an
// environment default model — a fatal configuration error per spec.md
// §4.4 and the exit-code 2 contract in §6.
type ErrNoChain struct {
	Step string
}

func (e *ErrNoChain) Error() string {
	return fmt.Sprintf("router: no chain configured for step %q and no environment default model set", e.Step)
}

// Router answers routing questions for one loaded configuration. It holds
// no per-run mutable state; everything it returns is either a copy or an
// immutable value.
type Router struct {
	steps            map[string]StepConfig
	capabilities     map[string]Capability
	fallbackTriggers FallbackTriggers
	envDefault       string
	configHash       string
}

// Load reads a routing YAML document from path.
func Load(path, envDefaultModel string) (*Router, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading routing config %s: %w", path, err)
	}
	return Parse(data, envDefaultModel)
}

// Parse builds a Router from routing YAML bytes. envDefaultModel is the
// LLM_MODEL environment fallback consulted when a step's chain is empty
// (spec.md §4.4 selection precedence: metadata override > router chain >
// environment default).
func Parse(data []byte, envDefaultModel string) (*Router, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing routing YAML: %w", err)
	}

	r := &Router{
		steps:            doc.Routing,
		capabilities:     doc.Capabilities,
		fallbackTriggers: doc.FallbackTriggers,
		envDefault:       envDefaultModel,
	}
	r.configHash = hashConfig(doc)
	return r, nil
}

func hashConfig(doc document) string {
	// Deterministic hash over a canonicalized JSON encoding; map key order
	// in Go's encoding/json is already sorted, so this is stable across
	// runs of the same configuration.
	canon, _ := json.Marshal(doc)
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])
}

// ConfigHash returns a stable hash of the loaded routing configuration,
// recorded on trace events so a run can be reproduced against the exact
// configuration that produced it (spec.md §4.4).
func (r *Router) ConfigHash() string { return r.configHash }

// Chain returns the ordered list of models to attempt for step, in
// priority order: a row-level metadata override (if non-empty) wins
// outright; otherwise the step's configured default followed by its
// fallback list; an unconfigured step uses the "_default" routing entry
// if one exists, and otherwise the single environment default model. An
// unconfigured step with neither is a fatal ErrNoChain (spec.md §4.4).
func (r *Router) Chain(step, metadataOverride string) ([]string, error) {
	if metadataOverride != "" {
		return []string{metadataOverride}, nil
	}

	cfg, ok := r.steps[step]
	if !ok {
		if fallback, hasDefault := r.steps["_default"]; hasDefault {
			cfg = fallback
		} else if r.envDefault != "" {
			return []string{r.envDefault}, nil
		} else {
			return nil, &ErrNoChain{Step: step}
		}
	}

	if cfg.Default == "" {
		if r.envDefault != "" {
			return []string{r.envDefault}, nil
		}
		return nil, &ErrNoChain{Step: step}
	}

	chain := make([]string, 0, 1+len(cfg.Fallback))
	chain = append(chain, cfg.Default)
	chain = append(chain, cfg.Fallback...)
	return chain, nil
}

// ShouldFallback reports whether err (classified by kind and, for HTTP
// errors, status code) should advance the scheduler to the next model in
// the chain, per the configured fallback_triggers (spec.md §4.4, §7).
func (r *Router) ShouldFallback(kind string, httpStatus int) bool {
	switch kind {
	case "timeout":
		return r.fallbackTriggers.OnTimeout
	case "network":
		return r.fallbackTriggers.OnNetworkError
	case "parse":
		return r.fallbackTriggers.OnParseError
	case "upstream", "http":
		for _, code := range r.fallbackTriggers.HTTPCodes {
			if code == httpStatus {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// BatchCapable reports whether model supports multi-row batched requests.
// A model absent from the capabilities map defaults to batch-capable
// (spec.md §4.4: "unknown models default ok").
func (r *Router) BatchCapable(model string) bool {
	c, ok := r.capabilities[model]
	if !ok {
		return true
	}
	return c.Batch
}

// GenerationParams returns the generation parameters (temperature,
// max_tokens, response_format, and any extra provider-specific knobs)
// configured for step.
func (r *Router) GenerationParams(step string) StepConfig {
	return r.steps[step]
}

// Steps returns the configured step names, sorted, for diagnostics.
func (r *Router) Steps() []string {
	out := make([]string, 0, len(r.steps))
	for s := range r.steps {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
