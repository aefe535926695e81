// Package schema loads the placeholder/tag pattern schema that drives the
// Placeholder Codec: an ordered list of regular expressions, each tagged as
// a placeholder or a tag, plus the token name format and any paired tags
// used by the Hard QA Validator's balance check.
package schema

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// PatternType discriminates a schema pattern as protecting a runtime
// placeholder (e.g. "{0}", "%s") or a markup tag (e.g. "<b>").
type PatternType string

// Recognized pattern types.
const (
	PatternPlaceholder PatternType = "placeholder"
	PatternTag         PatternType = "tag"
)

// Pattern is a single named regular expression tried, in declaration
// order, against the source text during a freeze pass.
type Pattern struct {
	Name  string      `yaml:"name"`
	Regex string      `yaml:"regex"`
	Type  PatternType `yaml:"type"`

	compiled *regexp.Regexp
}

// Compiled returns the pattern's compiled regular expression. Parse
// compiles every pattern it keeps, so this is non-nil for any Pattern of a
// parsed Schema.
func (p *Pattern) Compiled() *regexp.Regexp {
	return p.compiled
}

// TokenFormat gives the Printf-style template used to render a minted
// token name, e.g. "PH_%d" for "PH_1".
type TokenFormat struct {
	Placeholder string `yaml:"placeholder"`
	Tag         string `yaml:"tag"`
}

// PairedTag declares an open/close pair of tag originals whose counts the
// Hard QA Validator checks for balance in the translated text.
type PairedTag struct {
	Open        string `yaml:"open"`
	Close       string `yaml:"close"`
	Description string `yaml:"description,omitempty"`
}

// Schema is the parsed, compiled schema.yaml document.
type Schema struct {
	Version     int         `yaml:"version"`
	Patterns    []*Pattern  `yaml:"patterns"`
	TokenFormat TokenFormat `yaml:"token_format"`
	PairedTags  []PairedTag `yaml:"paired_tags,omitempty"`

	// skipped records patterns dropped for malformed regexes, by name,
	// with the reason. The caller decides whether to surface these as
	// sanity warnings.
	skipped map[string]string
}

// Load reads and compiles a schema.yaml file from disk.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and compiles schema YAML bytes.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing schema YAML: %w", err)
	}
	if len(s.Patterns) == 0 {
		return nil, fmt.Errorf("schema has no patterns")
	}
	if s.TokenFormat.Placeholder == "" || s.TokenFormat.Tag == "" {
		return nil, fmt.Errorf("schema token_format must set both placeholder and tag templates")
	}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// compile compiles every declared pattern's regex, skipping (not failing)
// any that do not compile — per spec §4.1's "malformed regex (skip
// pattern with warning)" error condition.
func (s *Schema) compile() error {
	s.skipped = make(map[string]string)
	kept := make([]*Pattern, 0, len(s.Patterns))
	for _, p := range s.Patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			s.skipped[p.Name] = err.Error()
			continue
		}
		if p.Type != PatternPlaceholder && p.Type != PatternTag {
			s.skipped[p.Name] = fmt.Sprintf("unknown pattern type %q", p.Type)
			continue
		}
		p.compiled = re
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return fmt.Errorf("schema has no usable patterns after compilation")
	}
	s.Patterns = kept
	return nil
}

// Skipped returns the patterns dropped during compilation, keyed by name,
// with the reason they were skipped.
func (s *Schema) Skipped() map[string]string {
	return s.skipped
}
