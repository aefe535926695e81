// Package codec implements the Placeholder Codec: freezing runtime
// placeholders and markup tags out of source text into opaque, byte-exact
// tokens, and rehydrating them back. Each freeze pass owns its own
// counters — there is no module-level global state — so two concurrent
// passes never interfere (spec.md §9, DESIGN NOTES).
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/schema"
)

// TokenKind discriminates a minted token as protecting a placeholder or a
// tag. It mirrors schema.PatternType but lives here since it is a property
// of the minted token, not of the schema pattern.
type TokenKind string

// Recognized token kinds.
const (
	KindPlaceholder TokenKind = "placeholder"
	KindTag         TokenKind = "tag"
)

// tokenOpen and tokenClose bracket every minted token name, e.g. "⟦PH_1⟧".
const (
	tokenOpen  = "⟦"
	tokenClose = "⟧"
)

var tokenNameRE = regexp.MustCompile(`PH_\d+|TAG_\d+`)

// Segmenter pre-processes source text before freezing. The default is the
// identity function; source languages whose code begins with "zh" use a
// word-segmenting variant. Segmenter is a first-class function value, not
// a concrete tokenizer dependency (spec.md §9, DESIGN NOTES) — callers may
// supply any segmentation strategy.
type Segmenter func(text string) string

// IdentitySegmenter performs no segmentation.
func IdentitySegmenter(text string) string { return text }

// UseSegmenter returns seg for sources in language sourceLang, or
// IdentitySegmenter otherwise. Word segmentation is only meaningful for
// Chinese-family source languages per spec.md §4.1.
func UseSegmenter(sourceLang string, seg Segmenter) Segmenter {
	if strings.HasPrefix(sourceLang, "zh") {
		return seg
	}
	return IdentitySegmenter
}

// Map is the result of one freeze pass: the tokenised text is discarded by
// the caller (it lives in the CSV row); the Map is what Rehydrate needs.
type Map struct {
	Metadata MapMetadata       `json:"metadata"`
	Mappings map[string]string `json:"mappings"`
}

// MapMetadata describes a placeholder map document. Version "2.0" is
// always written; version "1.0" (a flat token->original object with no
// metadata) is accepted on read for backward compatibility (spec.md §6,
// §9).
type MapMetadata struct {
	Version     string `json:"version"`
	GeneratedAt string `json:"generated_at"`
	InputFile   string `json:"input_file,omitempty"`
	Total       int    `json:"total_placeholders"`
	PHCount     int    `json:"ph_count"`
	TagCount    int    `json:"tag_count"`
}

// Pass holds the private, per-operation state of one freeze pass: the
// monotonically increasing counters and the reverse lookup table used to
// reuse tokens for identical glyph runs. A Pass must not be reused across
// unrelated freeze operations that should not share tokens.
type Pass struct {
	schema *schema.Schema

	phCounter  int
	tagCounter int

	// original -> token name, consulted before minting a new token so
	// identical glyph runs reuse the same token within the pass.
	reverse map[string]string
	// token name -> original, the inverse, built into the final Map.
	mappings map[string]string

	warnings []BalanceWarning
}

// BalanceWarning is a non-aborting sanity check emitted after a freeze:
// an unbalanced brace/bracket/angle count in the frozen text, keyed by
// string_id so it can be folded into an early QA report (spec.md §4.1).
type BalanceWarning struct {
	StringID string
	Detail   string
}

// NewPass starts a new freeze pass bound to schema s.
func NewPass(s *schema.Schema) *Pass {
	return &Pass{
		schema:   s,
		reverse:  make(map[string]string),
		mappings: make(map[string]string),
	}
}

// Warnings returns the balance-check warnings accumulated across every
// Freeze call made on this Pass so far.
func (p *Pass) Warnings() []BalanceWarning { return p.warnings }

// span is a half-open [start, end) byte range matched by one pattern.
type span struct {
	start, end int
	pattern    *schema.Pattern
	text       string
}

// Freeze tokenises source text, minting or reusing tokens for every match
// of the schema's patterns (tried in declared order; first match wins;
// non-overlapping). Identical original glyph runs receive the same token
// within the pass. stringID is used only to key balance-check warnings.
func (p *Pass) Freeze(stringID, source string) string {
	spans := p.findSpans(source)
	if len(spans) == 0 {
		p.checkBalance(stringID, source)
		return source
	}

	var b strings.Builder
	last := 0
	for _, sp := range spans {
		b.WriteString(source[last:sp.start])
		token := p.tokenFor(sp)
		b.WriteString(tokenOpen)
		b.WriteString(token)
		b.WriteString(tokenClose)
		last = sp.end
	}
	b.WriteString(source[last:])

	frozen := b.String()
	p.checkBalance(stringID, frozen)
	return frozen
}

// findSpans scans source once per pattern (in declared order) and resolves
// overlaps by first-match-wins, keeping spans sorted by start offset.
func (p *Pass) findSpans(source string) []span {
	var spans []span
	occupied := make([]bool, len(source)+1)

	for _, pat := range p.schema.Patterns {
		for _, loc := range pat.Compiled().FindAllStringIndex(source, -1) {
			start, end := loc[0], loc[1]
			if rangeOccupied(occupied, start, end) {
				continue
			}
			markOccupied(occupied, start, end)
			spans = append(spans, span{start: start, end: end, pattern: pat, text: source[start:end]})
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

func rangeOccupied(occupied []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if occupied[i] {
			return true
		}
	}
	return false
}

func markOccupied(occupied []bool, start, end int) {
	for i := start; i < end; i++ {
		occupied[i] = true
	}
}

// tokenFor returns the token name for sp's matched text, minting a new one
// only if this exact glyph run has not been seen yet in this pass.
func (p *Pass) tokenFor(sp span) string {
	if name, ok := p.reverse[sp.text]; ok {
		return name
	}

	var name string
	switch sp.pattern.Type {
	case schema.PatternTag:
		p.tagCounter++
		name = fmt.Sprintf(p.schema.TokenFormat.Tag, p.tagCounter)
	default:
		p.phCounter++
		name = fmt.Sprintf(p.schema.TokenFormat.Placeholder, p.phCounter)
	}

	p.reverse[sp.text] = name
	p.mappings[name] = sp.text
	return name
}

// Map returns the accumulated mapping for every token minted on this Pass
// so far, suitable for JSON serialization (spec.md §6).
func (p *Pass) Map(inputFile, generatedAt string) *Map {
	return &Map{
		Metadata: MapMetadata{
			Version:     "2.0",
			GeneratedAt: generatedAt,
			InputFile:   inputFile,
			Total:       len(p.mappings),
			PHCount:     p.phCounter,
			TagCount:    p.tagCounter,
		},
		Mappings: p.mappings,
	}
}

var balancePairs = []struct{ open, close byte }{
	{'{', '}'},
	{'[', ']'},
	{'<', '>'},
}

// checkBalance runs the brace/bracket/angle sanity check on frozen text
// and appends any imbalance as a non-aborting warning (spec.md §4.1).
func (p *Pass) checkBalance(stringID, frozen string) {
	for _, pair := range balancePairs {
		opens := strings.Count(frozen, string(pair.open))
		closes := strings.Count(frozen, string(pair.close))
		if opens != closes {
			p.warnings = append(p.warnings, BalanceWarning{
				StringID: stringID,
				Detail: fmt.Sprintf("unbalanced %q/%q: %d open, %d close",
					pair.open, pair.close, opens, closes),
			})
		}
	}
}

// ErrUnknownToken is returned by Rehydrate when the text contains a token
// name absent from the supplied map.
type ErrUnknownToken struct {
	Token    string
	StringID string
}

func (e *ErrUnknownToken) Error() string {
	return fmt.Sprintf("unknown token %s for string_id %q", e.Token, e.StringID)
}

// Rehydrate replaces every ⟦NAME⟧ token in text with its original glyph
// run from m. It fails closed: any token name absent from m aborts with
// ErrUnknownToken and no partial output is returned (spec.md §4.1).
func Rehydrate(text string, m *Map, stringID string) (string, error) {
	if text == "" {
		return text, nil
	}

	names := ExtractTokenNames(text)
	for _, name := range names {
		if _, ok := m.Mappings[name]; !ok {
			return "", &ErrUnknownToken{Token: name, StringID: stringID}
		}
	}

	var b strings.Builder
	i := 0
	for i < len(text) {
		if strings.HasPrefix(text[i:], tokenOpen) {
			rest := text[i+len(tokenOpen):]
			if end := strings.Index(rest, tokenClose); end != -1 {
				name := rest[:end]
				if tokenNameRE.MatchString(name) && tokenNameRE.FindString(name) == name {
					b.WriteString(m.Mappings[name])
					i += len(tokenOpen) + end + len(tokenClose)
					continue
				}
			}
		}
		r := []rune(text[i:])[0]
		b.WriteRune(r)
		i += len(string(r))
	}
	return b.String(), nil
}

// ExtractTokenNames returns the distinct token names referenced in text,
// in first-occurrence order.
func ExtractTokenNames(text string) []string {
	var names []string
	seen := make(map[string]bool)
	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], tokenOpen)
		if idx == -1 {
			break
		}
		start := i + idx + len(tokenOpen)
		end := strings.Index(text[start:], tokenClose)
		if end == -1 {
			break
		}
		name := text[start : start+end]
		if tokenNameRE.FindString(name) == name {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		i = start + end + len(tokenClose)
	}
	return names
}

// TokenMultiset returns the multiset (name -> count) of token names
// referenced in text, used by the Hard QA Validator's token-set
// equality check.
func TokenMultiset(text string) map[string]int {
	counts := make(map[string]int)
	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], tokenOpen)
		if idx == -1 {
			break
		}
		start := i + idx + len(tokenOpen)
		end := strings.Index(text[start:], tokenClose)
		if end == -1 {
			break
		}
		name := text[start : start+end]
		if tokenNameRE.FindString(name) == name {
			counts[name]++
		}
		i = start + end + len(tokenClose)
	}
	return counts
}

// Digest returns a stable SHA-256 hex digest of a Map's mappings, stable
// regardless of Go map iteration order. Not required by the spec directly
// but used by tests to assert round-trip equivalence of two independently
// produced maps.
func (m *Map) Digest() string {
	keys := make([]string, 0, len(m.Mappings))
	for k := range m.Mappings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(m.Mappings[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
