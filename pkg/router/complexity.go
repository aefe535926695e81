package router

import (
	"regexp"
	"unicode"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/codec"
)

// ComplexityMetrics scores how hard a row looks to translate, the same
// signal the original complexity-based router used to pick a model
// outright. Here it is demoted to an optional reordering hint: it can
// only reorder an already-valid chain returned by Router.Chain, never
// invent or drop a model, so the YAML routing table stays the single
// source of truth for which models are even eligible (SPEC_FULL.md
// supplement; grounded on original_source's model_router.py
// ComplexityAnalyzer).
type ComplexityMetrics struct {
	TextLength          int
	CJKCount            int
	PlaceholderCount    int
	PlaceholderDensity  float64
	SpecialCharCount    int
	SpecialCharDensity  float64
	GlossaryTermCount   int
	GlossaryTermDensity float64
	Score               float64
}

// complexityWeights mirrors model_router.py's DEFAULT_WEIGHTS.
var complexityWeights = struct {
	length             float64
	placeholderDensity float64
	specialCharDensity float64
	glossaryDensity    float64
}{
	length:             0.20,
	placeholderDensity: 0.25,
	specialCharDensity: 0.15,
	glossaryDensity:    0.25,
}

var specialCharRE = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

// Measure computes complexity metrics for already-frozen text (so
// placeholder density reflects minted tokens rather than raw runtime
// placeholders) and its matching glossary constraint count.
func Measure(frozenText string, glossaryTermHits int) ComplexityMetrics {
	m := ComplexityMetrics{TextLength: len([]rune(frozenText))}

	for _, r := range frozenText {
		if unicode.Is(unicode.Han, r) {
			m.CJKCount++
		}
	}
	m.PlaceholderCount = len(codec.ExtractTokenNames(frozenText))
	m.SpecialCharCount = len(specialCharRE.FindAllString(frozenText, -1))
	m.GlossaryTermCount = glossaryTermHits

	if m.TextLength > 0 {
		m.PlaceholderDensity = float64(m.PlaceholderCount) / float64(m.TextLength)
		m.SpecialCharDensity = float64(m.SpecialCharCount) / float64(m.TextLength)
		m.GlossaryTermDensity = float64(m.GlossaryTermCount) / float64(m.TextLength)
	}

	lengthScore := normalizeLength(m.TextLength)
	m.Score = complexityWeights.length*lengthScore +
		complexityWeights.placeholderDensity*clamp01(m.PlaceholderDensity*4) +
		complexityWeights.specialCharDensity*clamp01(m.SpecialCharDensity*4) +
		complexityWeights.glossaryDensity*clamp01(m.GlossaryTermDensity*4)

	return m
}

// normalizeLength maps a rune count onto [0, 1] using the same coarse
// thresholds as model_router.py's LENGTH_THRESHOLDS: short strings score
// low, long strings saturate at 1.
func normalizeLength(runeCount int) float64 {
	switch {
	case runeCount <= 20:
		return 0.1
	case runeCount <= 80:
		return 0.35
	case runeCount <= 200:
		return 0.6
	case runeCount <= 500:
		return 0.85
	default:
		return 1.0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ComplexityScorer reorders an already-resolved model chain so the
// highest-capability model handles the hardest rows first, without ever
// adding a model absent from the original chain. It is a standalone
// helper: Router.Chain and the Batch Scheduler do not call it.
type ComplexityScorer struct {
	// Threshold is the complexity score above which the chain is
	// reordered to put its most capable (last) entry first. Below
	// threshold, the original chain order is returned unchanged.
	Threshold float64
}

// Reorder returns chain, possibly rotated so its last entry leads, when
// metrics.Score exceeds s.Threshold. It never changes chain's membership.
func (s ComplexityScorer) Reorder(chain []string, metrics ComplexityMetrics) []string {
	if s.Threshold <= 0 || metrics.Score <= s.Threshold || len(chain) < 2 {
		return chain
	}
	out := make([]string, len(chain))
	out[0] = chain[len(chain)-1]
	copy(out[1:], chain[:len(chain)-1])
	return out
}
