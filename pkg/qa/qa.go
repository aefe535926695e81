// Package qa is the Hard QA Validator: a set of structural invariant
// checks run against every translated row, never judging fluency, never
// aborting on a single row's failure — it aggregates across the whole
// run and leaves the verdict to its caller (spec.md §1, §4.7). Checks and
// their field names are grounded on original_source's
// tests/test_qa_hard_v2.py, the only surviving ground truth for the
// Python qa_hard validator (its source itself was filtered out of the
// retrieval pack, but the test suite pins its exact behavior).
package qa

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/codec"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/schema"
)

// ErrorType discriminates a QA error by which check produced it.
type ErrorType string

// Recognized error types.
const (
	ErrorTokenMismatch  ErrorType = "token_mismatch"
	ErrorTagUnbalanced  ErrorType = "tag_unbalanced"
	ErrorForbiddenHit   ErrorType = "forbidden_hit"
	ErrorNewPlaceholder ErrorType = "new_placeholder_found"
	ErrorLengthOverflow ErrorType = "length_overflow"
)

// Severity grades a length_overflow error; every other error type is
// unconditionally fatal to the row (spec.md §4.7).
type Severity string

// Recognized severities.
const (
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// lengthOverflowCriticalRatio is the "more than 1.5x the limit" threshold
// spec.md §4.7 sets for escalating a length_overflow from major to
// critical.
const lengthOverflowCriticalRatio = 1.5

// Error is one row-level QA failure.
type Error struct {
	Row      int       `json:"row"`
	StringID string    `json:"string_id"`
	Type     ErrorType `json:"type"`
	Detail   string    `json:"detail"`
	Severity Severity  `json:"severity,omitempty"`
	Source   string    `json:"source,omitempty"`
}

// Report is the Hard QA Validator's aggregated output.
type Report struct {
	HasErrors       bool           `json:"has_errors"`
	TotalRows       int            `json:"total_rows"`
	ErrorCounts     map[string]int `json:"error_counts"`
	Errors          []Error        `json:"errors"`
	ErrorsTruncated bool           `json:"errors_truncated"`
	Metadata        ReportMetadata `json:"metadata"`
}

// ReportMetadata carries the report's provenance.
type ReportMetadata struct {
	Version     string `json:"version"`
	GeneratedAt string `json:"generated_at"`
	InputFile   string `json:"input_file"`
	TotalErrors int    `json:"total_errors"`
}

// maxReportedErrors caps how many individual errors a Report carries,
// per spec.md §3 and the Python validator's generate_report.
const maxReportedErrors = 2000

// Row is the minimal view of a translated row the validator needs.
type Row struct {
	Row             int
	StringID        string
	Source          string // frozen/tokenized source
	Target          string // translated, still-tokenized text
	MaxLengthTarget int
}

// Validator runs the Hard QA checks against a batch of rows.
type Validator struct {
	schema            *schema.Schema
	forbiddenPatterns []*regexp.Regexp
	placeholderMap    *codec.Map

	errors      []Error
	errorCounts map[string]int
}

// New constructs a Validator. s and forbidden may be nil to disable the
// new_placeholder_found and forbidden_hit checks respectively — both are
// optional collaborators per spec.md §1. m is the freeze pass's
// placeholder map: Validate only ever sees still-tokenized text, so
// checkTagBalance needs m to resolve a TAG_n token back to its original
// glyph before counting opens/closes against the schema's paired_tags.
// m may be nil, in which case checkTagBalance falls back to the
// count-based TAG_* check.
func New(s *schema.Schema, forbidden []*regexp.Regexp, m *codec.Map) *Validator {
	return &Validator{
		schema:            s,
		forbiddenPatterns: forbidden,
		placeholderMap:    m,
		errorCounts: map[string]int{
			string(ErrorTokenMismatch):  0,
			string(ErrorTagUnbalanced):  0,
			string(ErrorForbiddenHit):   0,
			string(ErrorNewPlaceholder): 0,
			string(ErrorLengthOverflow): 0,
		},
	}
}

// CompileForbidden compiles a list of forbidden-content regex patterns,
// skipping (not failing on) any that don't compile, mirroring the
// schema loader's tolerant-skip behavior.
func CompileForbidden(patterns []string) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if re, err := regexp.Compile(p); err == nil {
			out = append(out, re)
		}
	}
	return out
}

// Validate runs every check against row and accumulates any failures.
func (v *Validator) Validate(row Row) {
	v.checkTokenMismatch(row.StringID, row.Source, row.Target, row.Row)
	v.checkTagBalance(row.StringID, row.Target, row.Row)
	v.checkForbiddenPatterns(row.StringID, row.Target, row.Row)
	v.checkNewPlaceholders(row.StringID, row.Target, row.Row)
	v.checkLengthOverflow(row.StringID, row.Target, row.MaxLengthTarget, row.Row)
}

// checkTokenMismatch reports every token present in source but missing
// from target, and every token present in target but absent from source,
// as separate errors (spec.md §4.7, S3; test_qa_hard_v2.py
// TestTokenMismatch).
func (v *Validator) checkTokenMismatch(stringID, source, target string, rowNum int) {
	sourceTokens := codec.TokenMultiset(source)
	targetTokens := codec.TokenMultiset(target)

	for name := range sourceTokens {
		if _, ok := targetTokens[name]; !ok {
			v.addError(Error{Row: rowNum, StringID: stringID, Type: ErrorTokenMismatch,
				Detail: name + " missing from target"})
		}
	}
	for name := range targetTokens {
		if _, ok := sourceTokens[name]; !ok {
			v.addError(Error{Row: rowNum, StringID: stringID, Type: ErrorTokenMismatch,
				Detail: name + " extra in target, not present in source"})
		}
	}
}

// checkTagBalance checks paired-tag balance using the schema's
// paired_tags when configured, falling back to a coarse TAG_* occurrence
// count otherwise (spec.md §4.7). target is still-tokenized text — every
// tag is a ⟦TAG_n⟧ token, never the literal glyph — so matching against
// the schema's paired_tags requires resolving each token back to its
// original glyph via the freeze pass's placeholder map first.
func (v *Validator) checkTagBalance(stringID, target string, rowNum int) {
	if target == "" {
		return
	}

	if v.schema != nil && len(v.schema.PairedTags) > 0 && v.placeholderMap != nil {
		counts := codec.TokenMultiset(target)
		for _, pair := range v.schema.PairedTags {
			var opens, closes int
			for name, n := range counts {
				switch v.placeholderMap.Mappings[name] {
				case pair.Open:
					opens += n
				case pair.Close:
					closes += n
				}
			}
			if opens != closes {
				v.addError(Error{Row: rowNum, StringID: stringID, Type: ErrorTagUnbalanced,
					Detail: "unbalanced tag pair " + pair.Open + "/" + pair.Close})
			}
		}
		return
	}

	// Count-based fallback: every TAG_n token should appear an even
	// number of times if the schema declares no explicit pairs, or if
	// no placeholder map is available to resolve pair glyphs.
	counts := codec.TokenMultiset(target)
	for name, n := range counts {
		if strings.HasPrefix(name, "TAG_") && n%2 != 0 {
			v.addError(Error{Row: rowNum, StringID: stringID, Type: ErrorTagUnbalanced,
				Detail: "unbalanced tag token " + name})
		}
	}
}

// checkForbiddenPatterns reports the first forbidden pattern matched in
// target, if any — only the first hit is reported per row even if
// multiple patterns match (spec.md §4.7).
func (v *Validator) checkForbiddenPatterns(stringID, target string, rowNum int) {
	if target == "" {
		return
	}
	for _, re := range v.forbiddenPatterns {
		if re.MatchString(target) {
			v.addError(Error{Row: rowNum, StringID: stringID, Type: ErrorForbiddenHit,
				Detail: "forbidden content matched pattern: " + re.String()})
			return
		}
	}
}

// checkNewPlaceholders flags runtime placeholders/markup present in
// target that were never frozen into a token — evidence the model
// invented new markup instead of preserving the tokenized original
// (spec.md §4.7).
func (v *Validator) checkNewPlaceholders(stringID, target string, rowNum int) {
	if target == "" || v.schema == nil {
		return
	}
	for _, pat := range v.schema.Patterns {
		for _, match := range pat.Compiled().FindAllString(target, -1) {
			v.addError(Error{Row: rowNum, StringID: stringID, Type: ErrorNewPlaceholder,
				Detail: "untokenized placeholder found in target: " + match})
		}
	}
}

// checkLengthOverflow reports when target exceeds maxLength, graded
// major or critical above 1.5x the limit (spec.md §4.7, S4).
func (v *Validator) checkLengthOverflow(stringID, target string, maxLength, rowNum int) {
	if maxLength <= 0 {
		return
	}
	length := len([]rune(target))
	if length <= maxLength {
		return
	}

	severity := SeverityMajor
	if float64(length) > float64(maxLength)*lengthOverflowCriticalRatio {
		severity = SeverityCritical
	}

	v.addError(Error{
		Row:      rowNum,
		StringID: stringID,
		Type:     ErrorLengthOverflow,
		Severity: severity,
		Detail:   strconv.Itoa(length) + " > " + strconv.Itoa(maxLength),
	})
}

func (v *Validator) addError(e Error) {
	v.errors = append(v.errors, e)
	v.errorCounts[string(e.Type)]++
}

// Errors returns every accumulated error, unfiltered and untruncated.
func (v *Validator) Errors() []Error { return v.errors }

// ErrorCounts returns the per-type error tally.
func (v *Validator) ErrorCounts() map[string]int { return v.errorCounts }

// Report builds the final Report, truncating to maxReportedErrors and
// flagging the truncation (spec.md §3).
func (v *Validator) Report(totalRows int, inputFile, generatedAt string) Report {
	errs := v.errors
	truncated := false
	if len(errs) > maxReportedErrors {
		errs = errs[:maxReportedErrors]
		truncated = true
	}

	return Report{
		HasErrors:       len(v.errors) > 0,
		TotalRows:       totalRows,
		ErrorCounts:     v.errorCounts,
		Errors:          errs,
		ErrorsTruncated: truncated,
		Metadata: ReportMetadata{
			Version:     "2.0",
			GeneratedAt: generatedAt,
			InputFile:   inputFile,
			TotalErrors: len(v.errors),
		},
	}
}
