// Package csvio is the minimal CSV row model the core engine consumes.
// A full CSV dialect detector and writer is an explicit external
// collaborator out of this engine's scope (spec.md §1); this package
// ships just enough of a concrete Reader/Writer pair to run the pipeline
// end to end, following the input/draft/translated column conventions of
// spec.md §6.
package csvio

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Row is one localization unit: a source string plus whatever columns the
// pipeline has added so far (tokenized_text, target_text, ...). Extra
// holds every column not otherwise recognized, passed through unchanged
// (spec.md §3, §6).
type Row struct {
	StringID        string
	SourceText      string
	MaxLengthTarget int
	IsLongText      bool
	Extra           map[string]string

	// TokenizedText is the frozen source (Draft CSV column).
	TokenizedText string
	// TargetText is the translated, still-tokenized text (Translated CSV
	// column). Rehydration replaces tokens in place.
	TargetText string
}

// sourceTextColumns lists the accepted spellings for the source-text
// column, first match wins (spec.md §6: "source_text (or legacy
// source_zh)").
var sourceTextColumns = []string{"source_text", "source_zh"}

// maxLengthColumns lists accepted spellings for the max-length column.
var maxLengthColumns = []string{"max_length_target", "max_len_target"}

// tokenizedColumns lists accepted spellings for the frozen-source column.
var tokenizedColumns = []string{"tokenized_text", "tokenized_zh"}

// targetColumnsExact lists the accepted exact target-translation column
// names per spec.md §6, tried in this list order; when none is present,
// the first header carrying the "target_" prefix is used.
var targetColumnsExact = []string{"target_text", "translated_text", "tokenized_target"}

// ReadRows parses a CSV file (UTF-8, optional BOM) into Rows. string_id
// and a recognized source-text column are required; duplicate string_id
// values are a hard pre-flight error (spec.md §3).
func ReadRows(path string) ([]Row, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return readRows(f)
}

func readRows(r io.Reader) ([]Row, []string, error) {
	reader := csv.NewReader(stripBOM(r))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading CSV header: %w", err)
	}
	header = trimAll(header)

	idIdx := indexOf(header, "string_id")
	if idIdx == -1 {
		return nil, nil, fmt.Errorf("missing required column: string_id")
	}
	srcIdx, srcCol := firstPresent(header, sourceTextColumns)
	if srcIdx == -1 {
		return nil, nil, fmt.Errorf("missing required column: source_text (or legacy source_zh)")
	}
	maxLenIdx, _ := firstPresent(header, maxLengthColumns)
	isLongIdx := indexOf(header, "is_long_text")
	tokIdx, _ := firstPresent(header, tokenizedColumns)
	targetIdx, targetColName := firstPresent(header, targetColumnsExact)
	if targetIdx == -1 {
		targetIdx, targetColName = firstPrefixed(header, "target_")
	}

	recognized := map[int]bool{idIdx: true, srcIdx: true}
	if maxLenIdx != -1 {
		recognized[maxLenIdx] = true
	}
	if isLongIdx != -1 {
		recognized[isLongIdx] = true
	}
	if tokIdx != -1 {
		recognized[tokIdx] = true
	}
	if targetIdx != -1 {
		recognized[targetIdx] = true
	}
	_ = targetColName
	_ = srcCol

	var rows []Row
	seen := make(map[string]bool)
	lineNo := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading CSV row %d: %w", lineNo+1, err)
		}
		lineNo++

		row := Row{Extra: make(map[string]string)}
		row.StringID = field(rec, idIdx)
		if row.StringID == "" {
			return nil, nil, fmt.Errorf("row %d: empty string_id", lineNo)
		}
		if seen[row.StringID] {
			return nil, nil, fmt.Errorf("duplicate string_id %q at row %d", row.StringID, lineNo)
		}
		seen[row.StringID] = true

		row.SourceText = field(rec, srcIdx)
		if maxLenIdx != -1 {
			if v, err := strconv.Atoi(strings.TrimSpace(field(rec, maxLenIdx))); err == nil {
				row.MaxLengthTarget = v
			}
		}
		if isLongIdx != -1 {
			row.IsLongText = field(rec, isLongIdx) == "1"
		}
		if tokIdx != -1 {
			row.TokenizedText = field(rec, tokIdx)
		}
		if targetIdx != -1 {
			row.TargetText = field(rec, targetIdx)
		}

		for i, col := range header {
			if recognized[i] {
				continue
			}
			row.Extra[col] = field(rec, i)
		}

		rows = append(rows, row)
	}

	return rows, header, nil
}

// WriteRows writes rows to path as CSV, using columns as the header order.
// Extra columns not named in columns are appended, sorted by first
// appearance across rows (by name among columns first seen in the same
// row), to the right of the named columns.
func WriteRows(path string, rows []Row, columns []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	extraCols := collectExtraColumns(rows)
	header := append(append([]string{}, columns...), extraCols...)
	if err := w.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		rec := make([]string, len(header))
		for i, col := range header {
			rec[i] = rowField(row, col)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func rowField(row Row, col string) string {
	switch col {
	case "string_id":
		return row.StringID
	case "source_text":
		return row.SourceText
	case "max_length_target":
		if row.MaxLengthTarget > 0 {
			return strconv.Itoa(row.MaxLengthTarget)
		}
		return ""
	case "is_long_text":
		if row.IsLongText {
			return "1"
		}
		return "0"
	case "tokenized_text":
		return row.TokenizedText
	case "target_text":
		return row.TargetText
	default:
		return row.Extra[col]
	}
}

func collectExtraColumns(rows []Row) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range rows {
		var fresh []string
		for k := range r.Extra {
			if !seen[k] {
				seen[k] = true
				fresh = append(fresh, k)
			}
		}
		sort.Strings(fresh)
		cols = append(cols, fresh...)
	}
	return cols
}

func field(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return rec[idx]
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func firstPresent(header []string, candidates []string) (int, string) {
	for _, c := range candidates {
		if i := indexOf(header, c); i != -1 {
			return i, c
		}
	}
	return -1, ""
}

func firstPrefixed(header []string, prefix string) (int, string) {
	for i, h := range header {
		if strings.HasPrefix(h, prefix) {
			return i, h
		}
	}
	return -1, ""
}

func trimAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// stripBOM wraps r to transparently discard a leading UTF-8 byte-order
// mark, if present.
func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	peek, err := br.Peek(3)
	if err == nil && bytes.Equal(peek, utf8BOM) {
		br.Discard(3)
	}
	return br
}
