package csvio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadRows_BasicColumns(t *testing.T) {
	path := writeTemp(t, "string_id,source_text,max_length_target\ns1,Hello,40\ns2,World,\n")
	rows, header, err := ReadRows(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"string_id", "source_text", "max_length_target"}, header)
	require.Len(t, rows, 2)
	assert.Equal(t, "s1", rows[0].StringID)
	assert.Equal(t, "Hello", rows[0].SourceText)
	assert.Equal(t, 40, rows[0].MaxLengthTarget)
	assert.Equal(t, 0, rows[1].MaxLengthTarget)
}

func TestReadRows_LegacySourceColumn(t *testing.T) {
	path := writeTemp(t, "string_id,source_zh\ns1,你好\n")
	rows, _, err := ReadRows(path)
	require.NoError(t, err)
	assert.Equal(t, "你好", rows[0].SourceText)
}

func TestReadRows_DuplicateStringIDRejected(t *testing.T) {
	path := writeTemp(t, "string_id,source_text\ns1,a\ns1,b\n")
	_, _, err := ReadRows(path)
	assert.ErrorContains(t, err, "duplicate string_id")
}

func TestReadRows_MissingRequiredColumn(t *testing.T) {
	path := writeTemp(t, "foo,bar\n1,2\n")
	_, _, err := ReadRows(path)
	assert.ErrorContains(t, err, "string_id")
}

func TestReadRows_EmptyStringIDRejected(t *testing.T) {
	path := writeTemp(t, "string_id,source_text\n,a\n")
	_, _, err := ReadRows(path)
	assert.ErrorContains(t, err, "empty string_id")
}

func TestReadRows_ExtraColumnsPassthrough(t *testing.T) {
	path := writeTemp(t, "string_id,source_text,context\ns1,Hello,greeting screen\n")
	rows, _, err := ReadRows(path)
	require.NoError(t, err)
	assert.Equal(t, "greeting screen", rows[0].Extra["context"])
}

func TestReadRows_BOMStripped(t *testing.T) {
	path := writeTemp(t, "﻿string_id,source_text\ns1,Hello\n")
	rows, header, err := ReadRows(path)
	require.NoError(t, err)
	assert.Equal(t, "string_id", header[0])
	assert.Equal(t, "s1", rows[0].StringID)
}

func TestWriteRows_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")
	rows := []Row{
		{StringID: "s1", SourceText: "Hello", TargetText: "Bonjour", Extra: map[string]string{"context": "x"}},
	}
	err := WriteRows(out, rows, []string{"string_id", "source_text", "target_text"})
	require.NoError(t, err)

	back, header, err := ReadRows(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"string_id", "source_text", "target_text", "context"}, header)
	assert.Equal(t, "Bonjour", back[0].TargetText)
	assert.Equal(t, "x", back[0].Extra["context"])
}
