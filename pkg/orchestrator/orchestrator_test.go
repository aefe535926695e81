package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatCompletionServer answers every request by returning each requested
// item's text passed through transform, wrapped in the items-shape
// response body.
func chatCompletionServer(t *testing.T, transform func(id, text string) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		var items []struct {
			ID              string `json:"id"`
			Text            string `json:"text"`
			MaxLengthTarget int    `json:"max_length_target"`
		}
		require.NoError(t, json.Unmarshal([]byte(body.Messages[1].Content), &items))

		type outItem struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		}
		out := make([]outItem, 0, len(items))
		for _, it := range items {
			out = append(out, outItem{ID: it.ID, Text: transform(it.ID, it.Text)})
		}
		content, _ := json.Marshal(map[string]any{"items": out})

		resp := map[string]any{
			"id": "chatcmpl-test",
			"choices": []map[string]any{
				{"message": map[string]any{"content": string(content)}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func setupRun(t *testing.T, csvContent string) (RunConfig, string) {
	t.Helper()
	dir := t.TempDir()

	inputPath := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(inputPath, []byte(csvContent), 0o644))

	schemaPath := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`
version: 1
token_format:
  placeholder: "PH_%d"
  tag: "TAG_%d"
patterns:
  - name: doubled_brace
    regex: '\{\{[a-zA-Z_]+\}\}'
    type: placeholder
`), 0o644))

	routingPath := filepath.Join(dir, "routing.yaml")
	require.NoError(t, os.WriteFile(routingPath, []byte(`
routing:
  translate:
    default: test-model
  repair:
    default: test-model
`), 0o644))

	cfgPath := filepath.Join(dir, "run.yaml")
	cfgYAML := fmt.Sprintf(`
input_csv: %s
output_dir: %s
schema_path: %s
routing_path: %s
cache_db_path: %s
trace_path: %s
checkpoint_path: %s
cost_report_path: %s
repair:
  cheap_model: test-model
  strong_model: test-model
`, inputPath, dir, schemaPath, routingPath,
		filepath.Join(dir, "cache.db"), filepath.Join(dir, "trace.jsonl"),
		filepath.Join(dir, "checkpoint.json"), filepath.Join(dir, "cost.md"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	cfg, err := LoadRunConfig(cfgPath)
	require.NoError(t, err)
	return cfg, dir
}

func TestRun_HappyPath_ProducesFinalCSV(t *testing.T) {
	server := chatCompletionServer(t, func(id, text string) string { return text })
	defer server.Close()

	cfg, dir := setupRun(t, "string_id,source_text\ns1,Hello world\n")
	t.Setenv("LLM_BASE_URL", server.URL)
	t.Setenv("LLM_API_KEY", "test-key")

	o, err := New(cfg, nil)
	require.NoError(t, err)
	defer o.Close()

	exitCode, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, exitCode)

	finalBytes, err := os.ReadFile(filepath.Join(dir, finalFileName))
	require.NoError(t, err)
	assert.Contains(t, string(finalBytes), "Hello world")

	_, err = os.Stat(filepath.Join(dir, reviewerFileName))
	assert.True(t, os.IsNotExist(err), "no reviewer csv expected when nothing escalates")
}

func TestRun_UnrepairableRowEscalatesAndExitsQAFailure(t *testing.T) {
	// The server always drops the row's required token, so Hard QA and the
	// repair loop's own validation both fail every round, forcing escalation.
	server := chatCompletionServer(t, func(id, text string) string { return "translation missing its token" })
	defer server.Close()

	cfg, dir := setupRun(t, "string_id,source_text\ns1,Hello {{name}}\n")
	t.Setenv("LLM_BASE_URL", server.URL)
	t.Setenv("LLM_API_KEY", "test-key")

	o, err := New(cfg, nil)
	require.NoError(t, err)
	defer o.Close()

	exitCode, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitQAFailure, exitCode)
	var qaErr *QAFailureError
	require.ErrorAs(t, err, &qaErr)
	assert.Equal(t, 1, qaErr.EscalatedRows)

	reviewerBytes, err := os.ReadFile(filepath.Join(dir, reviewerFileName))
	require.NoError(t, err)
	assert.Contains(t, string(reviewerBytes), "s1")

	_, err = os.Stat(filepath.Join(dir, finalFileName))
	require.NoError(t, err) // final.csv is still written, just without the escalated row
}
