package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SaveCheckpoint writes cp to path atomically: encode to a temp file in
// the same directory, fsync, then rename over the destination. A crash
// mid-write leaves the previous checkpoint intact rather than a
// half-written file (spec.md §5).
func SaveCheckpoint(path string, cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp checkpoint file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsyncing temp checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming checkpoint into place: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint from path. A missing file is not an
// error: it simply means there is nothing to resume from.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %s: %w", path, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

// FilterDone removes rows whose StringID already appears in doneIDs,
// implementing resume: a resumed run re-reads the whole input but skips
// everything the checkpoint already completed (spec.md §4.5, §8 —
// resume idempotence must cost zero additional LLM calls for done rows).
func FilterDone(ids []string, doneIDs []string) []string {
	done := make(map[string]bool, len(doneIDs))
	for _, id := range doneIDs {
		done[id] = true
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !done[id] {
			out = append(out, id)
		}
	}
	return out
}
