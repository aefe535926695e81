// Package glossary loads and indexes the term list that constrains
// translation prompts. Building the glossary itself — mining terms,
// scoring confidence, promoting community submissions to approved — is an
// external collaborator's job; this package only loads the resulting YAML
// and answers per-row constraint queries (spec.md §1, §4.2).
package glossary

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Status is the review state of a glossary entry. Only Approved and
// Verified entries are eligible to constrain a translation prompt
// (spec.md §3, §4.2); the others are retained for visibility and for a
// future glossary-maintenance collaborator.
type Status string

// Recognized glossary entry statuses.
const (
	StatusApproved  Status = "approved"
	StatusPending   Status = "pending"
	StatusVerified  Status = "verified"
	StatusCommunity Status = "community"
	StatusAuto      Status = "auto"
)

// eligible reports whether entries in this status may constrain a prompt.
func (s Status) eligible() bool {
	return s == StatusApproved || s == StatusVerified
}

// Entry is one glossary term pairing.
type Entry struct {
	TermSource string `yaml:"term_source"`
	TermTarget string `yaml:"term_target"`
	Status     Status `yaml:"status"`
	Priority   int    `yaml:"priority"`
	Notes      string `yaml:"notes,omitempty"`
}

type document struct {
	Entries []Entry `yaml:"entries"`
}

// Index is a read-only, concurrency-safe view over a loaded glossary,
// modeled on the registry pattern used throughout the teacher's
// configuration packages (defensive copy in, RWMutex-guarded reads).
type Index struct {
	mu       sync.RWMutex
	eligible []Entry // approved/verified, sorted by descending priority
	all      []Entry
	digest   string
}

// Load reads a glossary YAML document from path and builds an Index.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading glossary %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds an Index from glossary YAML bytes.
func Parse(data []byte) (*Index, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing glossary YAML: %w", err)
	}
	return NewIndex(doc.Entries), nil
}

// NewIndex builds an Index from entries already in memory.
func NewIndex(entries []Entry) *Index {
	all := make([]Entry, len(entries))
	copy(all, entries)

	var eligible []Entry
	for _, e := range all {
		if e.Status.eligible() {
			eligible = append(eligible, e)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Priority > eligible[j].Priority
	})

	idx := &Index{all: all, eligible: eligible}
	idx.digest = computeDigest(eligible)
	return idx
}

// Digest returns the glossary_digest: a stable SHA-256 hex digest of the
// eligible (approved/verified) entry set, computed once at construction
// time rather than per row (spec.md §4.2 — the digest only needs to
// change when the eligible entry set changes, and per-row recomputation
// would be wasted work repeated identically for every row in a run).
func (idx *Index) Digest() string {
	return idx.digest
}

func computeDigest(eligible []Entry) string {
	keys := make([]string, len(eligible))
	for i, e := range eligible {
		keys[i] = e.TermSource + "\x00" + e.TermTarget
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ConstraintsFor returns the eligible entries whose source term appears as
// a substring of sourceText, highest priority first — the per-row
// constraint subset injected into the translation prompt (spec.md §4.2).
func (idx *Index) ConstraintsFor(sourceText string) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []Entry
	for _, e := range idx.eligible {
		if e.TermSource == "" {
			continue
		}
		if strings.Contains(sourceText, e.TermSource) {
			out = append(out, e)
		}
	}
	return out
}

// All returns a defensive copy of every loaded entry regardless of status,
// for reporting and for a future glossary-maintenance collaborator.
func (idx *Index) All() []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Entry, len(idx.all))
	copy(out, idx.all)
	return out
}

// Len returns the number of eligible (approved/verified) entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.eligible)
}
