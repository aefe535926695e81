// Package pricing loads the pricing book: per-model token costs (or
// multiplier-billing coefficients) and the billing-mode configuration the
// Cost Aggregator needs to turn recorded token usage into a dollar amount
// (spec.md §3, §4.9, §6).
package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mode selects which of the two billing formulas the Cost Aggregator
// applies (spec.md §4.9). The multiplier formula's conversion-rate
// arithmetic is preserved literally, unnormalized, per an explicit Open
// Question in spec.md §9 — do not "fix" it.
type Mode string

// Recognized billing modes.
const (
	ModePer1M      Mode = "per_1m"
	ModeMultiplier Mode = "multiplier"
)

// ModelPrice holds both representations a model entry may carry; which
// fields are populated depends on Billing.Mode.
type ModelPrice struct {
	// per_1m mode.
	InputPer1M  float64 `yaml:"input_per_1M"`
	OutputPer1M float64 `yaml:"output_per_1M"`

	// multiplier mode. CompletionMult defaults to 1.0 when unset, matching
	// the Python reducer's `price.get("completion_mult") or 1.0`.
	PromptMult     float64 `yaml:"prompt_mult"`
	CompletionMult float64 `yaml:"completion_mult"`
}

// Billing carries the global coefficients the multiplier formula needs,
// and the mode selector shared by both formulas.
type Billing struct {
	Mode Mode `yaml:"mode"`

	// multiplier mode only.
	RechargeRate        map[string]float64 `yaml:"recharge_rate"`
	GroupRate           map[string]float64 `yaml:"group_rate"`
	UserGroupMultiplier float64            `yaml:"user_group_multiplier"`
	TokenDivisor        float64            `yaml:"token_divisor"`
}

// Surcharges are applied on top of either billing formula's base cost.
type Surcharges struct {
	PerRequestUSD float64 `yaml:"per_request_usd"`
	PercentMarkup float64 `yaml:"percent_markup"`
}

type document struct {
	Billing    Billing               `yaml:"billing"`
	Models     map[string]ModelPrice `yaml:"models"`
	Surcharges Surcharges            `yaml:"surcharges"`
}

// Book is a read-only, concurrency-safe pricing book, modeled on the
// teacher's provider-registry pattern (pkg/config's LLM provider and
// chain registries): load once, defensive-copy in, read-only thereafter.
type Book struct {
	billing    Billing
	models     map[string]ModelPrice
	surcharges Surcharges
}

// Load reads a pricing YAML document from path.
func Load(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Book from pricing YAML bytes.
func Parse(data []byte) (*Book, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing pricing YAML: %w", err)
	}
	if doc.Billing.Mode == "" {
		doc.Billing.Mode = ModePer1M
	}
	if doc.Billing.TokenDivisor == 0 {
		doc.Billing.TokenDivisor = 500000
	}
	if doc.Billing.UserGroupMultiplier == 0 {
		doc.Billing.UserGroupMultiplier = 1.0
	}

	models := make(map[string]ModelPrice, len(doc.Models))
	for name, p := range doc.Models {
		if doc.Billing.Mode == ModeMultiplier && p.CompletionMult == 0 {
			p.CompletionMult = 1.0
		}
		models[name] = p
	}

	return &Book{billing: doc.Billing, models: models, surcharges: doc.Surcharges}, nil
}

// Mode returns the configured billing mode.
func (b *Book) Mode() Mode { return b.billing.Mode }

// Billing returns a copy of the global billing coefficients.
func (b *Book) Billing() Billing { return b.billing }

// Surcharges returns a copy of the configured surcharges.
func (b *Book) Surcharges() Surcharges { return b.surcharges }

// Price returns the price entry for model, and whether it was found. A
// missing model is reported by the Cost Aggregator, never invented.
func (b *Book) Price(model string) (ModelPrice, bool) {
	p, ok := b.models[model]
	return p, ok
}

// Models returns the set of model names this book has pricing for.
func (b *Book) Models() []string {
	out := make([]string, 0, len(b.models))
	for name := range b.models {
		out = append(out, name)
	}
	return out
}
