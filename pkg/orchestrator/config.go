package orchestrator

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/repair"
	"github.com/codeready-toolchain/localize-orchestrator/pkg/scheduler"
)

// SchedulerConfig is the YAML-facing mirror of scheduler.RuntimeConfig.
type SchedulerConfig struct {
	WorkerCount      int  `yaml:"worker_count"`
	MaxBatchSize     int  `yaml:"max_batch_size"`
	MaxLongTextBatch int  `yaml:"max_long_text_batch"`
	MaxRetries       int  `yaml:"max_retries"`
	PreserveOrder    bool `yaml:"preserve_order"`
	QueueDepthFactor int  `yaml:"queue_depth_factor"`
}

func (c SchedulerConfig) toRuntimeConfig() scheduler.RuntimeConfig {
	return scheduler.RuntimeConfig{
		WorkerCount:      c.WorkerCount,
		MaxBatchSize:     c.MaxBatchSize,
		MaxLongTextBatch: c.MaxLongTextBatch,
		MaxRetries:       c.MaxRetries,
		PreserveOrder:    c.PreserveOrder,
		QueueDepthFactor: c.QueueDepthFactor,
	}
}

// RepairConfig is the YAML-facing mirror of repair.Config's default round
// ladder: cheap model for rounds 1-2, a stronger model for the final round
// (spec.md §4.8).
type RepairConfig struct {
	MaxRounds   int    `yaml:"max_rounds"`
	CheapModel  string `yaml:"cheap_model" validate:"required"`
	StrongModel string `yaml:"strong_model" validate:"required"`
}

func (c RepairConfig) toRepairConfig() repair.Config {
	cfg := repair.DefaultConfig(c.CheapModel, c.StrongModel)
	if c.MaxRounds > 0 {
		cfg.MaxRounds = c.MaxRounds
	}
	return cfg
}

// RunConfig is the orchestrator's full run configuration: every path,
// tunable, and sub-component setting a single invocation needs. It is the
// Go analogue of the teacher's TarsyYAMLConfig (pkg/config/loader.go),
// narrowed from a long-lived server's agent/chain/mcp registries to one
// batch run's fixed set of inputs.
type RunConfig struct {
	InputCSV              string `yaml:"input_csv" validate:"required"`
	OutputDir             string `yaml:"output_dir" validate:"required"`
	SchemaPath            string `yaml:"schema_path" validate:"required"`
	RoutingPath           string `yaml:"routing_path" validate:"required"`
	GlossaryPath          string `yaml:"glossary_path"`
	PricingPath           string `yaml:"pricing_path"`
	ForbiddenPatternsPath string `yaml:"forbidden_patterns_path"`

	SourceLang string `yaml:"source_lang"`
	Currency   string `yaml:"currency"`

	CacheDBPath       string `yaml:"cache_db_path"`
	CacheTTLSeconds   int    `yaml:"cache_ttl_seconds"`
	CacheMaxSizeBytes int64  `yaml:"cache_max_size_bytes"`

	TracePath      string `yaml:"trace_path"`
	CheckpointPath string `yaml:"checkpoint_path"`
	CostReportPath string `yaml:"cost_report_path"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Repair    RepairConfig    `yaml:"repair"`
}

// DefaultRunConfig returns the built-in defaults every loaded RunConfig is
// merged against, the teacher's Initialize-step-5 "apply defaults"
// equivalent (pkg/config/loader.go).
func DefaultRunConfig() RunConfig {
	return RunConfig{
		OutputDir:         "./out",
		SourceLang:        "zh",
		Currency:          "USD",
		CacheDBPath:       "./out/cache.db",
		CacheTTLSeconds:   30 * 24 * 3600,
		CacheMaxSizeBytes: 512 * 1024 * 1024,
		TracePath:         "./out/trace.jsonl",
		CheckpointPath:    "./out/checkpoint.json",
		CostReportPath:    "./out/cost_report.md",
		Scheduler: SchedulerConfig{
			WorkerCount:      4,
			MaxBatchSize:     20,
			MaxLongTextBatch: 5,
			MaxRetries:       3,
			PreserveOrder:    true,
			QueueDepthFactor: 2,
		},
		Repair: RepairConfig{MaxRounds: 3},
	}
}

// LoadRunConfig reads, env-expands, parses, defaults-merges, and validates
// a run configuration file, following the teacher's config.Initialize
// pipeline shape (pkg/config/loader.go): read bytes, expand environment
// references, unmarshal YAML, merge against built-in defaults, validate.
// Environment expansion uses os.ExpandEnv directly, the teacher's own
// idiom (pkg/config/envexpand.go) — plain ${VAR}/$VAR substitution, not a
// template engine.
func LoadRunConfig(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, &LoadError{File: path, Err: ErrConfigNotFound}
		}
		return RunConfig{}, &LoadError{File: path, Err: err}
	}

	expanded := os.ExpandEnv(string(data))

	var cfg RunConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return RunConfig{}, &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
	}

	if err := mergo.Merge(&cfg, DefaultRunConfig()); err != nil {
		return RunConfig{}, &LoadError{File: path, Err: fmt.Errorf("merging defaults: %w", err)}
	}

	if err := validateRunConfig(cfg); err != nil {
		return RunConfig{}, &LoadError{File: path, Err: err}
	}
	return cfg, nil
}

var structValidator = validator.New()

func validateRunConfig(cfg RunConfig) error {
	if err := structValidator.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s", ErrValidationFailed, (&ValidationError{Field: fe.Namespace(), Err: fmt.Errorf("failed on %q", fe.Tag())}).Error())
		}
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return nil
}
