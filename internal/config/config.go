// Package config implements the engine's typed, YAML-backed configuration
// tree. Every tunable is reachable by a dotted path ("decay.max_age_days")
// for both reads and writes, and every tunable is enumerated in a static
// reference table (see reference.go) so operators can discover what
// exists without reading source.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"openpalace/internal/logging"
)

// Config is the root configuration document, persisted as a single YAML
// file at <store>/config.
type Config struct {
	Summarizer    SummarizerConfig    `yaml:"summarizer"`
	LLM           LLMConfig           `yaml:"llm"`
	MemoryIngest  MemoryIngestConfig  `yaml:"memory_ingest"`
	Decay         DecayConfig         `yaml:"decay"`
	Validation    ValidationConfig    `yaml:"validation"`
	WorkspaceSync WorkspaceSyncConfig `yaml:"workspace_sync"`
	Search        SearchConfig        `yaml:"search"`
	Onboarding    OnboardingConfig    `yaml:"onboarding"`
}

// SummarizerConfig tunes the digest/synthesis/review pipeline (spec §4.11).
type SummarizerConfig struct {
	Enabled               bool `yaml:"enabled"`
	DigestIntervalHours   int  `yaml:"digest_interval_hours"`
	SynthesisIntervalDays int  `yaml:"synthesis_interval_days"`
	ReviewIntervalDays    int  `yaml:"review_interval_days"`
}

// LLMConfig selects and parameterizes the language-model caller (spec §4.16).
type LLMConfig struct {
	Mode        string `yaml:"mode"` // auto | sampling | direct
	Provider    string `yaml:"provider"` // genai | http
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	MaxTokens   int    `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSec  int    `yaml:"timeout_seconds"`
}

// MemoryIngestConfig governs the scheduled ingest system (spec §2, §6 "system" family).
type MemoryIngestConfig struct {
	Enabled     bool     `yaml:"enabled"`
	WatchPaths  []string `yaml:"watch_paths"`
	SourceLabel string   `yaml:"source_label"`
}

// DecayConfig tunes the archival engine (spec §4.12).
type DecayConfig struct {
	MaxAgeDays       int      `yaml:"max_age_days"`
	DefaultThreshold int      `yaml:"default_threshold"`
	PinnedEntries    []string `yaml:"pinned_entries"`
	ExcludedScopes   []string `yaml:"excluded_scopes"`
}

// ValidationConfig tunes the write validator (spec §4.10).
type ValidationConfig struct {
	AutoValidateDecisions bool `yaml:"auto_validate_decisions"`
	MaxRecentEntries      int  `yaml:"max_recent_entries"`
}

// WorkspaceSyncConfig tunes host-workspace mirroring (spec §4.13).
type WorkspaceSyncConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Path                string   `yaml:"path"`
	Watch               bool     `yaml:"watch"`
	WatchedFiles        []string `yaml:"watched_files"`
	PrimaryIdentityFile string   `yaml:"primary_identity_file"`
	PrimaryEntityID     string   `yaml:"primary_entity_id"`
}

// SearchConfig tunes the search router (spec §4.9).
type SearchConfig struct {
	Backend           string `yaml:"backend"` // auto | simple | bm25 | external
	AutoReindex       bool   `yaml:"auto_reindex"`
	ReindexDebounceMs int    `yaml:"reindex_debounce_ms"`
	ExternalCommand   string `yaml:"external_command"`
}

// OnboardingConfig tracks first-run onboarding state.
type OnboardingConfig struct {
	Completed  bool     `yaml:"completed"`
	SkipAgents []string `yaml:"skip_agents"`
}

// Default returns the engine's default configuration tree. Every field
// here must have a matching row in Reference (reference.go).
func Default() *Config {
	return &Config{
		Summarizer: SummarizerConfig{
			Enabled:               true,
			DigestIntervalHours:   24,
			SynthesisIntervalDays: 7,
			ReviewIntervalDays:    30,
		},
		LLM: LLMConfig{
			Mode:        "auto",
			Provider:    "genai",
			Model:       "gemini-2.0-flash",
			BaseURL:     "",
			APIKeyEnv:   "GEMINI_API_KEY",
			MaxTokens:   2048,
			Temperature: 0.3,
			TimeoutSec:  30,
		},
		MemoryIngest: MemoryIngestConfig{
			Enabled:     false,
			WatchPaths:  nil,
			SourceLabel: "ingest:watch",
		},
		Decay: DecayConfig{
			MaxAgeDays:       30,
			DefaultThreshold: 20,
			PinnedEntries:    nil,
			ExcludedScopes:   nil,
		},
		Validation: ValidationConfig{
			AutoValidateDecisions: true,
			MaxRecentEntries:      20,
		},
		WorkspaceSync: WorkspaceSyncConfig{
			Enabled:             true,
			Path:                "",
			Watch:               false,
			WatchedFiles:        []string{"AGENTS.md", "CLAUDE.md"},
			PrimaryIdentityFile: "CLAUDE.md",
			PrimaryEntityID:     "",
		},
		Search: SearchConfig{
			Backend:           "auto",
			AutoReindex:       true,
			ReindexDebounceMs: 2000,
			ExternalCommand:   "rg",
		},
		Onboarding: OnboardingConfig{
			Completed:  false,
			SkipAgents: nil,
		},
	}
}

// Load reads the config document at path, populating defaults for any
// file that does not yet exist (and persisting them), mirroring the
// "defaults populated on first run" invariant of spec.md §3.
func Load(path string) (*Config, error) {
	log := logging.Get(logging.CategoryConfig)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("no config at %s, writing defaults", path)
			cfg := Default()
			if err := cfg.Save(path); err != nil {
				return nil, fmt.Errorf("config: writing defaults: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	log.Debug("config loaded from %s", path)
	return cfg, nil
}

// Save persists the config document to path as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: creating directory %s: %w", dir, err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// Get reads the value at a dotted path (e.g. "decay.max_age_days") by
// walking the yaml-tagged struct tree and returns it boxed as interface{}.
func (c *Config) Get(path string) (interface{}, error) {
	v := reflect.ValueOf(c).Elem()
	field, err := walk(v, strings.Split(path, "."))
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set writes value at a dotted path, preserving every sibling field, per
// spec.md §3's "dotted-path writes preserve siblings" invariant. value may
// be a string (coerced to the field's type) or an already-typed Go value.
func (c *Config) Set(path string, value interface{}) error {
	v := reflect.ValueOf(c).Elem()
	field, err := walk(v, strings.Split(path, "."))
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("config: path %q is not settable", path)
	}
	return assign(field, value)
}

func walk(v reflect.Value, segments []string) (reflect.Value, error) {
	if len(segments) == 0 {
		return v, nil
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("config: cannot descend into non-struct at %q", segments[0])
	}
	seg := segments[0]
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("yaml")
		tag = strings.Split(tag, ",")[0]
		if tag == seg {
			return walk(v.Field(i), segments[1:])
		}
	}
	return reflect.Value{}, fmt.Errorf("config: unknown path segment %q", seg)
}

func assign(field reflect.Value, value interface{}) error {
	// Already the right dynamic type: assign directly when assignable.
	rv := reflect.ValueOf(value)
	if rv.IsValid() && rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}

	s, isString := value.(string)

	switch field.Kind() {
	case reflect.String:
		if isString {
			field.SetString(s)
			return nil
		}
	case reflect.Bool:
		if isString {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("config: %q is not a bool: %w", s, err)
			}
			field.SetBool(b)
			return nil
		}
		if b, ok := value.(bool); ok {
			field.SetBool(b)
			return nil
		}
	case reflect.Int, reflect.Int32, reflect.Int64:
		if isString {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("config: %q is not an int: %w", s, err)
			}
			field.SetInt(n)
			return nil
		}
		if n, ok := toInt64(value); ok {
			field.SetInt(n)
			return nil
		}
	case reflect.Float32, reflect.Float64:
		if isString {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("config: %q is not a float: %w", s, err)
			}
			field.SetFloat(f)
			return nil
		}
		if f, ok := toFloat64(value); ok {
			field.SetFloat(f)
			return nil
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			if ss, ok := value.([]string); ok {
				field.Set(reflect.ValueOf(ss))
				return nil
			}
			if anys, ok := value.([]interface{}); ok {
				out := make([]string, 0, len(anys))
				for _, a := range anys {
					out = append(out, fmt.Sprintf("%v", a))
				}
				field.Set(reflect.ValueOf(out))
				return nil
			}
			if isString {
				field.Set(reflect.ValueOf([]string{s}))
				return nil
			}
		}
	}
	return fmt.Errorf("config: cannot assign value %v (%T) to field of kind %s", value, value, field.Kind())
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
