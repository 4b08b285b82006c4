// Package config loads the engine's TOML configuration file and applies
// environment-variable overrides on top of it (spec §6).
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration object, one field per TOML section.
type Config struct {
	Control          ControlConfig          `toml:"control"`
	Logging          LoggingConfig          `toml:"logging"`
	Policy           PolicyConfig           `toml:"policy"`
	Memory           MemoryConfig           `toml:"memory"`
	PromptInject     PromptInjectConfig     `toml:"prompt_inject"`
	Gatekeeper       GatekeeperConfig       `toml:"gatekeeper"`
	CandidateExtract CandidateExtractConfig `toml:"candidate_extract"`
	EventsOut        EventsOutConfig        `toml:"events_out"`
	TUI              TUIConfig              `toml:"tui"`
	StateManagement  StateManagementConfig  `toml:"state_management"`
}

// ControlConfig holds top-level run defaults.
type ControlConfig struct {
	ProjectID      string        `toml:"project_id"`
	DefaultBackend string        `toml:"default_backend"`
	StreamFormat   string        `toml:"stream_format"` // text|jsonl
	MarkerPrefix   string        `toml:"marker_prefix"` // text format's sentinel prefix
	SearchTimeout  time.Duration `toml:"search_timeout"`
	TaskTimeout    time.Duration `toml:"task_timeout"`
	WriteTimeout   time.Duration `toml:"write_timeout"`
	MaxConcurrent  int           `toml:"max_concurrent"`
}

// LoggingConfig controls the process-wide slog handler.
type LoggingConfig struct {
	Level string `toml:"level"` // debug|info|warn|error
}

// PolicyConfig is the runner driver's tool-call allow/deny configuration.
type PolicyConfig struct {
	Allow      []string      `toml:"allow"`
	Deny       []string      `toml:"deny"`
	AskTimeout time.Duration `toml:"ask_timeout"`
}

// MemoryConfig selects and configures the memory facade variant (§4.2).
type MemoryConfig struct {
	Provider      string        `toml:"provider"` // local|service|hybrid
	ServiceURL    string        `toml:"service_url"`
	ServiceAPIKey string        `toml:"service_api_key"`
	LocalPath     string        `toml:"local_path"`
	SyncInterval  time.Duration `toml:"sync_interval"`
}

// PromptInjectConfig configures the retrieval/injection policy (§4.5).
type PromptInjectConfig struct {
	FreshnessFloor           float64 `toml:"freshness_floor"`
	BlockIfConsecutiveFailGE int     `toml:"block_if_consecutive_fail_ge"`
	MinTrustShow             float64 `toml:"min_trust_show"`
	MinLevelInject           int     `toml:"min_level_inject"`
	MinLevelFallback         int     `toml:"min_level_fallback"`
	SkipIfTop1ScoreGE        float64 `toml:"skip_if_top1_score_ge"`
	MaxInject                int     `toml:"max_inject"`
	MaxChars                 int     `toml:"max_chars"`
}

// GatekeeperConfig configures the post-run gatekeeper (§4.6).
type GatekeeperConfig struct {
	MinConfidence     float64 `toml:"min_confidence"`
	StrongTrust       float64 `toml:"strong_trust"`
	MinLevelInject    int     `toml:"min_level_inject"`
	SkipIfTop1ScoreGE float64 `toml:"skip_if_top1_score_ge"`
	TrivialMinLen     int     `toml:"trivial_min_len"`
	TrivialMinEntropy float64 `toml:"trivial_min_entropy"`
}

// CandidateExtractConfig configures the candidate extractor (§4.7).
type CandidateExtractConfig struct {
	MaxAnswerChars  int     `toml:"max_answer_chars"`
	MaxContextChars int     `toml:"max_context_chars"`
	StrictBlock     bool    `toml:"strict_block"`
	MinConfidence   float64 `toml:"min_confidence"`
}

// EventsOutConfig configures where the event log is written (§6).
type EventsOutConfig struct {
	Dir      string `toml:"dir"`
	Filename string `toml:"filename"`
}

// TUIConfig is a contract-only stub for the external terminal UI.
type TUIConfig struct {
	Enabled bool `toml:"enabled"`
}

// StateManagementConfig controls session-state-machine broadcasting (§4.9).
type StateManagementConfig struct {
	Enabled         bool `toml:"enabled"`
	SubscriberQueue int  `toml:"subscriber_queue"`
}

// Default returns the built-in configuration defaults, used when no config
// file is present at either of the two file locations Load checks.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Control: ControlConfig{
			DefaultBackend: "codex",
			StreamFormat:   "jsonl",
			SearchTimeout:  5 * time.Second,
			TaskTimeout:    10 * time.Minute,
			WriteTimeout:   5 * time.Second,
			MaxConcurrent:  4,
		},
		Logging: LoggingConfig{Level: "info"},
		Policy: PolicyConfig{
			AskTimeout: 30 * time.Second,
		},
		Memory: MemoryConfig{
			Provider:     "local",
			LocalPath:    filepath.Join(home, ".memex", "memory.db"),
			SyncInterval: 5 * time.Minute,
		},
		PromptInject: PromptInjectConfig{
			FreshnessFloor:           0.001,
			BlockIfConsecutiveFailGE: 3,
			MinTrustShow:             0.2,
			MinLevelInject:           2,
			MinLevelFallback:         0,
			SkipIfTop1ScoreGE:        0.95,
			MaxInject:                3,
			MaxChars:                 4000,
		},
		Gatekeeper: GatekeeperConfig{
			MinConfidence:     0.45,
			StrongTrust:       0.85,
			MinLevelInject:    2,
			SkipIfTop1ScoreGE: 0.95,
			TrivialMinLen:     40,
			TrivialMinEntropy: 2.0,
		},
		CandidateExtract: CandidateExtractConfig{
			MaxAnswerChars:  4000,
			MaxContextChars: 2000,
			StrictBlock:     false,
			MinConfidence:   0.45,
		},
		EventsOut: EventsOutConfig{
			Dir:      filepath.Join(home, ".memex", "events_out"),
			Filename: "run.events.jsonl",
		},
		TUI:             TUIConfig{Enabled: true},
		StateManagement: StateManagementConfig{Enabled: false, SubscriberQueue: 64},
	}
}

// Load resolves the config file according to the priority chain
// ~/.memex/config.toml > ./config.toml > built-in defaults, then applies
// environment-variable overrides (highest precedence).
func Load() (*Config, error) {
	cfg := Default()

	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join(home, ".memex", "config.toml"),
		"config.toml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		break
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFile loads defaults, overlays the config file at path (which must
// exist), and applies environment overrides. Used when the user names an
// explicit config file on the command line.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides mutates cfg in place with any non-empty recognized
// environment variables (spec §6).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEM_CODECLI_PROJECT_ID"); v != "" {
		cfg.Control.ProjectID = v
	}
	if v := os.Getenv("MEM_CODECLI_MEMORY_URL"); v != "" {
		cfg.Memory.ServiceURL = v
	}
	if v := os.Getenv("MEM_CODECLI_MEMORY_API_KEY"); v != "" {
		cfg.Memory.ServiceAPIKey = v
	}
	if v := os.Getenv("MEMEX_ENABLE_STATE_MGMT"); v != "" {
		cfg.StateManagement.Enabled = v != "false" && v != "0"
	}
}

// Save writes cfg to path as TOML, creating parent directories and using an
// atomic temp-file-then-rename write, matching the teacher's config-file
// durability idiom.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp config: %w", err)
	}
	return nil
}

// ToMap round-trips cfg through the TOML encoder/decoder to produce a nested
// map[string]any, the shape Flatten/Unflatten/MaskSecrets operate on. Used by
// "memex db info" and "memex sync status" to print a redacted config dump.
func ToMap(cfg *Config) (map[string]any, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var m map[string]any
	if _, err := toml.Decode(buf.String(), &m); err != nil {
		return nil, fmt.Errorf("decode config map: %w", err)
	}
	return m, nil
}
