package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the name of the configuration file searched for on disk.
const FileName = "assimilate.jsonc"

// HomeEnv names a directory that overrides the search path.
const HomeEnv = "ASSIMILATE_HOME"

// UnifiedConfig is the single configuration file format for assimilate.jsonc
type UnifiedConfig struct {
	Server     ServerSection                  `json:"server"`
	Data       DataSection                    `json:"data"`
	Defaults   DefaultsSection                `json:"defaults"`
	Evaluators map[string]EvaluatorDefinition `json:"evaluators"`
}

// ServerSection contains server configuration
type ServerSection struct {
	Address   string          `json:"address"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// RateLimitConfig bounds requests per client address on the HTTP surface.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// DataSection says where runs, schedules, logs and backups live.
type DataSection struct {
	Dir      string `json:"dir"`
	CasesDir string `json:"cases_dir"`
	LogDir   string `json:"log_dir"`
	JSONLogs bool   `json:"json_logs"`
}

// DefaultsSection contains default settings for runs and housekeeping
type DefaultsSection struct {
	Session   SessionDefaults   `json:"session"`
	Retention RetentionDefaults `json:"retention"`
	Backup    BackupDefaults    `json:"backup"`
}

// SessionDefaults bound the runs a server keeps in memory.
type SessionDefaults struct {
	MaxActiveRuns            int    `json:"max_active_runs"`
	IdleTimeoutMinutes       int    `json:"idle_timeout_minutes"`
	EvaluationTimeoutSeconds int    `json:"evaluation_timeout_seconds"`
	EventBufferSize          int    `json:"event_buffer_size"`
	Evaluator                string `json:"evaluator"`
}

// RetentionDefaults control pruning of finished runs.
type RetentionDefaults struct {
	RunDays              int `json:"run_days"`
	CleanupIntervalHours int `json:"cleanup_interval_hours"`
}

// BackupDefaults contains backup configuration
type BackupDefaults struct {
	Enabled       bool   `json:"enabled"`
	Directory     string `json:"directory"`
	Retention     int    `json:"retention"`
	IntervalHours int    `json:"interval_hours"`
}

// FindConfigPath returns the path to assimilate.jsonc using precedence:
// 1. configDir + /assimilate.jsonc (if configDir specified)
// 2. $ASSIMILATE_HOME/assimilate.jsonc
// 3. ./config/assimilate.jsonc (project-local)
// 4. ~/.assimilate/config/assimilate.jsonc (user global)
func FindConfigPath(configDir string) (string, error) {
	if configDir != "" {
		path := filepath.Join(configDir, FileName)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%s not found in %s", FileName, configDir)
		}
		return absolute(path), nil
	}

	var candidates []string
	if home := os.Getenv(HomeEnv); home != "" {
		candidates = append(candidates, filepath.Join(home, FileName))
	}
	candidates = append(candidates, filepath.Join("config", FileName))
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".assimilate", "config", FileName))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return absolute(path), nil
		}
	}

	return "", fmt.Errorf("%s not found; tried: %v", FileName, candidates)
}

func absolute(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// LoadUnifiedConfig loads configuration from a single assimilate.jsonc file
func LoadUnifiedConfig(configPath string) (*UnifiedConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	var cfg UnifiedConfig
	if err := json.Unmarshal(StripJSONComments(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyUnifiedDefaults(&cfg, filepath.Dir(configPath))
	return &cfg, nil
}

// DefaultUnifiedConfig is the configuration used when no file exists.
// Relative directories resolve against baseDir.
func DefaultUnifiedConfig(baseDir string) *UnifiedConfig {
	cfg := &UnifiedConfig{}
	applyUnifiedDefaults(cfg, baseDir)
	return cfg
}

func applyUnifiedDefaults(cfg *UnifiedConfig, baseDir string) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.RateLimit.RequestsPerSecond == 0 {
		cfg.Server.RateLimit.RequestsPerSecond = 20
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = 40
	}

	if cfg.Data.Dir == "" {
		cfg.Data.Dir = "data"
	}
	if !filepath.IsAbs(cfg.Data.Dir) {
		cfg.Data.Dir = filepath.Join(baseDir, cfg.Data.Dir)
	}
	if cfg.Data.CasesDir == "" {
		cfg.Data.CasesDir = filepath.Join(cfg.Data.Dir, "cases")
	} else if !filepath.IsAbs(cfg.Data.CasesDir) {
		cfg.Data.CasesDir = filepath.Join(baseDir, cfg.Data.CasesDir)
	}
	if cfg.Data.LogDir == "" {
		cfg.Data.LogDir = filepath.Join(cfg.Data.Dir, "logs")
	} else if !filepath.IsAbs(cfg.Data.LogDir) {
		cfg.Data.LogDir = filepath.Join(baseDir, cfg.Data.LogDir)
	}

	d := DefaultConfigDefaults()
	s := &cfg.Defaults.Session
	if s.MaxActiveRuns == 0 {
		s.MaxActiveRuns = d.Session.MaxActiveRuns
	}
	if s.IdleTimeoutMinutes == 0 {
		s.IdleTimeoutMinutes = d.Session.IdleTimeoutMinutes
	}
	if s.EvaluationTimeoutSeconds == 0 {
		s.EvaluationTimeoutSeconds = d.Session.EvaluationTimeoutSeconds
	}
	if s.EventBufferSize == 0 {
		s.EventBufferSize = d.Session.EventBufferSize
	}
	if s.Evaluator == "" {
		s.Evaluator = d.Session.Evaluator
	}

	r := &cfg.Defaults.Retention
	if r.RunDays == 0 {
		r.RunDays = d.Retention.RunDays
	}
	if r.CleanupIntervalHours == 0 {
		r.CleanupIntervalHours = d.Retention.CleanupIntervalHours
	}

	b := &cfg.Defaults.Backup
	if b.Directory == "" {
		b.Directory = filepath.Join(cfg.Data.Dir, "backups")
	} else if !filepath.IsAbs(b.Directory) {
		b.Directory = filepath.Join(baseDir, b.Directory)
	}
	if b.Retention == 0 {
		b.Retention = d.Backup.Retention
	}
	if b.IntervalHours == 0 {
		b.IntervalHours = d.Backup.IntervalHours
	}

	if cfg.Evaluators == nil {
		cfg.Evaluators = make(map[string]EvaluatorDefinition)
	}
	for name, def := range BuiltinEvaluators() {
		if _, ok := cfg.Evaluators[name]; !ok {
			cfg.Evaluators[name] = def
		}
	}
}
