package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/HyphaGroup/assimilate/internal/validation"
)

// LoadedConfig holds all configuration loaded from assimilate.jsonc
type LoadedConfig struct {
	Server     ServerSection
	Data       DataSection
	Defaults   DefaultsSection
	Evaluators map[string]EvaluatorDefinition
	ConfigDir  string
	ConfigPath string
}

// DefaultConfigDefaults returns default configuration values
func DefaultConfigDefaults() DefaultsSection {
	return DefaultsSection{
		Session: SessionDefaults{
			MaxActiveRuns:            32,
			IdleTimeoutMinutes:       30,
			EvaluationTimeoutSeconds: 300,
			EventBufferSize:          1000,
			Evaluator:                BuiltinIdentity,
		},
		Retention: RetentionDefaults{
			RunDays:              30,
			CleanupIntervalHours: 6,
		},
		Backup: BackupDefaults{
			Enabled:       false,
			Retention:     7,
			IntervalHours: 24,
		},
	}
}

// ToLoadedConfig flattens the file format into the runtime form.
func (u *UnifiedConfig) ToLoadedConfig(configDir string) *LoadedConfig {
	return &LoadedConfig{
		Server:     u.Server,
		Data:       u.Data,
		Defaults:   u.Defaults,
		Evaluators: u.Evaluators,
		ConfigDir:  configDir,
	}
}

// LoadAll loads configuration from assimilate.jsonc
func LoadAll(configDir string) (*LoadedConfig, error) {
	configPath, err := FindConfigPath(configDir)
	if err != nil {
		return nil, err
	}

	unified, err := LoadUnifiedConfig(configPath)
	if err != nil {
		return nil, err
	}

	loaded := unified.ToLoadedConfig(filepath.Dir(configPath))
	loaded.ConfigPath = configPath
	return loaded, nil
}

// LoadOrDefault behaves like LoadAll but falls back to the built-in defaults,
// rooted at the working directory, when no file is found and none was
// explicitly requested.
func LoadOrDefault(configDir string) (*LoadedConfig, error) {
	loaded, err := LoadAll(configDir)
	if err == nil || configDir != "" {
		return loaded, err
	}
	return DefaultUnifiedConfig(".").ToLoadedConfig("."), nil
}

// IdleTimeout is how long a run may sit without controller activity.
func (c *LoadedConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Defaults.Session.IdleTimeoutMinutes) * time.Minute
}

// EvaluationTimeout bounds one evaluation of a callout.
func (c *LoadedConfig) EvaluationTimeout() time.Duration {
	return time.Duration(c.Defaults.Session.EvaluationTimeoutSeconds) * time.Second
}

// CleanupInterval is the period of the retention sweep.
func (c *LoadedConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Defaults.Retention.CleanupIntervalHours) * time.Hour
}

// RunRetention is the age after which finished runs are pruned.
func (c *LoadedConfig) RunRetention() time.Duration {
	return time.Duration(c.Defaults.Retention.RunDays) * 24 * time.Hour
}

// Evaluator looks up an evaluator definition by name.
func (c *LoadedConfig) Evaluator(name string) (EvaluatorDefinition, bool) {
	def, ok := c.Evaluators[name]
	return def, ok
}

// Validate checks that the configuration is usable
func (c *LoadedConfig) Validate() error {
	var errs []error
	if c.Defaults.Session.MaxActiveRuns < 1 {
		errs = append(errs, fmt.Errorf("defaults.session.max_active_runs must be at least 1"))
	}
	if c.Defaults.Session.EvaluationTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("defaults.session.evaluation_timeout_seconds must not be negative"))
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit.requests_per_second must not be negative"))
	}
	if _, ok := c.Evaluators[c.Defaults.Session.Evaluator]; !ok {
		errs = append(errs, fmt.Errorf("defaults.session.evaluator %q is not defined", c.Defaults.Session.Evaluator))
	}
	for name, def := range c.Evaluators {
		if err := validation.ValidateEvaluatorName(name); err != nil {
			errs = append(errs, fmt.Errorf("evaluators: %w", err))
			continue
		}
		if err := def.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("evaluators.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
