package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadUnifiedConfig(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("valid unified config", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "valid.jsonc")
		configJSON := `{
			// Test config
			"server": {
				"address": ":9000",
				"rate_limit": {"requests_per_second": 5, "burst": 10}
			},
			"data": {"dir": "/var/lib/assimilate", "json_logs": true},
			"defaults": {
				"session": {"max_active_runs": 4, "idle_timeout_minutes": 5, "evaluator": "flood"},
				"retention": {"run_days": 7},
				"backup": {"enabled": true, "directory": "backups", "retention": 14, "interval_hours": 12}
			},
			"evaluators": {
				"solver": {"type": "container", "image": "solver:latest", "command": ["solve"], "rate_limit": 2}
			}
		}`
		_ = os.WriteFile(configPath, []byte(configJSON), 0o644)

		cfg, err := LoadUnifiedConfig(configPath)
		if err != nil {
			t.Fatalf("LoadUnifiedConfig() error = %v", err)
		}
		if cfg.Server.Address != ":9000" {
			t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, ":9000")
		}
		if cfg.Server.RateLimit.Burst != 10 {
			t.Errorf("Server.RateLimit.Burst = %d, want %d", cfg.Server.RateLimit.Burst, 10)
		}
		if cfg.Data.Dir != "/var/lib/assimilate" {
			t.Errorf("Data.Dir = %q, want %q", cfg.Data.Dir, "/var/lib/assimilate")
		}
		if cfg.Data.LogDir != "/var/lib/assimilate/logs" {
			t.Errorf("Data.LogDir = %q, want %q", cfg.Data.LogDir, "/var/lib/assimilate/logs")
		}
		if cfg.Data.CasesDir != "/var/lib/assimilate/cases" {
			t.Errorf("Data.CasesDir = %q, want %q", cfg.Data.CasesDir, "/var/lib/assimilate/cases")
		}
		if cfg.Defaults.Session.MaxActiveRuns != 4 {
			t.Errorf("Defaults.Session.MaxActiveRuns = %d, want %d", cfg.Defaults.Session.MaxActiveRuns, 4)
		}
		if cfg.Defaults.Backup.Directory != filepath.Join(tmpDir, "backups") {
			t.Errorf("Defaults.Backup.Directory = %q, want it under %q", cfg.Defaults.Backup.Directory, tmpDir)
		}
		if _, ok := cfg.Evaluators["solver"]; !ok {
			t.Error("Evaluators missing solver")
		}
		if _, ok := cfg.Evaluators[BuiltinFlood]; !ok {
			t.Error("Evaluators missing builtin flood")
		}
	})

	t.Run("JSONC comments are stripped", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "comments.jsonc")
		configJSON := `{
			// Line comment
			"server": {"address": ":8081"},
			/* Block comment */
			"data": {"dir": "runs//here"}
		}`
		_ = os.WriteFile(configPath, []byte(configJSON), 0o644)

		cfg, err := LoadUnifiedConfig(configPath)
		if err != nil {
			t.Fatalf("LoadUnifiedConfig() error = %v", err)
		}
		if cfg.Server.Address != ":8081" {
			t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, ":8081")
		}
		if !strings.HasSuffix(cfg.Data.Dir, filepath.Join("runs", "here")) {
			t.Errorf("Data.Dir = %q, want a path ending in runs/here", cfg.Data.Dir)
		}
	})

	t.Run("applies defaults for missing fields", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "minimal.jsonc")
		_ = os.WriteFile(configPath, []byte(`{}`), 0o644)

		cfg, err := LoadUnifiedConfig(configPath)
		if err != nil {
			t.Fatalf("LoadUnifiedConfig() error = %v", err)
		}
		if cfg.Server.Address != ":8080" {
			t.Errorf("Server.Address = %q, want default %q", cfg.Server.Address, ":8080")
		}
		if cfg.Data.Dir != filepath.Join(tmpDir, "data") {
			t.Errorf("Data.Dir = %q, want default %q", cfg.Data.Dir, filepath.Join(tmpDir, "data"))
		}
		if cfg.Defaults.Session.Evaluator != BuiltinIdentity {
			t.Errorf("Defaults.Session.Evaluator = %q, want default %q", cfg.Defaults.Session.Evaluator, BuiltinIdentity)
		}
		if cfg.Defaults.Retention.RunDays != 30 {
			t.Errorf("Defaults.Retention.RunDays = %d, want default %d", cfg.Defaults.Retention.RunDays, 30)
		}
		if len(cfg.Evaluators) != len(BuiltinEvaluators()) {
			t.Errorf("len(Evaluators) = %d, want %d", len(cfg.Evaluators), len(BuiltinEvaluators()))
		}
	})

	t.Run("invalid JSON returns error", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "invalid.jsonc")
		_ = os.WriteFile(configPath, []byte("not json"), 0o644)

		_, err := LoadUnifiedConfig(configPath)
		if err == nil {
			t.Error("expected error for invalid JSON")
		}
	})
}

func TestStripJSONComments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"line comment", "{\"a\": 1} // trailing\n", "{\"a\": 1} \n"},
		{"block comment", `{/* x */"a": 1}`, `{"a": 1}`},
		{"slashes in string", `{"u": "http://host"}`, `{"u": "http://host"}`},
		{"escaped quote", `{"s": "say \"//hi\""}`, `{"s": "say \"//hi\""}`},
		{"escaped backslash", `{"p": "C:\\"} // c`, `{"p": "C:\\"} `},
		{"unterminated block", `{"a": 1} /* open`, `{"a": 1} `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(StripJSONComments([]byte(tt.input)))
			if got != tt.want {
				t.Errorf("StripJSONComments(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFindConfigPath(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("finds config in specified dir", func(t *testing.T) {
		configDir := filepath.Join(tmpDir, "custom")
		_ = os.MkdirAll(configDir, 0o755)
		_ = os.WriteFile(filepath.Join(configDir, FileName), []byte("{}"), 0o644)

		path, err := FindConfigPath(configDir)
		if err != nil {
			t.Fatalf("FindConfigPath() error = %v", err)
		}
		if filepath.Base(path) != FileName {
			t.Errorf("FindConfigPath() = %q, want %s", path, FileName)
		}
	})

	t.Run("honours ASSIMILATE_HOME", func(t *testing.T) {
		home := filepath.Join(tmpDir, "home")
		_ = os.MkdirAll(home, 0o755)
		_ = os.WriteFile(filepath.Join(home, FileName), []byte("{}"), 0o644)
		t.Setenv(HomeEnv, home)

		path, err := FindConfigPath("")
		if err != nil {
			t.Fatalf("FindConfigPath() error = %v", err)
		}
		if filepath.Dir(path) != home {
			t.Errorf("FindConfigPath() = %q, want it in %q", path, home)
		}
	})

	t.Run("error when config not found", func(t *testing.T) {
		_, err := FindConfigPath(filepath.Join(tmpDir, "nonexistent"))
		if err == nil {
			t.Error("expected error when config not found")
		}
	})
}

func TestLoadAll(t *testing.T) {
	tmpDir := t.TempDir()

	configDir := filepath.Join(tmpDir, "all")
	_ = os.MkdirAll(configDir, 0o755)
	configJSON := `{
		"server": {"address": ":7000"},
		"defaults": {
			"session": {"idle_timeout_minutes": 2, "evaluation_timeout_seconds": 3},
			"retention": {"run_days": 1, "cleanup_interval_hours": 4}
		}
	}`
	_ = os.WriteFile(filepath.Join(configDir, FileName), []byte(configJSON), 0o644)

	cfg, err := LoadAll(configDir)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if cfg.Server.Address != ":7000" {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, ":7000")
	}
	if cfg.ConfigDir != configDir {
		t.Errorf("ConfigDir = %q, want %q", cfg.ConfigDir, configDir)
	}
	if got := cfg.IdleTimeout(); got != 2*time.Minute {
		t.Errorf("IdleTimeout() = %v, want %v", got, 2*time.Minute)
	}
	if got := cfg.EvaluationTimeout(); got != 3*time.Second {
		t.Errorf("EvaluationTimeout() = %v, want %v", got, 3*time.Second)
	}
	if got := cfg.RunRetention(); got != 24*time.Hour {
		t.Errorf("RunRetention() = %v, want %v", got, 24*time.Hour)
	}
	if got := cfg.CleanupInterval(); got != 4*time.Hour {
		t.Errorf("CleanupInterval() = %v, want %v", got, 4*time.Hour)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, ":8080")
	}

	if _, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for an explicit directory without a config file")
	}
}

func TestLoadedConfig_Validate(t *testing.T) {
	valid := func() *LoadedConfig {
		return DefaultUnifiedConfig(t.TempDir()).ToLoadedConfig("")
	}

	t.Run("defaults are valid", func(t *testing.T) {
		if err := valid().Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("unknown default evaluator", func(t *testing.T) {
		cfg := valid()
		cfg.Defaults.Session.Evaluator = "missing"
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for undefined default evaluator")
		}
	})

	t.Run("container evaluator without command", func(t *testing.T) {
		cfg := valid()
		cfg.Evaluators["bad"] = EvaluatorDefinition{Type: EvaluatorContainer, Image: "x"}
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "evaluators.bad") {
			t.Errorf("Validate() error = %v, want one naming evaluators.bad", err)
		}
	})

	t.Run("reserved evaluator name", func(t *testing.T) {
		cfg := valid()
		cfg.Evaluators["remote"] = EvaluatorDefinition{Type: EvaluatorBuiltin, Builtin: BuiltinIdentity}
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for the reserved evaluator name")
		}
	})

	t.Run("bad container reference", func(t *testing.T) {
		def := EvaluatorDefinition{Type: EvaluatorContainer, ContainerID: "x; rm", Command: []string{"run"}}
		if err := def.Validate(); err == nil {
			t.Error("expected error for an unsafe container reference")
		}
	})

	t.Run("unknown evaluator type", func(t *testing.T) {
		def := EvaluatorDefinition{Type: "lambda"}
		if err := def.Validate(); err == nil {
			t.Error("expected error for unknown type")
		}
	})
}

func TestListEvaluators(t *testing.T) {
	infos := ListEvaluators(BuiltinEvaluators())
	if len(infos) != 3 {
		t.Fatalf("len(ListEvaluators()) = %d, want 3", len(infos))
	}
	if infos[0].Name != BuiltinFlood || infos[2].Name != BuiltinLinear {
		t.Errorf("ListEvaluators() order = %v, want sorted by name", infos)
	}
}
