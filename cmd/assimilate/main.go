// Command assimilate runs data assimilation cases locally or serves them
// over MCP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HyphaGroup/assimilate/internal/config"
	"github.com/HyphaGroup/assimilate/internal/container"
	"github.com/HyphaGroup/assimilate/internal/container/docker"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

var configDir string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "assimilate",
		Short: "Data assimilation runs with pluggable evaluators",
		Long: `Assimilate estimates a state from a background and observations by
calling an observation operator through an evaluator: a builtin function,
a command in a container, or an MCP client answering callouts itself.

Config Precedence:
  1. --dir flag
  2. ASSIMILATE_HOME env var
  3. ./config/assimilate.jsonc
  4. ~/.assimilate/config/assimilate.jsonc
  5. built-in defaults rooted at the working directory`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configDir, "dir", "", "directory holding assimilate.jsonc")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newValidateCmd(),
		newRenderCmd(),
		newSchemaCmd(),
		newRunsCmd(),
		newEvaluatorsCmd(),
		newBackupCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "assimilate %s\n", Version)
		},
	}
}

// loadConfig resolves and validates the configuration for a command.
func loadConfig() (*config.LoadedConfig, error) {
	cfg, err := config.LoadOrDefault(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// openRuntime connects to Docker when a container evaluator is configured.
// It returns nil otherwise.
func openRuntime(cfg *config.LoadedConfig) (container.Runtime, error) {
	needed := false
	for _, def := range cfg.Evaluators {
		if def.Type == config.EvaluatorContainer {
			needed = true
			break
		}
	}
	if !needed {
		return nil, nil
	}
	rt, err := docker.NewRuntime()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Docker runtime: %w", err)
	}
	return rt, nil
}
