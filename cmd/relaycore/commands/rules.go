package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/relaycore/relaycore/internal/config"
	"github.com/relaycore/relaycore/internal/steering"
)

// NewRulesCommand exposes rules validate/reload against the Steering
// Rule Set file (§6 supplement), matching the teacher's read-only admin
// subcommands that check config before deploy rather than mutate a
// running process.
func NewRulesCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate the steering rule set",
	}
	cmd.AddCommand(newRulesValidateCommand())
	cmd.AddCommand(newRulesReloadCommand(configPath))
	return cmd
}

func newRulesValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a rule set file without loading it into a running engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read rule set file: %w", err)
			}
			var file steering.RuleSetFile
			if err := yaml.Unmarshal(raw, &file); err != nil {
				return fmt.Errorf("failed to parse rule set file: %w", err)
			}
			compiled, err := steering.Compile(file)
			if err != nil {
				return fmt.Errorf("rule set invalid: %w", err)
			}
			fmt.Printf("rule set %q version %q valid: %d rules\n", compiled.Name, compiled.Version, len(compiled.Rules))
			return nil
		},
	}
}

// newRulesReloadCommand validates the configured rules file and reminds
// the operator that a running serve process picks up the change via its
// own file watcher (§4.3 "watches for file changes ... swaps in a new
// CompiledRuleSet atomically") rather than needing an out-of-band signal.
func newRulesReloadCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Validate the configured rule set file ahead of a live reload",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			raw, err := os.ReadFile(cfg.Steering.RulesPath)
			if err != nil {
				return fmt.Errorf("failed to read rule set file: %w", err)
			}
			var file steering.RuleSetFile
			if err := yaml.Unmarshal(raw, &file); err != nil {
				return fmt.Errorf("failed to parse rule set file: %w", err)
			}
			if _, err := steering.Compile(file); err != nil {
				return fmt.Errorf("rule set invalid, not reloaded: %w", err)
			}
			fmt.Println("rule set valid; a running serve process watching this path will reload it automatically")
			return nil
		},
	}
}
