package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/relaycore/relaycore/cmd/relaycore/commands"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "relaycore",
		Short: "RelayCore gateway CLI",
		Long:  "Serves the RelayCore AI request routing and cost-governance gateway, and administers its rule sets and budgets.",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config directory (default: ./, ./config, /etc/relaycore)")

	rootCmd.AddCommand(commands.NewServeCommand(&configPath))
	rootCmd.AddCommand(commands.NewMigrateCommand(&configPath))
	rootCmd.AddCommand(commands.NewRulesCommand(&configPath))
	rootCmd.AddCommand(commands.NewBudgetCommand(&configPath))

	return rootCmd
}
