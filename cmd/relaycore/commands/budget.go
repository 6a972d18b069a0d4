package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relaycore/relaycore/internal/budgetregistry"
	"github.com/relaycore/relaycore/internal/budgettracker"
	"github.com/relaycore/relaycore/internal/config"
	"github.com/relaycore/relaycore/internal/store"
)

// NewBudgetCommand mirrors the teacher's cmd/pllm/commands/budget.go
// shape (a "budget" parent with operator-facing subcommands backed by
// direct database access).
func NewBudgetCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage Budget Definitions",
	}
	cmd.AddCommand(newBudgetResetAlertsCommand(configPath))
	return cmd
}

func newBudgetResetAlertsCommand(configPath *string) *cobra.Command {
	var budgetID string
	var all bool

	cmd := &cobra.Command{
		Use:   "reset-alerts",
		Short: "Clear unresolved alert suppression so thresholds can fire again",
		RunE: func(cmd *cobra.Command, args []string) error {
			if budgetID == "" && !all {
				return fmt.Errorf("either --budget-id or --all is required")
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			db, err := store.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}

			registry := budgetregistry.New(db)
			tracker := budgettracker.New(db, registry, cfg.Budget.StatusFreshness)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if all {
				due, err := registry.ListDueForRollover(ctx, time.Now().UTC())
				if err != nil {
					return fmt.Errorf("failed to list due budgets: %w", err)
				}
				for _, def := range due {
					if err := tracker.ResetAlerts(ctx, def.ID); err != nil {
						return fmt.Errorf("failed to reset alerts for budget %s: %w", def.ID, err)
					}
					fmt.Printf("reset alerts for budget %s\n", def.ID)
				}
				return nil
			}

			id, err := uuid.Parse(budgetID)
			if err != nil {
				return fmt.Errorf("invalid --budget-id: %w", err)
			}
			if err := tracker.ResetAlerts(ctx, id); err != nil {
				return fmt.Errorf("failed to reset alerts: %w", err)
			}
			fmt.Printf("reset alerts for budget %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&budgetID, "budget-id", "", "budget definition id")
	cmd.Flags().BoolVar(&all, "all", false, "reset alerts for every recurring budget due for rollover")

	return cmd
}
