package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaycore/relaycore/internal/config"
	"github.com/relaycore/relaycore/internal/store"
)

// NewMigrateCommand runs gorm AutoMigrate against the persisted schema
// (§6 supplement), for use in deploy pipelines ahead of starting serve.
func NewMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			db, err := store.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			if err := store.Migrate(db); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("migrations applied")
			return nil
		},
	}
}
