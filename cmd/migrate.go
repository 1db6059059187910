package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/event-photos/internal/database/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply the embedded schema migrations to the database in DATABASE_URL.

"serve" and "worker" migrate on startup as well; this command is useful
to prepare the schema before rolling out new processes.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pool, applied, err := postgres.Open(context.Background(), &cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if len(applied) == 0 {
		fmt.Println("Database schema is up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Printf("Applied %s\n", name)
	}
	fmt.Printf("Applied %d migrations\n", len(applied))
	return nil
}
