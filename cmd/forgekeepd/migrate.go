package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/modrinth/forgekeep/config"
	"github.com/modrinth/forgekeep/storage/postgres"
)

func commandMigrate() *cobra.Command {
	return &cobra.Command{
		Use:     "migrate [flags] [config file]",
		Short:   "Apply the credential store schema",
		Example: "forgekeepd migrate config.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			return runMigrate(args[0])
		},
	}
}

func runMigrate(configPath string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("invalid config: storage.dsn must be set")
	}

	db, err := sql.Open("postgres", c.Storage.DSN)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(postgres.Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	fmt.Println("schema applied")
	return nil
}
